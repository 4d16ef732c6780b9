package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"SessionBench/internal/chain"
	"SessionBench/internal/fixture"
)

// Env is one clean ledger a size point runs against.
type Env struct {
	Staking    fixture.Staking          // Staking is the bonding ledger
	Membership fixture.Membership       // Membership is the session membership subsystem
	Digest     func() ([32]byte, error) // Digest hashes the whole ledger; nil disables steady-state checks
	Close      func() error             // Close discards the ledger
}

// EnvFactory opens a fresh, empty Env.
type EnvFactory func() (*Env, error)

// ChainEnv returns a factory opening a new chain runtime per call.
// With an empty cfg.Path every call gets its own in-memory store. Otherwise
// each call uses a new directory under cfg.Path, removed again on Close.
func ChainEnv(cfg chain.Config) EnvFactory {
	opened := 0

	return func() (*Env, error) {
		pointCfg := cfg
		dir := ""

		if cfg.Path != "" {
			dir = filepath.Join(cfg.Path, fmt.Sprintf("point-%03d", opened))
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clear %s:\n%w", dir, err)
			}
			pointCfg.Path = dir
		}
		opened++

		rt, err := chain.Open(pointCfg)
		if err != nil {
			return nil, err
		}

		return &Env{
			Staking:    rt.Staking,
			Membership: rt.Session,
			Digest:     rt.Digest,
			Close: func() error {
				if err := rt.Close(); err != nil {
					return err
				}
				if dir == "" {
					return nil
				}
				return os.RemoveAll(dir)
			},
		}, nil
	}
}
