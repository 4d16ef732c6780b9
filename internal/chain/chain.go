// Package chain wires storage, the staking ledger and the session module into
// one in-process runtime. A runtime is opened per size point and closed after.
package chain

import (
	"fmt"

	"SessionBench/internal/logger"
	"SessionBench/internal/session"
	"SessionBench/internal/snapshot"
	"SessionBench/internal/staking"
	"SessionBench/internal/storage"
)

// Config holds runtime configuration.
type Config struct {
	Path    string         // Path is the Pebble directory; empty opens an in-memory store
	Staking staking.Params // Staking holds the ledger's economic limits
}

// Runtime is an opened ledger with its collaborators.
type Runtime struct {
	cfg     Config
	db      *storage.Storage
	Staking *staking.Ledger // Staking is the bonding ledger
	Session *session.Module // Session is the session membership subsystem
}

// Open opens the store described by cfg and wires the collaborators over it.
func Open(cfg Config) (*Runtime, error) {
	db, err := openStorage(cfg.Path)
	if err != nil {
		return nil, err
	}

	rt, err := wire(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("runtime opened",
		"in_memory", db.InMemory(),
		"min_bond", cfg.Staking.MinBond,
	)

	return rt, nil
}

// Restore opens a store from cfg, loads a snapshot into it and wires the collaborators.
// The store must be empty. The issuance record comes from the snapshot.
func Restore(cfg Config, data []byte) (*Runtime, error) {
	db, err := openStorage(cfg.Path)
	if err != nil {
		return nil, err
	}

	info, err := snapshot.Restore(db, data)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("restore snapshot:\n%w", err)
	}

	rt, err := wire(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("runtime restored", "entries", info.Entries)

	return rt, nil
}

// Digest returns the content digest of the whole ledger.
func (r *Runtime) Digest() ([32]byte, error) {
	return snapshot.Digest(r.db)
}

// Snapshot serializes the whole ledger.
func (r *Runtime) Snapshot() ([]byte, snapshot.Info, error) {
	return snapshot.Create(r.db)
}

// Config returns the configuration the runtime was opened with.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Close releases the underlying store. In-memory contents are discarded.
func (r *Runtime) Close() error {
	return r.db.Close()
}

// openStorage opens an on-disk store at path, or an in-memory one if path is empty.
func openStorage(path string) (*storage.Storage, error) {
	if path == "" {
		db, err := storage.NewMemory()
		if err != nil {
			return nil, fmt.Errorf("open memory storage:\n%w", err)
		}
		return db, nil
	}

	db, err := storage.New(path)
	if err != nil {
		return nil, fmt.Errorf("open storage %s:\n%w", path, err)
	}

	return db, nil
}

// wire builds the collaborators over db.
func wire(cfg Config, db *storage.Storage) (*Runtime, error) {
	ledger, err := staking.New(db, cfg.Staking)
	if err != nil {
		return nil, fmt.Errorf("open staking ledger:\n%w", err)
	}

	return &Runtime{
		cfg:     cfg,
		db:      db,
		Staking: ledger,
		Session: session.New(db, ledger),
	}, nil
}
