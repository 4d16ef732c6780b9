package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"SessionBench/internal/chain"
	"SessionBench/internal/config"
	"SessionBench/internal/fixture"
	"SessionBench/internal/identity"
	"SessionBench/internal/logger"
)

func newFixtureCmd(global *globalFlags) *cobra.Command {
	var (
		size    int
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Build one corpus and print its fingerprint",
		Long: `Enroll a corpus of --size records on a clean ledger and print the
corpus fingerprint and ledger digest. With --out the ledger is written as a
compressed snapshot that the snapshot command can restore. With
--storage-path the ledger lives in its fixture subdirectory, rebuilt on every run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}

			return buildFixture(cfg, size, outPath, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&size, "size", 100,
		"Number of records to enroll")
	flags.StringVar(&outPath, "out", "",
		"Write a ledger snapshot to this file")

	return cmd
}

// buildFixture builds a corpus of size records and prints its identity.
func buildFixture(cfg *config.Config, size int, outPath string, out io.Writer) error {
	gen, err := identity.NewGenerator([]byte(cfg.Seed))
	if err != nil {
		return fmt.Errorf("create identity generator:\n%w", err)
	}

	chainCfg, err := ledgerConfig(cfg, "fixture")
	if err != nil {
		return err
	}

	rt, err := chain.Open(chainCfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	builder := fixture.NewBuilder(gen, rt.Staking, rt.Session, cfg.FixtureConfig())

	start := time.Now()
	corpus, err := builder.Build(size)
	if err != nil {
		return fmt.Errorf("build corpus:\n%w", err)
	}

	logger.Info("corpus built", "size", corpus.Len(), "stake", builder.Stake(), logger.Timed(start))

	digest, err := rt.Digest()
	if err != nil {
		return fmt.Errorf("digest ledger:\n%w", err)
	}

	fmt.Fprintf(out, "records      %d\n", corpus.Len())
	fmt.Fprintf(out, "stake        %d\n", builder.Stake())
	fmt.Fprintf(out, "fingerprint  %x\n", corpus.Fingerprint())
	fmt.Fprintf(out, "digest       %x\n", digest)

	if outPath == "" {
		return nil
	}

	data, info, err := rt.Snapshot()
	if err != nil {
		return fmt.Errorf("create snapshot:\n%w", err)
	}

	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	fmt.Fprintf(out, "snapshot     %s (%d entries, %d -> %d bytes)\n",
		outPath, info.Entries, info.RawSize, info.Compressed)

	return nil
}

func newSnapshotCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <file>",
		Short: "Restore a ledger snapshot and print its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}

			return inspectSnapshot(cfg, args[0], cmd.OutOrStdout())
		},
	}
}

// inspectSnapshot restores the snapshot at path and prints a summary of the ledger.
func inspectSnapshot(cfg *config.Config, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	chainCfg, err := ledgerConfig(cfg, "restore")
	if err != nil {
		return err
	}

	rt, err := chain.Restore(chainCfg, data)
	if err != nil {
		return err
	}
	defer rt.Close()

	participants, err := rt.Staking.Count()
	if err != nil {
		return fmt.Errorf("count participants:\n%w", err)
	}

	validators, err := rt.Session.Validators()
	if err != nil {
		return fmt.Errorf("list validators:\n%w", err)
	}

	remaining, err := rt.Staking.RemainingIssuance()
	if err != nil {
		return fmt.Errorf("read issuance:\n%w", err)
	}

	digest, err := rt.Digest()
	if err != nil {
		return fmt.Errorf("digest ledger:\n%w", err)
	}

	fmt.Fprintf(out, "participants %d\n", participants)
	fmt.Fprintf(out, "validators   %d\n", len(validators))
	fmt.Fprintf(out, "issuance     %d remaining\n", remaining)
	fmt.Fprintf(out, "digest       %x\n", digest)

	return nil
}

// ledgerConfig returns the chain config with an on-disk ledger moved to the
// subdirectory name of the storage path, cleared so every run starts empty.
func ledgerConfig(cfg *config.Config, name string) (chain.Config, error) {
	chainCfg := cfg.ChainConfig()
	if chainCfg.Path == "" {
		return chainCfg, nil
	}

	dir := filepath.Join(chainCfg.Path, name)
	if err := os.RemoveAll(dir); err != nil {
		return chain.Config{}, fmt.Errorf("clear %s:\n%w", dir, err)
	}
	chainCfg.Path = dir

	return chainCfg, nil
}
