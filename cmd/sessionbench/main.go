// Package main provides the sessionbench CLI, which measures how session
// membership operations scale with the number of registered validators.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"SessionBench/internal/config"
	"SessionBench/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	var global globalFlags

	root := &cobra.Command{
		Use:   "sessionbench",
		Short: "Session membership cost benchmark",
		Long: `Sessionbench enrolls a deterministic corpus of validators on an
in-process staking ledger, then times session key registration and purging
against it at increasing corpus sizes and fits a linear cost model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	def := config.Default()

	flags := root.PersistentFlags()
	flags.StringVar(&global.configPath, "config", "",
		"YAML configuration file")
	flags.String("log-level", def.Log.Level,
		"Log level: debug, info, warn, error")
	flags.String("seed", def.Seed,
		"Identity derivation seed")
	flags.String("storage-path", def.Storage.Path,
		"Pebble base directory (empty = in-memory)")
	flags.Uint64("min-bond", def.Staking.MinBond,
		"Minimum bond accepted by the staking ledger")
	flags.Uint64("issuance", def.Staking.Issuance,
		"Total stake available to the corpus")
	flags.Uint64("stake-margin", def.Staking.StakeMargin,
		"Amount bonded above the minimum by every record")
	flags.Uint32("commission", def.Staking.Commission,
		"Validator commission in parts per billion")

	root.AddCommand(
		newRunCmd(&global),
		newFixtureCmd(&global),
		newIdentityCmd(&global),
		newSnapshotCmd(&global),
	)

	return root
}

// flagKeys maps CLI flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":           "log.level",
	"seed":                "seed",
	"storage-path":        "storage.path",
	"min-bond":            "staking.min_bond",
	"issuance":            "staking.issuance",
	"stake-margin":        "staking.stake_margin",
	"commission":          "staking.commission",
	"sizes":               "sizes",
	"trials":              "trials",
	"operations":          "operations",
	"verify-steady-state": "verify_steady_state",
	"metrics-path":        "metrics.path",
	"format":              "output.format",
	"include-samples":     "output.include_samples",
}

// loadConfig layers the config file, the environment and the flags the user
// set explicitly, then installs the logger.
func loadConfig(cmd *cobra.Command, global *globalFlags) (*config.Config, error) {
	overrides := make(map[string]any)

	var lookupErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}

		value, err := flagValue(cmd.Flags(), f)
		if err != nil {
			lookupErr = err
			return
		}

		overrides[key] = value
	})

	if lookupErr != nil {
		return nil, lookupErr
	}

	cfg, err := config.Load(global.configPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	logger.Init(level, os.Stderr)

	return cfg, nil
}

// flagValue returns a typed flag value. Scalars are passed as strings and
// converted when the config is decoded.
func flagValue(flags *pflag.FlagSet, f *pflag.Flag) (any, error) {
	switch f.Value.Type() {
	case "intSlice":
		return flags.GetIntSlice(f.Name)
	case "stringSlice":
		return flags.GetStringSlice(f.Name)
	case "bool":
		return strconv.ParseBool(f.Value.String())
	default:
		return f.Value.String(), nil
	}
}
