package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"SessionBench/internal/config"
	"SessionBench/internal/costmodel"
	"SessionBench/internal/identity"
	"SessionBench/internal/logger"
	"SessionBench/internal/metrics"
	"SessionBench/internal/scenario"
)

func newRunCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark session key operations across corpus sizes",
		Long: `Build a fresh corpus for every configured size, time each configured
operation against it and print the fitted cost model.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}

			return runBenchmark(cfg, cmd.OutOrStdout())
		},
	}

	def := config.Default()

	flags := cmd.Flags()
	flags.IntSlice("sizes", def.Sizes,
		"Corpus sizes to benchmark, in order")
	flags.Int("trials", def.Trials,
		"Timed trials per corpus size")
	flags.StringSlice("operations", def.Operations,
		"Operations to benchmark: register_keys, purge_keys")
	flags.Bool("verify-steady-state", def.VerifySteadyState,
		"Check the ledger digest is unchanged after every trial")
	flags.String("metrics-path", def.Metrics.Path,
		"Write Prometheus metrics to this textfile")
	flags.String("format", def.Output.Format,
		"Report format: table, json")
	flags.Bool("include-samples", def.Output.IncludeSamples,
		"Include every raw sample in the JSON report")

	return cmd
}

// runBenchmark runs every configured operation and writes the report to out.
func runBenchmark(cfg *config.Config, out io.Writer) error {
	kinds, err := cfg.Kinds()
	if err != nil {
		return err
	}

	gen, err := identity.NewGenerator([]byte(cfg.Seed))
	if err != nil {
		return fmt.Errorf("create identity generator:\n%w", err)
	}

	recorder := metrics.NewRecorder()
	driver := scenario.NewDriver(
		gen,
		scenario.ChainEnv(cfg.ChainConfig()),
		cfg.FixtureConfig(),
		scenario.WithObserver(recorder),
	)

	logger.Info("starting benchmark",
		"operations", cfg.Operations,
		"sizes", cfg.Sizes,
		"trials", cfg.Trials,
		"in_memory", cfg.Storage.Path == "",
	)

	start := time.Now()
	plan := cfg.Plan()

	var samples []scenario.Sample
	for _, kind := range kinds {
		s, err := driver.Run(kind, plan)
		if err != nil {
			return fmt.Errorf("run %s:\n%w", kind, err)
		}

		samples = append(samples, s...)
	}

	logger.Info("benchmark complete", "samples", len(samples), logger.Timed(start))

	if cfg.Metrics.Path != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Path); err != nil {
			return err
		}
	}

	report, err := costmodel.NewReport(cfg.Seed, samples)
	if errors.Is(err, costmodel.ErrUnderdetermined) {
		logger.Warn("cost model skipped", "reason", err)
		report = costmodel.NewSummary(cfg.Seed, samples)
	} else if err != nil {
		return fmt.Errorf("fit cost model:\n%w", err)
	}

	return writeReport(cfg, report, out)
}

// writeReport writes report in the configured format.
func writeReport(cfg *config.Config, report *costmodel.Report, out io.Writer) error {
	if cfg.Output.Format == config.FormatJSON {
		if !cfg.Output.IncludeSamples {
			report.Samples = nil
		}

		if err := report.WriteJSON(out); err != nil {
			return fmt.Errorf("write JSON report:\n%w", err)
		}

		return nil
	}

	if err := report.WriteTable(out); err != nil {
		return fmt.Errorf("write report:\n%w", err)
	}

	return nil
}
