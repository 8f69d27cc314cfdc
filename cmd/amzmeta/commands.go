package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ha1tch/amzmeta/pkg/config"
	"github.com/ha1tch/amzmeta/pkg/loader"
	"github.com/ha1tch/amzmeta/pkg/report"
	"github.com/ha1tch/amzmeta/pkg/server"
	"github.com/ha1tch/amzmeta/pkg/storage"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the five tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateSchema(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info().Msg("Schema ready")
			return nil
		},
	}
}

type loadOptions struct {
	file            string
	batchSize       int
	queueSize       int
	skipConstraints bool
}

func newLoadCmd(a *app) *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Create the schema, load a metadata file and apply constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("file") {
				a.cfg.DataFile = opts.file
			}
			if flags.Changed("batch-size") {
				a.cfg.BatchSize = opts.batchSize
			}
			if flags.Changed("queue-size") {
				a.cfg.QueueSize = opts.queueSize
			}
			return runLoad(cmd, a, opts.skipConstraints)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Metadata file to load (env DATA_FILE)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", loader.BatchSize, "Records per transaction (env BATCH_SIZE)")
	cmd.Flags().IntVar(&opts.queueSize, "queue-size", loader.DefaultQueueSize, "Parsed records buffered ahead of insertion (env QUEUE_SIZE)")
	cmd.Flags().BoolVar(&opts.skipConstraints, "skip-constraints", false, "Leave the schema unconstrained after loading")

	return cmd
}

func runLoad(cmd *cobra.Command, a *app, skipConstraints bool) error {
	ctx := cmd.Context()

	f, err := os.Open(a.cfg.DataFile)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	a.logger.Info().
		Str("file", a.cfg.DataFile).
		Int("batch_size", a.cfg.BatchSize).
		Msg("Loading products")

	l := loader.New(store, a.logger,
		loader.WithBatchSize(a.cfg.BatchSize),
		loader.WithQueueSize(a.cfg.QueueSize),
	)

	stats, err := loader.Run(ctx, l, f, loader.RunOptions{SkipConstraints: skipConstraints})
	if err != nil {
		if errors.Is(err, loader.ErrDataQuality) {
			a.logger.Error().
				Int64("missing_asin", stats.MissingASIN).
				Msg("Constraints not applied; remove products without ASIN and run constrain")
		}
		return err
	}

	a.logger.Info().
		Int64("records", stats.Records).
		Int("commits", stats.Commits).
		Int("lines", stats.Lines).
		Int64("issues", stats.Issues).
		Dur("elapsed", stats.Elapsed).
		Msg("Load complete")

	if err := logTableCounts(cmd, a, store); err != nil {
		return err
	}

	// Shared caches may hold results computed before this load
	if a.cfg.CacheType == "redis" {
		c := a.openCache()
		defer c.Close()
		if err := report.NewReporter(store, c, 0, a.logger).Invalidate(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to invalidate report cache")
		}
	}

	return nil
}

func logTableCounts(cmd *cobra.Command, a *app, store storage.Store) error {
	counts, err := store.TableCounts(cmd.Context())
	if err != nil {
		return err
	}

	event := a.logger.Info()
	for _, table := range storage.Tables {
		event = event.Int64(table, counts[table])
	}
	event.Msg("Table counts")
	return nil
}

func newConstrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "constrain",
		Short: "Apply NOT NULL and foreign key constraints to a loaded database",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ApplyConstraints(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info().Msg("Constraints applied")
			return nil
		},
	}
}

type queryOptions struct {
	report int
	asin   string
}

func newQueryCmd(a *app) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run reports interactively, or one report with --report",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			c := a.openCache()
			defer c.Close()

			reporter := report.NewReporter(store, c, time.Duration(a.cfg.CacheTTL)*time.Second, a.logger)

			if opts.report == 0 {
				return report.NewSession(reporter, cmd.InOrStdin(), cmd.OutOrStdout()).Run(cmd.Context())
			}

			res, err := reporter.Run(cmd.Context(), opts.report, opts.asin)
			if err != nil {
				return err
			}
			return report.Render(cmd.OutOrStdout(), res.Query.Title, res.Table)
		},
	}

	cmd.Flags().IntVar(&opts.report, "report", 0, "Report number to run once (1-7); interactive menu when 0")
	cmd.Flags().StringVar(&opts.asin, "asin", "", "Product ASIN for reports 1-3")

	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reports over a read-only HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			printBanner(cmd.OutOrStdout(), a.cfg)

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			c := a.openCache()
			defer c.Close()

			reporter := report.NewReporter(store, c, time.Duration(a.cfg.CacheTTL)*time.Second, a.logger)
			srv := server.New(a.cfg, store, reporter, a.logger)

			a.logger.Info().Msg("Server ready to accept requests")
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 9090, "Listen port (env PORT)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and registered stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "amzmeta %s (stores: %s)\n", config.Version, strings.Join(storage.ListStores(), ", "))
			return nil
		},
	}
}
