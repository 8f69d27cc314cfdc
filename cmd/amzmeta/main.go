package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ha1tch/amzmeta/pkg/cache"
	"github.com/ha1tch/amzmeta/pkg/config"
	"github.com/ha1tch/amzmeta/pkg/storage"
)

// app carries what every subcommand needs once flags are resolved
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	envFile string
	flags   struct {
		dbType string
		dbPath string
		dsn    string
		debug  bool
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:    config.Default(),
		logger: newLogger(os.Stdout, config.Default()),
	}

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "amzmeta",
		Short:         "Load the Amazon product co-purchasing metadata into SQL and report on it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Optional dotenv file read before the environment")
	root.PersistentFlags().StringVar(&a.flags.dbType, "db-type", "", "Store type: sqlite or postgres (env DB_TYPE)")
	root.PersistentFlags().StringVar(&a.flags.dbPath, "db-path", "", "SQLite database file (env DB_PATH)")
	root.PersistentFlags().StringVar(&a.flags.dsn, "dsn", "", "Postgres connection URL (env DATABASE_URL)")
	root.PersistentFlags().BoolVar(&a.flags.debug, "debug", false, "Enable debug logging (env DEBUG)")

	root.AddCommand(
		newSchemaCmd(a),
		newLoadCmd(a),
		newConstrainCmd(a),
		newQueryCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)

	return root
}

// configure resolves configuration: defaults, then dotenv and environment,
// then explicit flags
func (a *app) configure(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	config.LoadFromEnv(a.cfg)

	flags := cmd.Flags()
	if flags.Changed("db-type") {
		a.cfg.DBType = a.flags.dbType
	}
	if flags.Changed("db-path") {
		a.cfg.DBPath = a.flags.dbPath
	}
	if flags.Changed("dsn") {
		a.cfg.DatabaseURL = a.flags.dsn
	}
	if flags.Changed("debug") {
		a.cfg.Debug = a.flags.debug
	}

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	a.logger = newLogger(os.Stdout, a.cfg)
	return nil
}

// newLogger builds the process logger: human readable console output
// unless LOG_FORMAT=json
func newLogger(out io.Writer, cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Logger().
		Level(level)

	if cfg.LogFormat == "json" {
		return logger
	}
	return logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
}

// openStore opens the configured store and logs what it connected to
func (a *app) openStore() (storage.Store, error) {
	store, err := storage.NewStore(a.cfg.DBType, a.cfg.StoreConfig())
	if err != nil {
		return nil, err
	}

	if infoProvider, ok := store.(storage.InfoProvider); ok {
		info := infoProvider.Info()
		a.logger.Info().
			Str("type", info.Type).
			Str("version", info.Version).
			Str("target", info.DSN).
			Msg("Storage initialized")
	}
	return store, nil
}

// openCache builds the report cache, falling back to memory when Redis
// is unreachable
func (a *app) openCache() cache.Cache {
	ttl := time.Duration(a.cfg.CacheTTL) * time.Second

	switch a.cfg.CacheType {
	case "none":
		a.logger.Info().Msg("Report cache disabled")
		return cache.Noop{}
	case "redis":
		redisCache, err := cache.NewRedisCache(a.cfg.RedisAddr(), ttl)
		if err == nil {
			a.logger.Info().Str("addr", a.cfg.RedisAddr()).Msg("Using Redis cache")
			return redisCache
		}
		a.logger.Warn().Err(err).Msg("Failed to connect to Redis, falling back to memory cache")
	}

	a.logger.Info().Msg("Using in-memory cache")
	return cache.NewMemoryCache(a.cfg.CacheSize, ttl)
}

func printBanner(w io.Writer, cfg *config.Config) {
	// Light blue color code
	lightBlue := "\033[1;36m"
	reset := "\033[0m"

	fmt.Fprint(w, lightBlue)
	fmt.Fprintln(w, "//////////////////////////////////////////////")
	fmt.Fprintln(w, "//..........................................//")
	fmt.Fprintln(w, "//....a.m.z.m.e.t.a.........................//")
	fmt.Fprintln(w, "//..........................................//")
	fmt.Fprintln(w, "//////////////////////////////////////////////")
	fmt.Fprint(w, reset)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "//////////////////////////// amzmeta "+config.Version+" /////////////////////////////")
	fmt.Fprintln(w, "----------------------------------------------------------------------")
	fmt.Fprintln(w, "Server Configuration:")
	fmt.Fprintf(w, "  Host: %s\n", cfg.Host)
	fmt.Fprintf(w, "  Port: %d\n", cfg.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Storage Configuration:")
	fmt.Fprintf(w, "  Type: %s\n", cfg.DBType)
	if cfg.DBType == "postgres" {
		fmt.Fprintf(w, "  Target: %s\n", storage.RedactDSN(cfg.PostgresDSN()))
	} else {
		fmt.Fprintf(w, "  Path: %s\n", cfg.DBPath)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Cache Configuration:")
	fmt.Fprintf(w, "  Type: %s\n", cfg.CacheType)
	fmt.Fprintf(w, "  TTL: %d seconds\n", cfg.CacheTTL)
	if cfg.CacheType == "redis" {
		fmt.Fprintf(w, "  Redis: %s\n", cfg.RedisAddr())
	}
	fmt.Fprintln(w, "----------------------------------------------------------------------")
	fmt.Fprintln(w)
}
