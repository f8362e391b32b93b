package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dermodel/internal/catalog"
	"dermodel/internal/config"
	"dermodel/internal/database"
	"dermodel/internal/logger"
	"dermodel/internal/papers"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd(viper.New()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// options is the resolved run configuration.
type options struct {
	DatabaseURL   string
	APIKey        string
	SearchURL     string
	Checkpoint    string
	BatchSize     int
	PerIngredient int
	Delay         time.Duration
	Env           string
	LogLevel      string
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "populate-papers",
		Short: "Fetch research papers for every catalog ingredient",
		Long: `Search Semantic Scholar for papers about each ingredient in the catalog
and store them in the papers table.

Progress is checkpointed so the command can be stopped with Ctrl-C and
resumed later. Every flag can also be set through a DERMODEL_ environment
variable, e.g. DERMODEL_BATCH_SIZE=50.

The API key is read from DERMODEL_S2_API_KEY or SEMANTIC_SCHOLAR_API_KEY.

Examples:
  populate-papers
  populate-papers --checkpoint ./state/papers.json --delay 1s`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.String("database-url", "", "PostgreSQL connection URL (default $DATABASE_URL)")
	flags.String("search-url", papers.DefaultSearchURL, "Semantic Scholar paper search endpoint")
	flags.String("checkpoint", "checkpoint.json", "checkpoint file path")
	flags.Int("batch-size", papers.DefaultBatchSize, "ingredients between inserts and checkpoints")
	flags.Int("per-ingredient", papers.DefaultPerIngredient, "papers fetched per ingredient")
	flags.Duration("delay", papers.DefaultRequestDelay, "delay between search requests")
	flags.String("env", "development", "logging environment (development, staging, production)")
	flags.String("log-level", "info", "log level")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("DERMODEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database-url", "DERMODEL_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("s2-api-key", "DERMODEL_S2_API_KEY", "SEMANTIC_SCHOLAR_API_KEY")

	return cmd
}

func loadOptions(v *viper.Viper) (*options, error) {
	opts := &options{
		DatabaseURL:   v.GetString("database-url"),
		APIKey:        v.GetString("s2-api-key"),
		SearchURL:     v.GetString("search-url"),
		Checkpoint:    v.GetString("checkpoint"),
		BatchSize:     v.GetInt("batch-size"),
		PerIngredient: v.GetInt("per-ingredient"),
		Delay:         v.GetDuration("delay"),
		Env:           v.GetString("env"),
		LogLevel:      v.GetString("log-level"),
	}

	if opts.DatabaseURL == "" {
		return nil, fmt.Errorf("missing database URL: set --database-url or DATABASE_URL")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d: must be positive", opts.BatchSize)
	}
	if opts.PerIngredient <= 0 || opts.PerIngredient > 100 {
		return nil, fmt.Errorf("invalid per-ingredient %d: must be between 1 and 100", opts.PerIngredient)
	}
	return opts, nil
}

func run(ctx context.Context, opts *options) error {
	log, err := logger.New(opts.Env, opts.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, config.DatabaseConfig{
		URL:             opts.DatabaseURL,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 300,
	})
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if opts.APIKey == "" {
		log.Warn("no Semantic Scholar API key set, expect stricter rate limits")
	}

	client := papers.NewClient(papers.ClientConfig{
		SearchURL: opts.SearchURL,
		APIKey:    opts.APIKey,
		Logger:    log,
	})
	store := catalog.NewManager(catalog.NewDatastore(db.DB))

	populator := papers.NewPopulator(store, client, papers.Options{
		CheckpointPath: opts.Checkpoint,
		BatchSize:      opts.BatchSize,
		PerIngredient:  opts.PerIngredient,
		RequestDelay:   opts.Delay,
	}, log)

	summary, err := populator.Run(ctx)
	if err != nil {
		log.Error("paper population failed", zap.Error(err))
		return err
	}

	log.Info("paper population finished",
		zap.Int("processed", summary.Processed),
		zap.Int("remaining", summary.Remaining),
		zap.Int("papers_found", summary.PapersFound),
		zap.Int("papers_inserted", summary.PapersInserted),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return nil
}
