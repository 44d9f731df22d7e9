package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bubu-agent/bubu/internal/biz"
	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/conf"
	"github.com/bubu-agent/bubu/internal/data"
	"github.com/bubu-agent/bubu/internal/logger"
	"github.com/bubu-agent/bubu/internal/service"
)

var (
	envFile    string
	prettyLogs bool
	rootCmd    = &cobra.Command{
		Use:           "bubu",
		Short:         "Scheduled WhatsApp messages, three times a day",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "human readable console logs")

	rootCmd.AddCommand(
		newRunCmd(),
		newPlanCmd(),
		newPreviewCmd(),
		newSendNowCmd(),
		newSendCustomCmd(),
		newDryRunCmd(),
		newRecentCmd(),
		newCleanupCmd(),
		newSongsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything a command needs
type app struct {
	cfg        *conf.Config
	log        zerolog.Logger
	repos      *data.Repositories
	messenger  repo.Messenger
	dispatcher *service.Dispatcher
}

// loadConfig reads .env and the environment, then sets up logging
func loadConfig() (*conf.Config, zerolog.Logger, error) {
	if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	log := logger.New("bubu", logger.Options{Level: os.Getenv("LOG_LEVEL"), Pretty: prettyLogs, Out: os.Stderr})
	zlog.Logger = log

	cfg, err := conf.Load()
	if err != nil {
		return nil, log, err
	}
	log = log.Level(logger.ParseLevel(cfg.Settings.LogLevel))
	zlog.Logger = log
	return cfg, log, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := cfg.Settings

	repos, err := data.NewRepositories(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	messenger, err := data.NewMessenger(s, log)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	schedule, err := cfg.Content.ToSchedule()
	if err != nil {
		_ = repos.Close()
		return nil, err
	}
	uc := biz.NewUsecases(biz.Repos{
		Ledger:    repos.Ledger,
		Generator: repos.Generator,
		Catalog:   repos.Catalog,
		Encoder:   repos.Encoder,
		Reranker:  repos.Reranker,
	}, biz.Config{
		Schedule:    schedule,
		Location:    cfg.Location,
		Composer:    cfg.Content.ToComposerConfig(s.RecipientName, s.Tone),
		Songs:       cfg.Content.ToSongConfig(),
		Recommender: cfg.Content.ToRecommenderConfig(),
	}, log)

	dispatcher, err := newDispatcher(cfg, uc, repos.Ledger, messenger, log)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		log:        log,
		repos:      repos,
		messenger:  messenger,
		dispatcher: dispatcher,
	}, nil
}

func newDispatcher(cfg *conf.Config, uc *biz.Usecases, ledger repo.Ledger, messenger repo.Messenger, log zerolog.Logger) (*service.Dispatcher, error) {
	skipDates, err := cfg.Settings.SkipDateSet()
	if err != nil {
		return nil, err
	}
	weekday, err := cfg.Content.CleanupWeekday()
	if err != nil {
		return nil, err
	}

	dcfg := service.DefaultDispatcherConfig
	dcfg.Recipient = cfg.Settings.RecipientNumber
	dcfg.Enabled = cfg.Settings.Enabled
	dcfg.SkipDates = skipDates
	dcfg.PlanAt = cfg.Content.PlanTime()
	dcfg.CleanupWeekday = weekday
	dcfg.CleanupAt = cfg.Content.CleanupTime()
	dcfg.RetentionDays = cfg.Content.Schedule.Cleanup.RetentionDays

	return service.NewDispatcher(uc.Clock, uc.Composer, ledger, messenger, dcfg, log), nil
}

func (a *app) Close() {
	if err := a.repos.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close repositories")
	}
}

// withApp builds the app, runs fn and releases it
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
