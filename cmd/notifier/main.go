package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bcpea_notifier/internal/aggregator"
	"bcpea_notifier/internal/config"
	"bcpea_notifier/internal/fetcher"
	"bcpea_notifier/internal/notify"
	"bcpea_notifier/internal/scheduler"
	"bcpea_notifier/internal/storage"
)

var flagConfigDir string

var rootCmd = &cobra.Command{
	Use:           "notifier",
	Short:         "Auction listing notifier for sales.bcpea.org",
	Long:          "notifier matches BCPEA auction listings against subscriber filter groups and mails a summary of the matches.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory containing config.yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.SQLite
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}

	var paths []string
	if flagConfigDir != "" {
		paths = append(paths, flagConfigDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

func setup() (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	return &app{cfg: cfg, log: log, store: store}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close database", "error", err)
	}
}

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	f, err := fetcher.New(http.DefaultClient, a.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	f.SetTimeouts(a.cfg.ListTimeout, a.cfg.DetailTimeout)

	agg := aggregator.New(a.store, f, aggregator.Options{
		Regions:  a.cfg.Courts,
		MaxPages: a.cfg.MaxPages,
	}, a.log)

	notifiers, err := a.notifiers()
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(agg, a.log, notifiers...)
	sched.SetTickInterval(a.cfg.Interval)
	sched.SetRunTimeout(a.cfg.RunTimeout)
	return sched, nil
}

// notifiers builds the configured delivery channels. Brevo takes precedence
// over SMTP when both are configured.
func (a *app) notifiers() ([]notify.Notifier, error) {
	var out []notify.Notifier

	switch {
	case a.cfg.BrevoKey() != "":
		p := notify.NewBrevoProvider(a.cfg.BrevoKey(), a.cfg.Sender.Email, a.cfg.Sender.Name, a.log)
		out = append(out, notify.NewEmailNotifier(p, a.log))
		a.log.Info("email channel enabled", "provider", "brevo")
	case a.cfg.SMTP.Host != "":
		p := notify.NewSMTPProvider(notify.SMTPConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTPPassword(),
			FromAddr: a.cfg.Sender.Email,
			FromName: a.cfg.Sender.Name,
		}, a.log)
		out = append(out, notify.NewEmailNotifier(p, a.log))
		a.log.Info("email channel enabled", "provider", "smtp", "host", a.cfg.SMTP.Host)
	default:
		a.log.Warn("no email provider configured")
	}

	if token := a.cfg.TelegramToken(); token != "" {
		tg, err := notify.NewTelegramNotifier(token, a.cfg.TelegramChats, a.log)
		if err != nil {
			return nil, fmt.Errorf("create telegram notifier: %w", err)
		}
		out = append(out, tg)
		a.log.Info("telegram channel enabled", "chats", len(a.cfg.TelegramChats))
	}

	return out, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
