// Package config loads the notifier configuration from defaults, an optional
// config.yaml and BCPEA_ environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	appName   = "bcpea-notifier"
	envPrefix = "BCPEA"
)

// SenderIdentity is the From address of summary emails.
type SenderIdentity struct {
	Email string
	Name  string
}

// SMTP holds the relay settings. PasswordEnv names the environment variable
// holding the password.
type SMTP struct {
	Host        string
	Port        int
	Username    string
	PasswordEnv string
}

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	BaseURL      string

	Sender SenderIdentity
	SMTP   SMTP

	BrevoKeyEnv      string
	TelegramTokenEnv string
	// TelegramChats maps subscriber emails to Telegram chat ids.
	TelegramChats map[string]int64

	// Courts maps court codes to region names.
	Courts map[int]string

	ListTimeout   time.Duration
	DetailTimeout time.Duration
	MaxPages      int

	Interval   time.Duration
	RunTimeout time.Duration

	ListenAddr    string
	AdminTokenEnv string
}

// DefaultCourts returns the court codes known to the auction site.
func DefaultCourts() map[int]string {
	return map[int]string{
		0: "All Courts", 1: "Благоевград", 2: "Бургас", 3: "Варна", 4: "Велико Търново",
		5: "Видин", 6: "Враца", 7: "Габрово", 8: "Добрич", 9: "Кърджали",
		10: "Кюстендил", 11: "Ловеч", 12: "Монтана", 13: "Пазарджик",
		14: "Перник", 15: "Плевен", 16: "Пловдив", 17: "Разград",
		18: "Русе", 19: "Силистра", 20: "Сливен", 21: "Смолян",
		22: "София град", 23: "София окръг", 24: "Стара Загора",
		25: "Търговище", 26: "Хасково", 27: "Шумен", 28: "Ямбол",
	}
}

// SearchPaths returns the directories searched for config.yaml.
func SearchPaths() []string {
	return []string{".", filepath.Join(xdg.ConfigHome, appName)}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "./data/bcpea.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("base_url", "https://sales.bcpea.org")

	v.SetDefault("sender.email", "")
	v.SetDefault("sender.name", "BCPEA Notifier")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password_env", "BCPEA_SMTP_PASSWORD")

	v.SetDefault("brevo.api_key_env", "BCPEA_BREVO_API_KEY")

	v.SetDefault("telegram.token_env", "BCPEA_TELEGRAM_TOKEN")
	v.SetDefault("telegram.chats", []string{})

	v.SetDefault("fetch.list_timeout", 10*time.Second)
	v.SetDefault("fetch.detail_timeout", 5*time.Second)
	v.SetDefault("fetch.max_pages", 50)

	v.SetDefault("schedule.interval", 24*time.Hour)
	v.SetDefault("schedule.run_timeout", 20*time.Minute)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.admin_token_env", "BCPEA_ADMIN_TOKEN")
}

// Load reads the configuration. config.yaml is looked up in paths, or in
// SearchPaths when none are given; a missing file is not an error.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = SearchPaths()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	chats, err := parseChats(v.GetStringSlice("telegram.chats"))
	if err != nil {
		return nil, err
	}
	courts, err := mergeCourts(v.GetStringMapString("courts"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabasePath: v.GetString("database_path"),
		LogLevel:     strings.ToLower(v.GetString("log_level")),
		BaseURL:      strings.TrimRight(v.GetString("base_url"), "/"),
		Sender: SenderIdentity{
			Email: v.GetString("sender.email"),
			Name:  v.GetString("sender.name"),
		},
		SMTP: SMTP{
			Host:        v.GetString("smtp.host"),
			Port:        v.GetInt("smtp.port"),
			Username:    v.GetString("smtp.username"),
			PasswordEnv: v.GetString("smtp.password_env"),
		},
		BrevoKeyEnv:      v.GetString("brevo.api_key_env"),
		TelegramTokenEnv: v.GetString("telegram.token_env"),
		TelegramChats:    chats,
		Courts:           courts,
		ListTimeout:      v.GetDuration("fetch.list_timeout"),
		DetailTimeout:    v.GetDuration("fetch.detail_timeout"),
		MaxPages:         v.GetInt("fetch.max_pages"),
		Interval:         v.GetDuration("schedule.interval"),
		RunTimeout:       v.GetDuration("schedule.run_timeout"),
		ListenAddr:       v.GetString("server.listen_addr"),
		AdminTokenEnv:    v.GetString("server.admin_token_env"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base url %q must be absolute", c.BaseURL)
	}

	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive, got %d", c.MaxPages)
	}
	for name, d := range map[string]time.Duration{
		"list timeout":   c.ListTimeout,
		"detail timeout": c.DetailTimeout,
		"interval":       c.Interval,
		"run timeout":    c.RunTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.SMTP.Host != "" && (c.SMTP.Port <= 0 || c.SMTP.Port > 65535) {
		return fmt.Errorf("invalid smtp port %d", c.SMTP.Port)
	}
	if (c.SMTP.Host != "" || c.BrevoKey() != "") && c.Sender.Email == "" {
		return errors.New("sender email is required when an email provider is configured")
	}
	return nil
}

// Secret resolves a credential reference: the name of an environment variable.
func Secret(ref string) string {
	if ref == "" {
		return ""
	}
	return os.Getenv(ref)
}

// SMTPPassword returns the SMTP password.
func (c *Config) SMTPPassword() string { return Secret(c.SMTP.PasswordEnv) }

// BrevoKey returns the Brevo API key.
func (c *Config) BrevoKey() string { return Secret(c.BrevoKeyEnv) }

// TelegramToken returns the Telegram bot token.
func (c *Config) TelegramToken() string { return Secret(c.TelegramTokenEnv) }

// AdminToken returns the bearer token guarding the admin trigger.
func (c *Config) AdminToken() string { return Secret(c.AdminTokenEnv) }

// parseChats reads "email=chat_id" entries. An entry may hold several
// comma-separated pairs, which is how they arrive from the environment.
func parseChats(entries []string) (map[string]int64, error) {
	chats := make(map[string]int64)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			email, id, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid telegram chat %q: want email=chat_id", pair)
			}
			chatID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid chat id %q for %s: %w", id, email, err)
			}
			chats[strings.ToLower(strings.TrimSpace(email))] = chatID
		}
	}
	return chats, nil
}

func mergeCourts(overrides map[string]string) (map[int]string, error) {
	courts := DefaultCourts()
	for k, name := range overrides {
		code, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid court code %q: %w", k, err)
		}
		courts[code] = name
	}
	return courts, nil
}
