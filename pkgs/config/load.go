package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// envConfig is the flat .env layout. TEMP_MAIL=null switches from the
// disposable inbox to the mail server named by IMAP_PROTOCOL.
type envConfig struct {
	Account string `env:"ACCOUNT" env-description:"address the code is sent to"`

	TempMail     string `env:"TEMP_MAIL" env-description:"disposable inbox name, or null to use IMAP/POP3"`
	TempMailEPin string `env:"TEMP_MAIL_EPIN" env-description:"disposable inbox PIN"`
	TempMailExt  string `env:"TEMP_MAIL_EXT" env-description:"disposable inbox domain suffix, e.g. @mailto.plus"`
	TempMailURL  string `env:"TEMP_MAIL_URL" env-description:"disposable-mail API base URL"`

	IMAPServer   string `env:"IMAP_SERVER" env-description:"mail server host"`
	IMAPPort     int    `env:"IMAP_PORT" env-description:"mail server port"`
	IMAPUser     string `env:"IMAP_USER" env-description:"mail server login"`
	IMAPPass     string `env:"IMAP_PASS" env-description:"mail server password"`
	IMAPDir      string `env:"IMAP_DIR" env-default:"INBOX" env-description:"IMAP mailbox folder (POP3 has none)"`
	IMAPProtocol string `env:"IMAP_PROTOCOL" env-default:"POP3" env-description:"IMAP or POP3"`
	POP3Sender   string `env:"POP3_SENDER" env-description:"sender address POP3 candidates must match"`

	RetryMaxAttempts int      `env:"RETRY_MAX_ATTEMPTS" env-default:"5" env-description:"outer retry attempts"`
	RetryInterval    Duration `env:"RETRY_INTERVAL" env-default:"60s" env-description:"delay between outer attempts"`

	ArchiveMbox       string `env:"ARCHIVE_MBOX" env-description:"append matched messages to this mbox file"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL" env-description:"post fetched codes to this Discord webhook"`
	LogLevel          string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	LogFormat         string `env:"LOG_FORMAT" env-default:"pretty" env-description:"pretty, json or text"`
}

func (e *envConfig) toConfig() *Config {
	cfg := &Config{
		Account: e.Account,
		Retry: RetryConfig{
			MaxAttempts: e.RetryMaxAttempts,
			Interval:    e.RetryInterval,
		},
		Archive: ArchiveConfig{Mbox: e.ArchiveMbox},
		Notify:  NotifyConfig{DiscordWebhookURL: e.DiscordWebhookURL},
		Log:     LogConfig{Level: e.LogLevel, Format: e.LogFormat},
	}

	if isSet(e.TempMail) {
		cfg.TempMail = TempMailConfig{
			BaseURL:      e.TempMailURL,
			Mailbox:      e.TempMail,
			DomainSuffix: e.TempMailExt,
			EPin:         e.TempMailEPin,
		}
		return cfg
	}

	if strings.EqualFold(strings.TrimSpace(e.IMAPProtocol), "IMAP") {
		cfg.IMAP = IMAPConfig{
			Host:     e.IMAPServer,
			Port:     e.IMAPPort,
			User:     e.IMAPUser,
			Password: e.IMAPPass,
			Folder:   e.IMAPDir,
		}
	} else {
		cfg.POP3 = POP3Config{
			Host:     e.IMAPServer,
			Port:     e.IMAPPort,
			User:     e.IMAPUser,
			Password: e.IMAPPass,
			Sender:   e.POP3Sender,
		}
	}
	return cfg
}

// Load reads the configuration, validates it and fills in defaults.
//
// A YAML or JSON path is read with cleanenv. A ".env" path, or an empty path
// with no CODEFETCH_CONFIG set, loads the dotenv file (a missing default
// ".env" is fine) and then reads the flat environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}

	var cfg *Config
	var err error
	switch {
	case path == "":
		cfg, err = loadEnv(".env", true)
	case isDotenv(path):
		cfg, err = loadEnv(path, false)
	default:
		cfg, err = loadFile(path)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := cfg.WithDefaults()
	return &out, nil
}

func isDotenv(path string) bool {
	base := filepath.Base(path)
	return base == ".env" || strings.HasPrefix(base, ".env.") || filepath.Ext(base) == ".env"
}

func loadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	return &cfg, nil
}

func loadEnv(path string, optional bool) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cannot load %s: %w", path, err)
		}
	}

	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}
	return env.toConfig(), nil
}

// EnvUsage writes the supported environment variables to w.
func EnvUsage(w io.Writer) {
	header := "Environment variables (also read from .env):"
	cleanenv.FUsage(w, &envConfig{}, &header)()
}
