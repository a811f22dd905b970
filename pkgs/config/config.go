package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath is the env var that points to the config file used when
	// --config is not given.
	EnvConfigPath = "CODEFETCH_CONFIG"

	// DefaultPOP3Sender is the sender address POP3 candidates must match.
	DefaultPOP3Sender = "no-reply@cursor.sh"
)

// Transport names one of the mail retrieval channels.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportIMAP Transport = "imap"
	TransportPOP3 Transport = "pop3"
)

// IMAP search modes.
const (
	SearchAuto       = "auto"
	SearchRecipient  = "recipient"
	SearchDateUnseen = "date_unseen"
)

// IMAP TLS modes.
const (
	TLSModeImplicit = "tls"
	TLSModeStartTLS = "starttls"
)

// TempMailConfig holds disposable-mail inbox settings. The inbox address is
// Mailbox + DomainSuffix, e.g. "abc" + "@mailto.plus".
type TempMailConfig struct {
	BaseURL      string `yaml:"base_url" json:"base_url,omitempty"`
	Mailbox      string `yaml:"mailbox" json:"mailbox"`
	DomainSuffix string `yaml:"domain_suffix" json:"domain_suffix"`
	EPin         string `yaml:"epin" json:"epin,omitempty"`
}

// Address returns the full inbox address.
func (t TempMailConfig) Address() string {
	return t.Mailbox + t.DomainSuffix
}

// IMAPConfig holds IMAP server settings.
type IMAPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port,omitempty"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password,omitempty"`
	Folder   string `yaml:"folder" json:"folder,omitempty"`

	// TLSMode is "tls" (implicit, default) or "starttls".
	TLSMode string `yaml:"tls_mode" json:"tls_mode,omitempty"`
	// SearchMode is "auto" (default), "recipient" or "date_unseen".
	SearchMode string `yaml:"search_mode" json:"search_mode,omitempty"`
	// Auth is "login" (default) or "plain" for SASL PLAIN.
	Auth string `yaml:"auth" json:"auth,omitempty"`
}

// POP3Config holds POP3 server settings. POP3 always uses implicit TLS and
// has a single maildrop, so there is no folder.
type POP3Config struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port,omitempty"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password,omitempty"`

	// Sender is matched against the From header of candidates.
	Sender string `yaml:"sender" json:"sender,omitempty"`
}

// SMTPConfig is only used by the self-test to deliver a test message.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port,omitempty"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password,omitempty"`
	From     string `yaml:"from" json:"from,omitempty"`
	SSL      bool   `yaml:"ssl" json:"ssl"`
	StartTLS bool   `yaml:"starttls" json:"starttls"`
}

// RetryConfig drives the outer retry loop.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts,omitempty"`
	Interval    Duration `yaml:"interval" json:"interval,omitempty"`
	// Multiplier > 1 turns the fixed interval into exponential backoff
	// capped at MaxInterval.
	Multiplier  float64  `yaml:"multiplier" json:"multiplier,omitempty"`
	MaxInterval Duration `yaml:"max_interval" json:"max_interval,omitempty"`
}

// ArchiveConfig enables the mbox archive of matched messages.
type ArchiveConfig struct {
	Mbox string `yaml:"mbox" json:"mbox,omitempty"`
}

// NotifyConfig holds optional notification targets.
type NotifyConfig struct {
	DiscordWebhookURL string `yaml:"discord_webhook_url" json:"discord_webhook_url,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" json:"level,omitempty"`
	Format string `yaml:"format" json:"format,omitempty"`
}

// Config holds the application configuration. Exactly one of TempMail,
// IMAP and POP3 must be set.
type Config struct {
	// Account is the address the code was sent to.
	Account string `yaml:"account" json:"account,omitempty"`

	TempMail TempMailConfig `yaml:"tempmail" json:"tempmail"`
	IMAP     IMAPConfig     `yaml:"imap" json:"imap"`
	POP3     POP3Config     `yaml:"pop3" json:"pop3"`
	SMTP     SMTPConfig     `yaml:"smtp" json:"smtp"`

	Retry   RetryConfig   `yaml:"retry" json:"retry"`
	Archive ArchiveConfig `yaml:"archive" json:"archive"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// Duration is a time.Duration written as a Go duration string ("60s") in
// config files and environment variables.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	return d.SetValue(string(b))
}

// SetValue implements cleanenv.Setter.
func (d *Duration) SetValue(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// ErrInvalid is matched by every *Error.
var ErrInvalid = errors.New("invalid configuration")

// Error describes an invalid or incomplete configuration.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalid.
func (e *Error) Unwrap() error { return ErrInvalid }

func invalid(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// isSet treats blank strings and the literal "null" as unset.
func isSet(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "null"
}

func clean(s string) string {
	if !isSet(s) {
		return ""
	}
	return strings.TrimSpace(s)
}

func (t TempMailConfig) set() bool {
	return isSet(t.Mailbox) || isSet(t.DomainSuffix) || isSet(t.EPin)
}

func (c IMAPConfig) set() bool {
	return isSet(c.Host) || isSet(c.User) || isSet(c.Password)
}

func (c POP3Config) set() bool {
	return isSet(c.Host) || isSet(c.User) || isSet(c.Password)
}

// Transport returns the single configured transport.
func (c *Config) Transport() (Transport, error) {
	var found []Transport
	if c.TempMail.set() {
		found = append(found, TransportHTTP)
	}
	if c.IMAP.set() {
		found = append(found, TransportIMAP)
	}
	if c.POP3.set() {
		found = append(found, TransportPOP3)
	}

	switch len(found) {
	case 0:
		return "", invalid("", "no transport configured (set one of tempmail, imap, pop3)")
	case 1:
		return found[0], nil
	default:
		return "", invalid("", "multiple transports configured: %v", found)
	}
}

// EffectiveAccount returns Account, falling back to the disposable inbox
// address or the mail server login.
func (c *Config) EffectiveAccount() string {
	if isSet(c.Account) {
		return strings.TrimSpace(c.Account)
	}
	t, err := c.Transport()
	if err != nil {
		return ""
	}
	switch t {
	case TransportHTTP:
		return clean(c.TempMail.Mailbox) + clean(c.TempMail.DomainSuffix)
	case TransportIMAP:
		return clean(c.IMAP.User)
	default:
		return clean(c.POP3.User)
	}
}

// Validate checks that exactly one transport is fully specified. It does
// not modify c.
func (c *Config) Validate() error {
	t, err := c.Transport()
	if err != nil {
		return err
	}

	switch t {
	case TransportHTTP:
		if !isSet(c.TempMail.Mailbox) {
			return invalid("tempmail.mailbox", "is required")
		}
		if !isSet(c.TempMail.DomainSuffix) {
			return invalid("tempmail.domain_suffix", "is required")
		}
	case TransportIMAP:
		if err := requireServer("imap", c.IMAP.Host, c.IMAP.Port, c.IMAP.User, c.IMAP.Password); err != nil {
			return err
		}
		switch clean(c.IMAP.TLSMode) {
		case "", TLSModeImplicit, TLSModeStartTLS:
		default:
			return invalid("imap.tls_mode", "must be %q or %q", TLSModeImplicit, TLSModeStartTLS)
		}
		switch clean(c.IMAP.SearchMode) {
		case "", SearchAuto, SearchRecipient, SearchDateUnseen:
		default:
			return invalid("imap.search_mode", "must be one of %q, %q, %q", SearchAuto, SearchRecipient, SearchDateUnseen)
		}
		switch clean(c.IMAP.Auth) {
		case "", "login", "plain":
		default:
			return invalid("imap.auth", "must be \"login\" or \"plain\"")
		}
		if !isSet(c.EffectiveAccount()) {
			return invalid("account", "is required")
		}
	case TransportPOP3:
		if err := requireServer("pop3", c.POP3.Host, c.POP3.Port, c.POP3.User, c.POP3.Password); err != nil {
			return err
		}
	}

	if c.Retry.MaxAttempts < 0 {
		return invalid("retry.max_attempts", "must not be negative")
	}
	if c.Retry.Interval < 0 {
		return invalid("retry.interval", "must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return invalid("retry.multiplier", "must be >= 1")
	}
	switch clean(c.Log.Format) {
	case "", "pretty", "json", "text":
	default:
		return invalid("log.format", "must be one of pretty, json, text")
	}
	return nil
}

func requireServer(section, host string, port int, user, password string) error {
	if !isSet(host) {
		return invalid(section+".host", "is required")
	}
	if port < 0 || port > 65535 {
		return invalid(section+".port", "out of range: %d", port)
	}
	if !isSet(user) {
		return invalid(section+".user", "is required")
	}
	if !isSet(password) {
		return invalid(section+".password", "is required")
	}
	return nil
}

// WithDefaults returns a copy of c with "null" values cleared and defaults
// filled in.
func (c Config) WithDefaults() Config {
	c.Account = clean(c.Account)

	c.TempMail.BaseURL = clean(c.TempMail.BaseURL)
	c.TempMail.Mailbox = clean(c.TempMail.Mailbox)
	// Only the local part is used as the mailbox name.
	if i := strings.Index(c.TempMail.Mailbox, "@"); i >= 0 {
		c.TempMail.Mailbox = c.TempMail.Mailbox[:i]
	}
	c.TempMail.DomainSuffix = clean(c.TempMail.DomainSuffix)
	c.TempMail.EPin = clean(c.TempMail.EPin)

	c.IMAP.Host = clean(c.IMAP.Host)
	c.IMAP.User = clean(c.IMAP.User)
	c.IMAP.Password = clean(c.IMAP.Password)
	c.IMAP.Folder = clean(c.IMAP.Folder)
	c.IMAP.TLSMode = clean(c.IMAP.TLSMode)
	c.IMAP.SearchMode = clean(c.IMAP.SearchMode)
	c.IMAP.Auth = clean(c.IMAP.Auth)
	if c.IMAP.Port == 0 {
		if c.IMAP.TLSMode == TLSModeStartTLS {
			c.IMAP.Port = 143
		} else {
			c.IMAP.Port = 993
		}
	}
	if c.IMAP.Folder == "" {
		c.IMAP.Folder = "INBOX"
	}
	if c.IMAP.TLSMode == "" {
		c.IMAP.TLSMode = TLSModeImplicit
	}
	if c.IMAP.SearchMode == "" {
		c.IMAP.SearchMode = SearchAuto
	}

	c.POP3.Host = clean(c.POP3.Host)
	c.POP3.User = clean(c.POP3.User)
	c.POP3.Password = clean(c.POP3.Password)
	c.POP3.Sender = clean(c.POP3.Sender)
	if c.POP3.Port == 0 {
		c.POP3.Port = 995
	}
	if c.POP3.Sender == "" {
		c.POP3.Sender = DefaultPOP3Sender
	}

	if c.SMTP.Port == 0 {
		switch {
		case c.SMTP.SSL:
			c.SMTP.Port = 465
		case c.SMTP.StartTLS:
			c.SMTP.Port = 587
		default:
			c.SMTP.Port = 25
		}
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = Duration(60 * time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "pretty"
	}
	return c
}

// Save writes c as YAML or JSON depending on the file extension.
func Save(path string, c *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Example returns an example configuration for "init".
func Example() *Config {
	return &Config{
		Account: "user@example.com",
		IMAP: IMAPConfig{
			Host:       "imap.example.com",
			Port:       993,
			User:       "user@example.com",
			Password:   "app-password",
			Folder:     "INBOX",
			TLSMode:    TLSModeImplicit,
			SearchMode: SearchAuto,
		},
		SMTP: SMTPConfig{
			Host:     "smtp.example.com",
			Port:     587,
			User:     "user@example.com",
			StartTLS: true,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			Interval:    Duration(60 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}
