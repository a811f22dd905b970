package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email/mailtest"
	"github.com/emx-mail/codefetch/pkgs/notify"
	"github.com/emx-mail/codefetch/pkgs/verify"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testApp(t *testing.T, cfg *config.Config) (*app, *bytes.Buffer) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")

	path := filepath.Join(t.TempDir(), "codefetch.yaml")
	require.NoError(t, config.Save(path, cfg))

	var stdout, stderr bytes.Buffer
	a := newApp()
	a.configPath = path
	a.stdout = &stdout
	a.stderr = &stderr
	a.interactive = func() bool { return false }
	a.verifyOpts = []verify.Option{verify.WithSleep(noSleep)}
	return a, &stdout
}

func tempMailConfig() *config.Config {
	return &config.Config{
		TempMail: config.TempMailConfig{Mailbox: "abc", DomainSuffix: "@x.test", EPin: "1"},
		Retry:    config.RetryConfig{MaxAttempts: 2, Interval: config.Duration(time.Second)},
		Log:      config.LogConfig{Format: "text"},
	}
}

func TestGet_PrintsCodeAndNotifies(t *testing.T) {
	cfg := tempMailConfig()
	cfg.Notify.DiscordWebhookURL = "https://discord.test/api/webhooks/1/x"
	a, stdout := testApp(t, cfg)

	api := mailtest.NewTempMailAPI("abc@x.test", "1")
	api.Deliver("no-reply@cursor.sh", "Sign in to Cursor", "Your one-time code is 482913.")
	a.verifyOpts = append(a.verifyOpts, verify.WithHTTPDoer(api))

	var posted []string
	a.newNotifier = func(url string) *notify.Discord {
		return &notify.Discord{URL: url, Exec: func(u string, payload []byte) error {
			posted = append(posted, string(payload))
			return nil
		}}
	}

	require.NoError(t, a.run(context.Background(), "get", nil))
	assert.Equal(t, "482913\n", stdout.String())
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "482913")
	assert.Contains(t, posted[0], "abc@x.test")
}

func TestGet_NoNotify(t *testing.T) {
	cfg := tempMailConfig()
	cfg.Notify.DiscordWebhookURL = "https://discord.test/api/webhooks/1/x"
	a, _ := testApp(t, cfg)

	api := mailtest.NewTempMailAPI("abc@x.test", "1")
	api.Deliver("no-reply@cursor.sh", "code", "code 111222")
	a.verifyOpts = append(a.verifyOpts, verify.WithHTTPDoer(api))
	a.newNotifier = func(string) *notify.Discord {
		t.Fatal("notifier must not be built with --no-notify")
		return nil
	}

	require.NoError(t, a.handleGet(context.Background(), getFlags{noNotify: true}))
}

func TestGet_Exhausted(t *testing.T) {
	a, stdout := testApp(t, tempMailConfig())
	a.verifyOpts = append(a.verifyOpts, verify.WithHTTPDoer(mailtest.NewTempMailAPI("abc@x.test", "1")))

	err := a.handleGet(context.Background(), getFlags{attempts: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.ErrorIs(t, err, verify.ErrNotFound)
	assert.Empty(t, stdout.String())
}

func imapAccountConfig(account string) *config.Config {
	return &config.Config{
		Account: account,
		IMAP:    config.IMAPConfig{Host: "imap.example.com", User: "login@example.com", Password: "pw"},
	}
}

func TestResolveAccount(t *testing.T) {
	tests := []struct {
		name        string
		flag        string
		cfg         *config.Config
		interactive bool
		answer      string
		want        string
		asked       bool
	}{
		{"flag wins", "flag@example.com", imapAccountConfig("cfg@example.com"), true, "typed@example.com", "flag@example.com", false},
		{"configured account", "", imapAccountConfig("cfg@example.com"), true, "typed@example.com", "cfg@example.com", false},
		{"imap prompts", "", imapAccountConfig(""), true, "typed@example.com", "typed@example.com", true},
		{"imap empty answer keeps login", "", imapAccountConfig(""), true, "  ", "login@example.com", true},
		{"imap non-interactive keeps login", "", imapAccountConfig(""), false, "typed@example.com", "login@example.com", false},
		{"tempmail never prompts", "", tempMailConfig(), true, "typed@example.com", "abc@x.test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp()
			a.account = tt.flag
			a.interactive = func() bool { return tt.interactive }

			var asked bool
			var offered string
			a.askAccount = func(def string) (string, error) {
				asked = true
				offered = def
				return tt.answer, nil
			}

			got, err := a.resolveAccount(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.asked, asked)
			if asked {
				assert.Equal(t, "login@example.com", offered, "the login is offered as the default")
			}
		})
	}
}

func TestResolveAccount_PromptError(t *testing.T) {
	a := newApp()
	a.interactive = func() bool { return true }
	a.askAccount = func(string) (string, error) { return "", errors.New("interrupt") }

	_, err := a.resolveAccount(imapAccountConfig(""))
	assert.ErrorContains(t, err, "prompt: interrupt")
}

func TestCheck(t *testing.T) {
	a, stdout := testApp(t, tempMailConfig())

	require.NoError(t, a.run(context.Background(), "check", nil))
	out := stdout.String()
	assert.Contains(t, out, "Transport: http")
	assert.Contains(t, out, "Inbox:     abc@x.test")
	assert.Contains(t, out, "https://tempmail.plus")
	assert.Contains(t, out, "Retry:     2 x 1s")
}

func TestCheck_Invalid(t *testing.T) {
	a, _ := testApp(t, &config.Config{IMAP: config.IMAPConfig{Host: "imap.example.com"}})

	err := a.run(context.Background(), "check", nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestInit(t *testing.T) {
	var stdout bytes.Buffer
	a := newApp()
	a.stdout = &stdout

	out := filepath.Join(t.TempDir(), "codefetch.yaml")
	require.NoError(t, a.handleInit(initFlags{output: out}))
	assert.Contains(t, stdout.String(), "Created config file at: "+out)

	cfg, err := config.Load(out)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", cfg.IMAP.Host)

	assert.Error(t, a.handleInit(initFlags{output: out}), "existing files are not overwritten")

	stdout.Reset()
	require.NoError(t, a.handleInit(initFlags{env: true}))
	assert.True(t, strings.Contains(stdout.String(), "TEMP_MAIL"))
}

func TestSelftest_IMAP(t *testing.T) {
	imapSrv := mailtest.NewIMAPServer(t)
	smtpSrv := mailtest.NewSMTPServer(t)
	smtpSrv.OnData = func(msg *mailtest.SMTPMessage) {
		imapSrv.Append(t, "INBOX", string(msg.Data))
	}

	cfg := &config.Config{
		Account: "me@example.com",
		IMAP: config.IMAPConfig{
			Host:       imapSrv.Host,
			Port:       imapSrv.Port,
			User:       mailtest.User,
			Password:   mailtest.Pass,
			SearchMode: config.SearchRecipient,
		},
		SMTP: config.SMTPConfig{
			Host:     smtpSrv.Host,
			Port:     smtpSrv.Port,
			User:     mailtest.User,
			Password: mailtest.Pass,
			From:     "selftest@example.com",
		},
		Retry: config.RetryConfig{MaxAttempts: 1},
		Log:   config.LogConfig{Format: "text"},
	}
	a, stdout := testApp(t, cfg)
	a.verifyOpts = append(a.verifyOpts, verify.WithTLSConfig(mailtest.ClientTLSConfig()))

	require.NoError(t, a.run(context.Background(), "selftest", nil))
	assert.Contains(t, stdout.String(), "delivered to me@example.com and fetched back")
	require.Len(t, smtpSrv.Messages(), 1)
	assert.Equal(t, uint32(0), imapSrv.Count(t, "INBOX"), "test message is expunged after the fetch")
}

func TestSelftest_RequiresSMTP(t *testing.T) {
	a, _ := testApp(t, tempMailConfig())

	err := a.run(context.Background(), "selftest", nil)
	assert.ErrorContains(t, err, "smtp section")
}

func TestRun_UnknownCommand(t *testing.T) {
	a := newApp()
	assert.ErrorContains(t, a.run(context.Background(), "watch", nil), "unknown command")
}
