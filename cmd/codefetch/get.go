package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	flag "github.com/spf13/pflag"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/logging"
	"github.com/emx-mail/codefetch/pkgs/notify"
	"github.com/emx-mail/codefetch/pkgs/verify"
)

type getFlags struct {
	attempts int
	interval time.Duration
	noNotify bool
}

func parseGetFlags(args []string) getFlags {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	var f getFlags
	fs.IntVar(&f.attempts, "attempts", 0, "Outer retry attempts")
	fs.DurationVar(&f.interval, "interval", 0, "Delay between attempts")
	fs.BoolVar(&f.noNotify, "no-notify", false, "Do not post the code to the Discord webhook")
	if err := fs.Parse(args); err != nil {
		fatal("get: %v", err)
	}
	return f
}

func (a *app) handleGet(ctx context.Context, f getFlags) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	log, err := a.logger(cfg)
	if err != nil {
		return err
	}
	log, fetchID := logging.WithFetchID(log)

	if f.attempts > 0 {
		cfg.Retry.MaxAttempts = f.attempts
	}
	if f.interval > 0 {
		cfg.Retry.Interval = config.Duration(f.interval)
	}

	account, err := a.resolveAccount(cfg)
	if err != nil {
		return err
	}
	transport, _ := cfg.Transport()

	opts := []verify.Option{
		verify.WithLogger(log),
		verify.WithOnAttempt(func(at verify.FetchAttempt) {
			log.Debug("attempt finished", slog.Int("attempt", at.Number), slog.String("outcome", at.Outcome.String()))
		}),
	}
	if account != "" {
		opts = append(opts, verify.WithAccount(account))
	}
	opts = append(opts, a.verifyOpts...)

	res, err := verify.FetchVerificationCode(ctx, cfg, opts...)
	if err != nil {
		var maxErr *verify.MaxRetriesExceededError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("no verification code after %d attempts: %w", maxErr.Attempts, maxErr.Last)
		}
		return err
	}

	fmt.Fprintln(a.stdout, res.Code)

	if cfg.Notify.DiscordWebhookURL != "" && !f.noNotify {
		ev := notify.Event{
			Account:   account,
			Code:      res.Code,
			Transport: string(transport),
			FetchID:   fetchID,
		}
		if res.Message != nil {
			ev.Subject = res.Message.Subject
		}
		if err := a.newNotifier(cfg.Notify.DiscordWebhookURL).Notify(ctx, ev); err != nil {
			log.Warn("failed to send notification", slog.String("error", err.Error()))
		}
	}
	return nil
}

// resolveAccount returns --account, then the configured account. An IMAP
// search needs the address the code was sent to, which is not always the
// login, so on a terminal the user is asked with the login as the default.
// Disposable inboxes and POP3 fall back without asking.
func (a *app) resolveAccount(cfg *config.Config) (string, error) {
	if a.account != "" {
		return a.account, nil
	}
	if cfg.Account != "" {
		return cfg.Account, nil
	}

	fallback := cfg.EffectiveAccount()
	transport, err := cfg.Transport()
	if err != nil || transport != config.TransportIMAP {
		return fallback, nil
	}
	if a.interactive == nil || !a.interactive() || a.askAccount == nil {
		return fallback, nil
	}

	account, err := a.askAccount(fallback)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	if account = strings.TrimSpace(account); account == "" {
		return fallback, nil
	}
	return account, nil
}

// surveyAccount asks for the account on the terminal.
func surveyAccount(def string) (string, error) {
	var account string
	prompt := &survey.Input{
		Message: "Account the code was sent to:",
		Default: def,
	}
	if err := survey.AskOne(prompt, &account, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return account, nil
}
