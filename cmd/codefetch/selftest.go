package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brianvoe/gofakeit/v6"
	flag "github.com/spf13/pflag"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
	"github.com/emx-mail/codefetch/pkgs/logging"
	"github.com/emx-mail/codefetch/pkgs/verify"
)

type selftestFlags struct {
	to string
}

func parseSelftestFlags(args []string) selftestFlags {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	var f selftestFlags
	fs.StringVar(&f.to, "to", "", "Test message recipient (default: the account)")
	if err := fs.Parse(args); err != nil {
		fatal("selftest: %v", err)
	}
	return f
}

// handleSelftest mails a random code to the account and fetches it back
// through the configured transport.
func (a *app) handleSelftest(ctx context.Context, f selftestFlags) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if cfg.SMTP.Host == "" {
		return fmt.Errorf("selftest requires an smtp section")
	}
	log, err := a.logger(cfg)
	if err != nil {
		return err
	}
	log, _ = logging.WithFetchID(log)

	to := f.to
	if to == "" {
		to = a.account
	}
	if to == "" {
		to = cfg.EffectiveAccount()
	}
	if to == "" {
		return fmt.Errorf("no recipient: set account or pass --to")
	}

	from := cfg.SMTP.From
	if from == "" {
		from = cfg.SMTP.User
	}
	want := gofakeit.Numerify("######")

	log.Info("sending test message", slog.String("to", to), slog.String("from", from))
	client := email.NewSMTPClient(smtpConfig(cfg.SMTP, a))
	if err := client.Send(email.SendOptions{
		From:     email.Address{Name: "codefetch", Email: from},
		To:       []email.Address{{Email: to}},
		Subject:  "codefetch self-test",
		TextBody: fmt.Sprintf("Your verification code is %s.\n", want),
	}); err != nil {
		return err
	}

	// The test message comes from our own sender, not the usual one.
	cfg.POP3.Sender = from

	opts := append([]verify.Option{verify.WithLogger(log), verify.WithAccount(to)}, a.verifyOpts...)
	code, err := verify.GetVerificationCode(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	if code != want {
		return fmt.Errorf("fetched code %s does not match sent %s", code, want)
	}
	fmt.Fprintf(a.stdout, "OK: code %s delivered to %s and fetched back\n", want, to)
	return nil
}

func smtpConfig(c config.SMTPConfig, a *app) email.SMTPConfig {
	return email.SMTPConfig{
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.User,
		Password:  c.Password,
		SSL:       c.SSL,
		StartTLS:  c.StartTLS,
		TLSConfig: a.smtpTLS,
	}
}
