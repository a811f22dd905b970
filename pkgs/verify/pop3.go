package verify

import (
	"context"
	"log/slog"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

// pop3ScanLimit is how many of the newest messages are inspected per poll.
const pop3ScanLimit = 10

// POP3Provider reads codes from a POP3 maildrop. The maildrop is frozen for
// a session, so every inner poll opens a new connection. Nothing is
// deleted.
type POP3Provider struct {
	client *email.POP3Client
	sender string
	poller Poller
	log    *slog.Logger
}

func newPOP3Provider(cfg config.POP3Config, o *options) *POP3Provider {
	return &POP3Provider{
		client: email.NewPOP3Client(o.log, email.POP3Config{
			Host:      cfg.Host,
			Port:      cfg.Port,
			Username:  cfg.User,
			Password:  cfg.Password,
			TLSConfig: o.tlsConfig,
		}),
		sender: cfg.Sender,
		poller: o.pollerOrDefault(),
		log:    o.log.With(slog.String("provider", "pop3")),
	}
}

// Name implements Provider.
func (p *POP3Provider) Name() string { return "pop3" }

// FetchCode implements Provider.
func (p *POP3Provider) FetchCode(ctx context.Context) (Result, error) {
	const op = "verify.POP3Provider.FetchCode"
	log := p.log.With(slog.String("op", op))

	res, err := p.poller.Poll(ctx, func(ctx context.Context, poll int) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		msgs, err := p.client.FetchRecent(ctx, pop3ScanLimit)
		if err != nil {
			return Result{}, p.fail("fetch", err)
		}
		log.Debug("scanned maildrop", slog.Int("poll", poll), slog.Int("messages", len(msgs)))

		for _, msg := range msgs {
			if !msg.FromContains(p.sender) {
				continue
			}
			if code, ok := email.MatchCode(msg.TextBody); ok {
				return Result{Code: code, Message: msg}, nil
			}
		}
		return Result{}, errEmpty
	})
	if err == ErrTimeout {
		return Result{}, p.fail("poll", err)
	}
	return res, err
}

func (p *POP3Provider) fail(op string, err error) error {
	return &ProviderError{Provider: p.Name(), Op: op, Err: err}
}
