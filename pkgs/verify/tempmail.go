package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

// tempMailListLimit is how many inbox entries are requested per poll.
const tempMailListLimit = 20

// TempMailProvider reads codes from a disposable-mail inbox. It performs a
// single poll per call; the outer fetcher supplies the retries.
type TempMailProvider struct {
	client *email.TempMailClient
	log    *slog.Logger
}

func newTempMailProvider(cfg config.TempMailConfig, o *options) (*TempMailProvider, error) {
	client, err := email.NewTempMailClient(o.log, email.TempMailConfig{
		BaseURL: cfg.BaseURL,
		Address: cfg.Address(),
		EPin:    cfg.EPin,
		Sleep:   o.sleep,
	}, o.doer)
	if err != nil {
		return nil, &ProviderError{Provider: "tempmail", Op: "init", Err: err}
	}
	return &TempMailProvider{
		client: client,
		log:    o.log.With(slog.String("provider", "tempmail")),
	}, nil
}

// Name implements Provider.
func (p *TempMailProvider) Name() string { return "tempmail" }

// FetchCode implements Provider. Only the newest message is inspected.
func (p *TempMailProvider) FetchCode(ctx context.Context) (Result, error) {
	const op = "verify.TempMailProvider.FetchCode"
	log := p.log.With(slog.String("op", op))

	list, err := p.client.ListRecent(ctx, tempMailListLimit)
	if err != nil {
		return Result{}, p.fail("list", err)
	}
	if !list.Result || list.FirstID.Empty() {
		log.Debug("inbox empty")
		return Result{}, ErrNotFound
	}

	detail, err := p.client.FetchBody(ctx, list.FirstID)
	if err != nil {
		return Result{}, p.fail("detail", err)
	}
	if !detail.Result {
		return Result{}, ErrNotFound
	}
	log.Info("found email", slog.String("subject", detail.Subject), slog.String("mail_id", string(list.FirstID)))

	code, ok := email.MatchCode(detail.Text)
	if !ok {
		return Result{}, ErrNotFound
	}

	msg := &email.Message{
		Subject:    detail.Subject,
		TextBody:   detail.Text,
		ProviderID: string(list.FirstID),
	}
	if detail.From != "" {
		msg.From = []email.Address{{Email: detail.From}}
	}
	if addr := p.client.Address(); addr != "" {
		msg.To = []email.Address{{Email: addr}}
	}
	return Result{Code: code, Message: msg}, nil
}

// Cleanup implements Cleaner by deleting the consumed message.
func (p *TempMailProvider) Cleanup(ctx context.Context, res Result) error {
	if res.Message == nil || res.Message.ProviderID == "" {
		return nil
	}
	if !p.client.Delete(ctx, email.MailID(res.Message.ProviderID)) {
		return fmt.Errorf("delete of mail %s was not confirmed", res.Message.ProviderID)
	}
	return nil
}

func (p *TempMailProvider) fail(op string, err error) error {
	return &ProviderError{Provider: p.Name(), Op: op, Err: err}
}
