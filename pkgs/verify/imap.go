package verify

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

// Consumer webmail domains whose IMAP service requires an ID handshake and
// does not support header search reliably.
var dateSearchDomains = []string{"@163.com", "@126.com", "@yeah.net"}

// IMAPProvider reads codes from an IMAP folder. One connection is held for
// the whole inner poll loop; the folder is re-selected on every poll.
type IMAPProvider struct {
	cfg       config.IMAPConfig
	account   string
	tlsConfig *tls.Config
	poller    Poller
	now       func() time.Time
	log       *slog.Logger
}

func newIMAPProvider(cfg config.IMAPConfig, account string, o *options) *IMAPProvider {
	return &IMAPProvider{
		cfg:       cfg,
		account:   account,
		tlsConfig: o.tlsConfig,
		poller:    o.pollerOrDefault(),
		now:       o.now,
		log:       o.log.With(slog.String("provider", "imap")),
	}
}

// Name implements Provider.
func (p *IMAPProvider) Name() string { return "imap" }

// searchByDate reports whether to search unseen messages of the day
// instead of searching by recipient.
func (p *IMAPProvider) searchByDate() bool {
	switch p.cfg.SearchMode {
	case config.SearchDateUnseen:
		return true
	case config.SearchRecipient:
		return false
	}
	user := strings.ToLower(p.cfg.User)
	for _, d := range dateSearchDomains {
		if strings.HasSuffix(user, d) {
			return true
		}
	}
	return false
}

// FetchCode implements Provider. The first matching message is deleted and
// expunged before returning.
func (p *IMAPProvider) FetchCode(ctx context.Context) (Result, error) {
	const op = "verify.IMAPProvider.FetchCode"
	log := p.log.With(slog.String("op", op))

	client := email.NewIMAPClient(p.log, email.IMAPConfig{
		Host:      p.cfg.Host,
		Port:      p.cfg.Port,
		Username:  p.cfg.User,
		Password:  p.cfg.Password,
		StartTLS:  p.cfg.TLSMode == config.TLSModeStartTLS,
		SASLPlain: p.cfg.Auth == "plain",
		TLSConfig: p.tlsConfig,
	})
	if err := client.Connect(ctx); err != nil {
		return Result{}, p.fail("connect", err)
	}
	defer func() {
		if err := client.Logout(); err != nil {
			log.Debug("logout failed", slog.String("error", err.Error()))
		}
	}()

	byDate := p.searchByDate()
	if byDate {
		if err := client.Identify(idName(p.cfg.User), "1.0.0", "codefetch"); err != nil {
			log.Warn("IMAP ID handshake failed", slog.String("error", err.Error()))
		}
	}

	res, err := p.poller.Poll(ctx, func(ctx context.Context, poll int) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if _, err := client.Select(p.cfg.Folder); err != nil {
			return Result{}, p.fail("select", err)
		}

		var uids []imap.UID
		var err error
		if byDate {
			uids, err = client.SearchUnseenOn(p.now())
		} else {
			uids, err = client.SearchRecipient(p.account)
		}
		if err != nil {
			return Result{}, p.fail("search", err)
		}
		log.Debug("searched folder", slog.Int("poll", poll), slog.Int("candidates", len(uids)))
		if len(uids) == 0 {
			return Result{}, errEmpty
		}

		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		for i := len(uids) - 1; i >= 0; i-- {
			msg, err := client.FetchMessage(uids[i])
			if err != nil {
				log.Warn("failed to fetch message", slog.Any("uid", uids[i]), slog.String("error", err.Error()))
				continue
			}
			if byDate && !msg.HasRecipient(p.account) {
				continue
			}
			code, ok := email.MatchCode(msg.TextBody)
			if !ok {
				continue
			}
			if err := client.DeleteMessage(uids[i], true); err != nil {
				log.Warn("failed to delete message", slog.Any("uid", uids[i]), slog.String("error", err.Error()))
			}
			return Result{Code: code, Message: msg}, nil
		}
		log.Debug("no candidate carries a code", slog.Int("poll", poll))
		return Result{}, errEmpty
	})
	if err == ErrTimeout {
		return Result{}, p.fail("poll", err)
	}
	return res, err
}

// idName is the client name sent in the ID handshake: the login's local
// part, which NetEase servers record against the session.
func idName(user string) string {
	if i := strings.LastIndex(user, "@"); i > 0 {
		return user[:i]
	}
	if user == "" {
		return "codefetch"
	}
	return user
}

func (p *IMAPProvider) fail(op string, err error) error {
	return &ProviderError{Provider: p.Name(), Op: op, Err: err}
}
