package verify

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

// Result is a found verification code and the message that carried it.
type Result struct {
	Code    string
	Message *email.Message
}

// Provider retrieves verification codes from one transport.
type Provider interface {
	// Name identifies the transport in logs and errors.
	Name() string
	// FetchCode runs one poll cycle. It returns ErrNotFound when the
	// transport is reachable but holds no code, and a *ProviderError when
	// the transport fails.
	FetchCode(ctx context.Context) (Result, error)
}

// Cleaner is implemented by providers that remove a consumed message after
// the code has been returned.
type Cleaner interface {
	Cleanup(ctx context.Context, res Result) error
}

type options struct {
	log       *slog.Logger
	account   string
	doer      email.HTTPDoer
	tlsConfig *tls.Config
	sleep     SleepFunc
	poller    *Poller
	now       func() time.Time
	onAttempt func(FetchAttempt)
	archive   *email.Archive
}

// Option configures providers and fetchers.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithAccount overrides the account the code is expected for.
func WithAccount(account string) Option {
	return func(o *options) { o.account = account }
}

// WithHTTPDoer replaces the disposable-mail HTTP client.
func WithHTTPDoer(doer email.HTTPDoer) Option {
	return func(o *options) { o.doer = doer }
}

// WithTLSConfig replaces the TLS settings used for IMAP and POP3.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithSleep replaces every delay (inner polls, outer retries, HTTP
// throttling).
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithPoller replaces the inner poll policy of mail server providers.
func WithPoller(p Poller) Option {
	return func(o *options) { o.poller = &p }
}

// WithClock replaces time.Now for the IMAP date search.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithOnAttempt registers an observer for every outer attempt.
func WithOnAttempt(fn func(FetchAttempt)) Option {
	return func(o *options) { o.onAttempt = fn }
}

// WithArchive appends every matched message to archive.
func WithArchive(archive *email.Archive) Option {
	return func(o *options) { o.archive = archive }
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

func (o *options) pollerOrDefault() Poller {
	p := DefaultPoller()
	if o.poller != nil {
		p = *o.poller
	}
	if p.Sleep == nil {
		p.Sleep = o.sleep
	}
	return p
}

// NewProvider validates cfg and returns the provider for its transport.
func NewProvider(cfg *config.Config, opts ...Option) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cfg.WithDefaults()
	o := newOptions(opts)

	account := o.account
	if account == "" {
		account = c.EffectiveAccount()
	}

	transport, err := c.Transport()
	if err != nil {
		return nil, err
	}

	switch transport {
	case config.TransportHTTP:
		return newTempMailProvider(c.TempMail, o)
	case config.TransportIMAP:
		return newIMAPProvider(c.IMAP, account, o), nil
	case config.TransportPOP3:
		return newPOP3Provider(c.POP3, o), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", transport)
}
