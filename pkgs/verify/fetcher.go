package verify

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

// Outer retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultInterval    = 60 * time.Second
)

// Outcome classifies one outer attempt.
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeProviderError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeProviderError:
		return "provider_error"
	}
	return "unknown"
}

// FetchAttempt describes one outer attempt. It is handed to the OnAttempt
// hook and never stored.
type FetchAttempt struct {
	Number  int
	Outcome Outcome
	Code    string
	Err     error
}

// Fetcher polls a Provider until a code is found or the attempt budget is
// spent. The zero values of MaxAttempts and Interval mean 5 and 60s.
type Fetcher struct {
	Provider    Provider
	MaxAttempts int
	Interval    time.Duration
	// Multiplier > 1 grows the interval after every attempt, capped at
	// MaxInterval when set.
	Multiplier  float64
	MaxInterval time.Duration

	OnAttempt func(FetchAttempt)
	Archive   *email.Archive
	Sleep     SleepFunc
	Log       *slog.Logger
}

// NewFetcher returns a Fetcher for provider using the retry settings.
func NewFetcher(provider Provider, retry config.RetryConfig, opts ...Option) *Fetcher {
	o := newOptions(opts)
	return &Fetcher{
		Provider:    provider,
		MaxAttempts: retry.MaxAttempts,
		Interval:    retry.Interval.Std(),
		Multiplier:  retry.Multiplier,
		MaxInterval: retry.MaxInterval.Std(),
		OnAttempt:   o.onAttempt,
		Archive:     o.archive,
		Sleep:       o.sleep,
		Log:         o.log,
	}
}

// Fetch returns the verification code.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	res, err := f.FetchResult(ctx)
	return res.Code, err
}

// FetchResult is Fetch returning the message that carried the code too.
//
// ErrNotFound and provider errors are retried after the interval.
// Configuration errors and context cancellation end the loop at once. When
// the budget is spent the last error is returned in a
// *MaxRetriesExceededError.
func (f *Fetcher) FetchResult(ctx context.Context) (Result, error) {
	const op = "verify.Fetcher.Fetch"

	log := f.logger().With(slog.String("op", op), slog.String("provider", f.Provider.Name()))
	attempts := f.maxAttempts()

	var last error
	for n := 1; n <= attempts; n++ {
		log.Info("attempting to get verification code", slog.Int("attempt", n), slog.Int("max_attempts", attempts))

		res, err := f.Provider.FetchCode(ctx)
		switch {
		case err == nil:
			f.report(FetchAttempt{Number: n, Outcome: OutcomeFound, Code: res.Code})
			log.Info("verification code found", slog.Int("attempt", n))
			f.finish(ctx, log, res)
			return res, nil

		case errors.Is(err, ErrConfig):
			return Result{}, err

		case ctx.Err() != nil:
			return Result{}, ctx.Err()

		case errors.Is(err, ErrNotFound):
			f.report(FetchAttempt{Number: n, Outcome: OutcomeNotFound, Err: err})
			log.Warn("verification code not obtained", slog.Int("attempt", n))

		default:
			f.report(FetchAttempt{Number: n, Outcome: OutcomeProviderError, Err: err})
			log.Error("failed to get verification code", slog.Int("attempt", n), slog.String("error", err.Error()))
		}
		last = err

		if n < attempts {
			delay := f.delay(n)
			log.Info("retrying", slog.Duration("delay", delay))
			if err := f.sleep(ctx, delay); err != nil {
				return Result{}, err
			}
		}
	}

	return Result{}, &MaxRetriesExceededError{Attempts: attempts, Last: last}
}

// finish archives the message and runs provider cleanup. Neither can fail
// the fetch.
func (f *Fetcher) finish(ctx context.Context, log *slog.Logger, res Result) {
	if f.Archive != nil && res.Message != nil {
		if err := f.Archive.Append(res.Message); err != nil {
			log.Warn("failed to archive message", slog.String("error", err.Error()))
		}
	}
	if c, ok := f.Provider.(Cleaner); ok {
		if err := c.Cleanup(ctx, res); err != nil {
			log.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}
}

// delay returns the wait after attempt n (1-based).
func (f *Fetcher) delay(n int) time.Duration {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if f.Multiplier <= 1 {
		return interval
	}
	d := float64(interval) * math.Pow(f.Multiplier, float64(n-1))
	if f.MaxInterval > 0 && d > float64(f.MaxInterval) {
		return f.MaxInterval
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (f *Fetcher) maxAttempts() int {
	if f.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return f.MaxAttempts
}

func (f *Fetcher) report(a FetchAttempt) {
	if f.OnAttempt != nil {
		f.OnAttempt(a)
	}
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep != nil {
		return f.Sleep(ctx, d)
	}
	return email.Sleep(ctx, d)
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return newOptions(nil).log
}
