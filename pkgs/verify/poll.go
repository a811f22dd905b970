package verify

import (
	"context"
	"errors"
	"time"

	"github.com/emx-mail/codefetch/pkgs/email"
)

// Inner poll defaults for mail server providers.
const (
	DefaultPollAttempts = 20
	DefaultPollInterval = 3 * time.Second
)

// errEmpty tells Poller.Poll that a poll found no candidate messages.
var errEmpty = errors.New("no candidate messages")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller is a provider's own bounded poll loop, run while attached to one
// transport session.
type Poller struct {
	Attempts int
	Interval time.Duration
	Sleep    SleepFunc
}

// DefaultPoller polls 20 times, 3 seconds apart.
func DefaultPoller() Poller {
	return Poller{Attempts: DefaultPollAttempts, Interval: DefaultPollInterval}
}

// Poll calls fn until it returns anything other than errEmpty, sleeping
// Interval between polls. After Attempts empty polls it returns ErrTimeout.
func (p Poller) Poll(ctx context.Context, fn func(ctx context.Context, poll int) (Result, error)) (Result, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = email.Sleep
	}

	for poll := 1; poll <= attempts; poll++ {
		if poll > 1 {
			if err := sleep(ctx, p.Interval); err != nil {
				return Result{}, err
			}
		}
		res, err := fn(ctx, poll)
		if !errors.Is(err, errEmpty) {
			return res, err
		}
	}
	return Result{}, ErrTimeout
}
