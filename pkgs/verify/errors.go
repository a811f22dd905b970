package verify

import (
	"errors"
	"fmt"

	"github.com/emx-mail/codefetch/pkgs/config"
)

var (
	// ErrConfig is matched by invalid or incomplete transport settings.
	// It is never retried.
	ErrConfig = config.ErrInvalid

	// ErrNotFound means the transport was reachable but held no code yet.
	ErrNotFound = errors.New("verification code not found")

	// ErrTimeout means a provider's inner poll budget ran out. Providers
	// return it wrapped in a *ProviderError.
	ErrTimeout = errors.New("verification code retrieval timeout")

	// ErrProvider is matched by every *ProviderError.
	ErrProvider = errors.New("mail provider error")
)

// ProviderError is a network, auth or protocol failure talking to a
// transport.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// MaxRetriesExceededError is returned once the outer retry budget is spent.
// Last is the error of the final attempt (ErrNotFound when nothing arrived).
type MaxRetriesExceededError struct {
	Attempts int
	Last     error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("failed to get verification code after %d attempts: %v", e.Attempts, e.Last)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.Last }
