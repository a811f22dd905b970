// Package verify retrieves short-lived verification codes from a mailbox.
//
// A Provider performs one poll cycle against a single transport (a
// disposable-mail HTTP API, IMAP or POP3). Mail server providers run their
// own short inner poll loop; the Fetcher wraps any provider in the longer
// outer retry loop and owns the final success or failure.
package verify

import (
	"context"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

// GetVerificationCode fetches the code for the account in cfg (or the one
// given with WithAccount). It fails with an error matching ErrConfig when
// cfg is invalid and with *MaxRetriesExceededError when no code arrives.
func GetVerificationCode(ctx context.Context, cfg *config.Config, opts ...Option) (string, error) {
	res, err := FetchVerificationCode(ctx, cfg, opts...)
	if err != nil {
		return "", err
	}
	return res.Code, nil
}

// FetchVerificationCode is GetVerificationCode returning the matched
// message along with the code.
func FetchVerificationCode(ctx context.Context, cfg *config.Config, opts ...Option) (Result, error) {
	provider, err := NewProvider(cfg, opts...)
	if err != nil {
		return Result{}, err
	}

	if cfg.Archive.Mbox != "" {
		opts = append([]Option{WithArchive(email.NewArchive(cfg.Archive.Mbox))}, opts...)
	}
	return NewFetcher(provider, cfg.WithDefaults().Retry, opts...).FetchResult(ctx)
}
