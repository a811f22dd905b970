package verify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emx-mail/codefetch/pkgs/config"
)

func TestErrorClassification(t *testing.T) {
	timeout := &ProviderError{Provider: "imap", Op: "poll", Err: ErrTimeout}
	assert.ErrorIs(t, timeout, ErrProvider)
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.NotErrorIs(t, timeout, ErrNotFound)
	assert.Equal(t, "imap poll: verification code retrieval timeout", timeout.Error())

	exceeded := &MaxRetriesExceededError{Attempts: 5, Last: fmt.Errorf("wrapped: %w", timeout)}
	assert.ErrorIs(t, exceeded, ErrTimeout)
	assert.ErrorIs(t, exceeded, ErrProvider)

	var pe *ProviderError
	assert.True(t, errors.As(exceeded, &pe))
	assert.Equal(t, "imap", pe.Provider)

	cfgErr := (&config.Config{}).Validate()
	assert.ErrorIs(t, cfgErr, ErrConfig)
	assert.NotErrorIs(t, cfgErr, ErrProvider)
}
