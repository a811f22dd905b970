package logging

import (
	"log/slog"

	"github.com/google/uuid"
)

// FetchIDKey is the attribute key carrying the per-run fetch identifier.
const FetchIDKey = "fetch_id"

// NewFetchID returns a fresh identifier for one retrieval run.
func NewFetchID() string {
	return uuid.NewString()
}

// WithFetchID returns log tagged with a new fetch identifier, and the identifier.
func WithFetchID(log *slog.Logger) (*slog.Logger, string) {
	id := NewFetchID()
	return log.With(slog.String(FetchIDKey, id)), id
}
