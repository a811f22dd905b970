package email

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
)

// Archive appends messages to an mbox file. It is safe for concurrent use.
type Archive struct {
	path string
	mu   sync.Mutex
}

// NewArchive returns an archive writing to path. The file is created on
// first append.
func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

// Path returns the mbox file path.
func (a *Archive) Path() string {
	return a.path
}

// Append writes msg to the end of the mbox file. Messages without raw
// content (disposable-mail API results) are rendered as plain text first.
func (a *Archive) Append(msg *Message) error {
	raw := msg.Raw
	if len(raw) == 0 {
		buf, err := BuildTextMessage(SendOptions{
			From:     Address{Email: msg.SenderAddress()},
			To:       msg.To,
			Subject:  msg.Subject,
			TextBody: msg.TextBody,
		})
		if err != nil {
			return fmt.Errorf("rendering message: %w", err)
		}
		raw = buf.Bytes()
	}

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating archive directory: %w", err)
		}
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	w := mbox.NewWriter(f)
	mw, err := w.CreateMessage(msg.SenderAddress(), date)
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	if _, err := mw.Write(raw); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing mbox writer: %w", err)
	}
	return nil
}
