package email

import (
	"strings"
	"time"
)

// Message represents a candidate verification email
type Message struct {
	// Envelope
	From    []Address
	To      []Address
	Subject string
	Date    time.Time

	// Content
	TextBody string

	// ProviderID addresses the message at its provider (IMAP UID, POP3
	// index, disposable-mail id). Only used for deletion.
	ProviderID string

	// Raw is the RFC 5322 source when the transport delivers one.
	Raw []byte
}

// Address represents an email address
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HasRecipient reports whether account appears in the To list.
func (m *Message) HasRecipient(account string) bool {
	for _, a := range m.To {
		if strings.EqualFold(a.Email, account) {
			return true
		}
	}
	return false
}

// FromContains reports whether any From address contains sender.
func (m *Message) FromContains(sender string) bool {
	sender = strings.ToLower(sender)
	for _, a := range m.From {
		if strings.Contains(strings.ToLower(a.Email), sender) {
			return true
		}
	}
	return false
}

// SenderAddress returns the first From address, or "MAILER-DAEMON".
func (m *Message) SenderAddress() string {
	if len(m.From) > 0 && m.From[0].Email != "" {
		return m.From[0].Email
	}
	return "MAILER-DAEMON"
}
