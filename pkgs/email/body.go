package email

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ParseMessage parses raw RFC 5322 bytes into a Message, extracting the
// envelope headers and the plain-text body.
//
// This function is used by both IMAPClient and POP3Client to avoid
// duplicating the parsing logic.
func ParseMessage(log *slog.Logger, raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
		return nil, err
	}

	msg := &Message{Raw: raw}
	h := mail.Header{Header: entity.Header}

	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil {
		msg.From = mailAddrsToEmail(from)
	} else if v := h.Get("From"); v != "" {
		msg.From = []Address{{Email: v}}
	}
	if to, err := h.AddressList("To"); err == nil {
		msg.To = mailAddrsToEmail(to)
	} else if v := h.Get("To"); v != "" {
		msg.To = []Address{{Email: v}}
	}

	msg.TextBody = ExtractBody(log, entity)
	return msg, nil
}

// ExtractBody returns the first text/plain, non-attachment part of entity
// decoded to UTF-8. Multipart messages are walked depth-first in original
// order. Decoding problems are logged and swallowed; "" means no usable body.
func ExtractBody(log *slog.Logger, entity *gomessage.Entity) string {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	body, _ := walkEntity(log, entity)
	return body
}

// walkEntity reports found=true once a qualifying part has been read.
func walkEntity(log *slog.Logger, entity *gomessage.Entity) (string, bool) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return "", false
			}
			if err != nil && part == nil {
				log.Warn("failed to read message part", slog.String("error", err.Error()))
				return "", false
			}
			if err != nil {
				// Unknown charset or transfer encoding: the part body is raw.
				log.Warn("decoding message part", slog.String("error", err.Error()))
			}
			if body, ok := walkEntity(log, part); ok {
				return body, true
			}
		}
	}

	if !isPlainText(entity.Header) {
		return "", false
	}
	return readText(log, entity.Body), true
}

func isPlainText(h gomessage.Header) bool {
	if disp, _, err := h.ContentDisposition(); err == nil && strings.EqualFold(disp, "attachment") {
		return false
	}
	if h.Get("Content-Type") == "" {
		return true
	}
	ct, _, err := h.ContentType()
	if err != nil {
		return false
	}
	return strings.EqualFold(ct, "text/plain")
}

// readText reads r fully. Read errors keep whatever was read; invalid
// UTF-8 sequences are replaced with U+FFFD.
func readText(log *slog.Logger, r io.Reader) string {
	b, err := io.ReadAll(r)
	if err != nil {
		log.Warn("failed to decode email body", slog.String("error", err.Error()))
	}
	return strings.ToValidUTF8(string(b), "�")
}

func mailAddrsToEmail(addrs []*mail.Address) []Address {
	dec := &mime.WordDecoder{}
	out := make([]Address, len(addrs))
	for i, a := range addrs {
		name := a.Name
		if decoded, err := dec.DecodeHeader(name); err == nil {
			name = decoded
		}
		out[i] = Address{Name: name, Email: a.Address}
	}
	return out
}
