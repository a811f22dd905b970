package email

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPClient sends plain-text messages. It is used by the self-test to
// deliver a test code into the mailbox under test.
type SMTPClient struct {
	config SMTPConfig
	client *smtp.Client
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	StartTLS bool
	// TLSConfig overrides the default TLS settings (tests, private CAs).
	TLSConfig *tls.Config
}

// SendOptions represents a plain-text message to send
type SendOptions struct {
	From     Address
	To       []Address
	Subject  string
	TextBody string
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(config SMTPConfig) *SMTPClient {
	return &SMTPClient{
		config: config,
	}
}

// Connect establishes a connection to the SMTP server
func (c *SMTPClient) Connect() error {
	tlsCfg := c.config.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: c.config.Host}
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	var client *smtp.Client
	var err error
	switch {
	case c.config.SSL:
		client, err = smtp.DialTLS(addr, tlsCfg)
	case c.config.StartTLS:
		client, err = smtp.DialStartTLS(addr, tlsCfg)
	default:
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	if c.config.Password != "" {
		auth := sasl.NewPlainClient("", c.config.Username, c.config.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	c.client = client
	return nil
}

// Send sends an email, connecting first when needed
func (c *SMTPClient) Send(opts SendOptions) error {
	if c.client == nil {
		if err := c.Connect(); err != nil {
			return err
		}
		defer c.Close()
	}

	msg, err := BuildTextMessage(opts)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	recipients := make([]string, 0, len(opts.To))
	for _, addr := range opts.To {
		recipients = append(recipients, addr.Email)
	}

	if err := c.client.SendMail(opts.From.Email, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Close closes the SMTP connection
func (c *SMTPClient) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// BuildTextMessage renders opts as a single-part text/plain RFC 5322 message.
func BuildTextMessage(opts SendOptions) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(opts.Subject)
	header.SetAddressList("From", []*mail.Address{{
		Name:    opts.From.Name,
		Address: opts.From.Email,
	}})

	toAddrs := make([]*mail.Address, len(opts.To))
	for i, addr := range opts.To {
		toAddrs[i] = &mail.Address{Name: addr.Name, Address: addr.Email}
	}
	header.SetAddressList("To", toAddrs)
	header.Set("Message-ID", GenerateMessageID(opts.From.Email))
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(opts.TextBody)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// GenerateMessageID produces a RFC 5322 compliant Message-ID using the
// domain extracted from the sender's email address.
// Format: <timestamp.random@domain>
func GenerateMessageID(fromEmail string) string {
	domain := "localhost"
	if idx := strings.Index(fromEmail, "@"); idx >= 0 {
		domain = fromEmail[idx+1:]
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	randomPart := hex.EncodeToString(b)

	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), randomPart, domain)
}
