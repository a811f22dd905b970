package mailtest

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// SMTPMessage is a message received by the SMTP mock.
type SMTPMessage struct {
	From string
	To   []string
	Data []byte
}

// SMTPServer is a plaintext SMTP mock accepting PLAIN auth for User/Pass.
type SMTPServer struct {
	Addr string
	Host string
	Port int

	// OnData, when set, is called for every accepted message.
	OnData func(msg *SMTPMessage)

	mu       sync.Mutex
	messages []*SMTPMessage
}

// NewSMTPServer starts the mock. It is closed by t.Cleanup.
func NewSMTPServer(t testing.TB) *SMTPServer {
	t.Helper()

	s := &SMTPServer{}
	srv := gosmtp.NewServer(&smtpBackend{server: s})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	s.Addr = ln.Addr().String()
	s.Host, s.Port = SplitHostPort(t, s.Addr)
	return s
}

// Messages returns a snapshot of the received messages.
func (s *SMTPServer) Messages() []*SMTPMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SMTPMessage(nil), s.messages...)
}

type smtpBackend struct {
	server *SMTPServer
}

func (be *smtpBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &smtpSession{server: be.server}, nil
}

type smtpSession struct {
	server *SMTPServer
	msg    *SMTPMessage
}

func (s *smtpSession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *smtpSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != User || password != Pass {
			return errors.New("invalid credentials")
		}
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.msg = &SMTPMessage{From: from}
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = b

	s.server.mu.Lock()
	s.server.messages = append(s.server.messages, s.msg)
	onData := s.server.OnData
	s.server.mu.Unlock()

	if onData != nil {
		onData(s.msg)
	}
	return nil
}

func (s *smtpSession) Reset()        { s.msg = nil }
func (s *smtpSession) Logout() error { return nil }

var _ gosmtp.AuthSession = (*smtpSession)(nil)
