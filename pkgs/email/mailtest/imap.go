package mailtest

import (
	"crypto/tls"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

// Credentials accepted by every mock server in this package.
const (
	User = "testuser"
	Pass = "testpass"
)

// IMAPServer is an in-memory IMAP server listening on implicit TLS.
type IMAPServer struct {
	Addr string
	Host string
	Port int

	mem *imapmemserver.Server
}

// NewIMAPServer starts an in-memory IMAP server with an INBOX for User.
// It is closed by t.Cleanup.
func NewIMAPServer(t testing.TB) *IMAPServer {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(User, Pass)
	user.Create("INBOX", nil)
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	ln, err := tls.Listen("tcp", "127.0.0.1:0", ServerTLSConfig(t))
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	host, port := SplitHostPort(t, ln.Addr().String())
	return &IMAPServer{Addr: ln.Addr().String(), Host: host, Port: port, mem: mem}
}

// Append appends a raw RFC 5322 message to mailbox through a separate
// client connection.
func (s *IMAPServer) Append(t testing.TB, mailbox, rawMsg string) {
	t.Helper()

	c := s.dial(t)
	defer c.Close()

	appendCmd := c.Append(mailbox, int64(len(rawMsg)), nil)
	if _, err := appendCmd.Write([]byte(rawMsg)); err != nil {
		t.Fatal(err)
	}
	if err := appendCmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		t.Fatal(err)
	}
}

// Count returns the number of messages in mailbox.
func (s *IMAPServer) Count(t testing.TB, mailbox string) uint32 {
	t.Helper()

	c := s.dial(t)
	defer c.Close()

	data, err := c.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		t.Fatal(err)
	}
	return data.NumMessages
}

func (s *IMAPServer) dial(t testing.TB) *imapclient.Client {
	t.Helper()

	conn, err := tls.Dial("tcp", s.Addr, ClientTLSConfig())
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	if err := c.Login(User, Pass).Wait(); err != nil {
		c.Close()
		t.Fatal(err)
	}
	return c
}
