package email

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// POP3Client represents a POP3 client with high-level operations
// that return email.Message types.
type POP3Client struct {
	config POP3Config
	log    *slog.Logger
}

// POP3Config holds POP3 configuration. The connection always uses
// implicit TLS (POP3S).
type POP3Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLSConfig overrides the default TLS settings (tests, private CAs).
	TLSConfig *tls.Config
	// DialTimeout defaults to 10 seconds.
	DialTimeout time.Duration
	// Timeout bounds each command round trip. It defaults to 30 seconds.
	Timeout time.Duration
}

// NewPOP3Client creates a new POP3 client
func NewPOP3Client(log *slog.Logger, config POP3Config) *POP3Client {
	return &POP3Client{config: config, log: log}
}

// FetchRecent connects, authenticates and retrieves up to limit of the most
// recent messages, newest first. Messages that fail to download or parse are
// skipped. Nothing is deleted from the maildrop. Cancelling ctx closes the
// connection.
func (c *POP3Client) FetchRecent(ctx context.Context, limit int) ([]*Message, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.quit()

	ids, err := conn.list()
	if err != nil {
		return nil, fmt.Errorf("POP3 LIST failed: %w", err)
	}

	// Highest index is the most recently delivered message.
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		raw, err := conn.retr(id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("POP3 RETR failed", slog.Int("id", id), slog.String("error", err.Error()))
			continue
		}
		msg, err := ParseMessage(c.log, raw)
		if err != nil {
			c.log.Warn("failed to parse POP3 message", slog.Int("id", id), slog.String("error", err.Error()))
			continue
		}
		msg.ProviderID = strconv.Itoa(id)
		messages = append(messages, msg)
	}

	return messages, nil
}

// connect dials and authenticates to the POP3 server.
func (c *POP3Client) connect(ctx context.Context) (*pop3Conn, error) {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	timeout := c.config.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	tlsCfg := c.config.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: c.config.Host}
	}

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	netConn, err := tlsDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("POP3 connection to %s failed: %w", addr, err)
	}

	cmdTimeout := c.config.Timeout
	if cmdTimeout <= 0 {
		cmdTimeout = 30 * time.Second
	}
	conn := &pop3Conn{
		conn:    netConn,
		r:       bufio.NewReader(netConn),
		w:       bufio.NewWriter(netConn),
		timeout: cmdTimeout,
		stop:    context.AfterFunc(ctx, func() { netConn.Close() }),
	}
	conn.extendDeadline()

	// Read the server greeting
	if _, err := conn.readOne(); err != nil {
		conn.close()
		return nil, fmt.Errorf("POP3 greeting failed: %w", err)
	}

	if err := conn.auth(c.config.Username, c.config.Password); err != nil {
		conn.close()
		return nil, fmt.Errorf("POP3 authentication failed: %w", err)
	}

	return conn, nil
}

// ---------- low-level POP3 protocol ----------

var (
	pop3LineBreak   = []byte("\r\n")
	pop3RespOK      = []byte("+OK")
	pop3RespOKInfo  = []byte("+OK ")
	pop3RespErr     = []byte("-ERR")
	pop3RespErrInfo = []byte("-ERR ")
)

// pop3Conn is a raw POP3 connection.
type pop3Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	// stop detaches the context watcher that closes conn on cancellation.
	stop func() bool
}

// extendDeadline gives the next command round trip a fresh timeout.
func (c *pop3Conn) extendDeadline() {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
}

// send writes a POP3 command line.
func (c *pop3Conn) send(s string) error {
	if _, err := c.w.WriteString(s + "\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// cmd sends a command and reads the response.
// If isMulti is true, it reads until the "." terminator.
func (c *pop3Conn) cmd(cmd string, isMulti bool, args ...interface{}) (*bytes.Buffer, error) {
	cmdLine := cmd
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprintf("%v", a)
		}
		cmdLine = cmd + " " + strings.Join(parts, " ")
	}

	c.extendDeadline()
	if err := c.send(cmdLine); err != nil {
		return nil, err
	}

	b, err := c.readOne()
	if err != nil {
		return nil, err
	}

	if !isMulti {
		return bytes.NewBuffer(b), nil
	}

	return c.readAll()
}

// readOne reads a single-line response and checks +OK/-ERR.
func (c *pop3Conn) readOne() ([]byte, error) {
	b, err := c.readLine()
	if err != nil {
		return nil, err
	}
	return parsePOP3Resp(b)
}

// readAll reads lines until the POP3 multiline terminator ".".
func (c *pop3Conn) readAll() (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	for {
		b, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(b, []byte(".")) {
			break
		}
		// Byte-stuff: lines starting with "." have the leading dot removed
		if bytes.HasPrefix(b, []byte("..")) {
			b = b[1:]
		}
		buf.Write(b)
		buf.Write(pop3LineBreak)
	}
	return buf, nil
}

// readLine reads one full line without its line ending, however long.
func (c *pop3Conn) readLine() ([]byte, error) {
	line, isPrefix, err := c.r.ReadLine()
	if err != nil || !isPrefix {
		return line, err
	}
	full := append([]byte(nil), line...)
	for isPrefix {
		line, isPrefix, err = c.r.ReadLine()
		if err != nil {
			return nil, err
		}
		full = append(full, line...)
	}
	return full, nil
}

// auth authenticates with USER/PASS.
func (c *pop3Conn) auth(user, password string) error {
	if _, err := c.cmd("USER", false, user); err != nil {
		return err
	}
	_, err := c.cmd("PASS", false, password)
	return err
}

// list returns the ids of all messages in the maildrop.
func (c *pop3Conn) list() ([]int, error) {
	buf, err := c.cmd("LIST", true)
	if err != nil {
		return nil, err
	}

	var out []int
	for _, l := range bytes.Split(buf.Bytes(), pop3LineBreak) {
		f := bytes.Fields(l)
		if len(f) < 2 {
			continue
		}
		id, err := strconv.Atoi(string(f[0]))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// retr downloads a message.
func (c *pop3Conn) retr(msgID int) ([]byte, error) {
	b, err := c.cmd("RETR", true, msgID)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// quit sends QUIT and closes the connection.
func (c *pop3Conn) quit() error {
	c.cmd("QUIT", false) //nolint: ignore QUIT errors
	return c.close()
}

func (c *pop3Conn) close() error {
	if c.stop != nil {
		c.stop()
	}
	return c.conn.Close()
}

// ---------- response parsing ----------

func parsePOP3Resp(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if bytes.Equal(b, pop3RespOK) {
		return nil, nil
	}
	if bytes.HasPrefix(b, pop3RespOKInfo) {
		return bytes.TrimPrefix(b, pop3RespOKInfo), nil
	}
	if bytes.Equal(b, pop3RespErr) {
		return nil, errors.New("POP3: unknown error")
	}
	if bytes.HasPrefix(b, pop3RespErrInfo) {
		return nil, fmt.Errorf("POP3: %s", bytes.TrimPrefix(b, pop3RespErrInfo))
	}
	return nil, fmt.Errorf("POP3: unexpected response: %s", string(b))
}
