package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// ErrNotConnected is returned by IMAPClient methods called before Connect.
var ErrNotConnected = errors.New("IMAP client is not connected")

// IMAPClient represents an IMAP client
type IMAPClient struct {
	config IMAPConfig
	client *imapclient.Client
	log    *slog.Logger
	// stop detaches the context watcher installed by Connect.
	stop func() bool
}

// IMAPConfig holds IMAP configuration
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// StartTLS upgrades a plaintext connection instead of dialing TLS.
	StartTLS bool
	// SASLPlain authenticates with AUTHENTICATE PLAIN instead of LOGIN.
	SASLPlain bool
	// TLSConfig overrides the default TLS settings (tests, private CAs).
	TLSConfig *tls.Config
	// DialTimeout defaults to 10 seconds.
	DialTimeout time.Duration
}

// NewIMAPClient creates a new IMAP client
func NewIMAPClient(log *slog.Logger, config IMAPConfig) *IMAPClient {
	return &IMAPClient{
		config: config,
		log:    log,
	}
}

// Connect establishes a secure connection to the IMAP server and
// authenticates. The connection is closed when ctx is done, which unblocks
// any command in flight.
func (c *IMAPClient) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	tlsCfg := c.config.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: c.config.Host}
	}
	opts := &imapclient.Options{TLSConfig: tlsCfg}

	timeout := c.config.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if c.config.StartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		implicit := tlsCfg.Clone()
		if implicit.NextProtos == nil {
			implicit.NextProtos = []string{"imap"}
		}
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: implicit}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	var client *imapclient.Client
	if c.config.StartTLS {
		client, err = imapclient.NewStartTLS(conn, opts)
	} else {
		client = imapclient.New(conn, opts)
	}
	if err != nil {
		stop()
		conn.Close()
		return fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}

	if c.config.SASLPlain {
		err = client.Authenticate(sasl.NewPlainClient("", c.config.Username, c.config.Password))
	} else {
		err = client.Login(c.config.Username, c.config.Password).Wait()
	}
	if err != nil {
		stop()
		client.Close()
		return fmt.Errorf("IMAP authentication failed: %w", err)
	}

	c.client = client
	c.stop = stop
	return nil
}

// Identify sends the IMAP ID command. Some consumer webmail providers refuse
// SELECT until the client has identified itself.
func (c *IMAPClient) Identify(name, version, vendor string) error {
	if c.client == nil {
		return ErrNotConnected
	}
	_, err := c.client.ID(&imap.IDData{
		Name:    name,
		Version: version,
		Vendor:  vendor,
	}).Wait()
	if err != nil {
		return fmt.Errorf("IMAP ID failed: %w", err)
	}
	return nil
}

// Select opens folder and returns its message count.
func (c *IMAPClient) Select(folder string) (uint32, error) {
	if c.client == nil {
		return 0, ErrNotConnected
	}
	if folder == "" {
		folder = "INBOX"
	}
	data, err := c.client.Select(folder, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	return data.NumMessages, nil
}

// SearchRecipient returns the UIDs of messages addressed to account.
func (c *IMAPClient) SearchRecipient(account string) ([]imap.UID, error) {
	return c.search(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "To", Value: account}},
	})
}

// SearchUnseenOn returns the UIDs of unseen messages received on day's
// calendar date (in day's location).
func (c *IMAPClient) SearchUnseenOn(day time.Time) ([]imap.UID, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return c.search(&imap.SearchCriteria{
		Since:   start,
		Before:  start.AddDate(0, 0, 1),
		NotFlag: []imap.Flag{imap.FlagSeen},
	})
}

func (c *IMAPClient) search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}
	data, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("IMAP search failed: %w", err)
	}
	return data.AllUIDs(), nil
}

// FetchMessage fetches the full RFC 822 message for uid and parses it.
// Fetching the body marks the message \Seen, like FETCH (RFC822).
func (c *IMAPClient) FetchMessage(uid imap.UID) (*Message, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	msgs, err := c.client.Fetch(imap.UIDSetNum(uid), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message UID %d: %w", uid, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	raw := msgs[0].FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("no body section returned for UID %d", uid)
	}

	msg, err := ParseMessage(c.log, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message UID %d: %w", uid, err)
	}
	msg.ProviderID = strconv.FormatUint(uint64(uid), 10)
	return msg, nil
}

// DeleteMessage marks a message \Deleted and, if expunge is set, expunges
// the selected folder.
func (c *IMAPClient) DeleteMessage(uid imap.UID, expunge bool) error {
	if c.client == nil {
		return ErrNotConnected
	}

	_, err := c.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagDeleted},
	}, nil).Collect()
	if err != nil {
		return fmt.Errorf("failed to mark message as deleted: %w", err)
	}

	if expunge {
		if _, err := c.client.Expunge().Collect(); err != nil {
			return fmt.Errorf("failed to expunge messages: %w", err)
		}
	}
	return nil
}

// Logout sends LOGOUT and closes the connection. It is safe to call on a
// client that never connected.
func (c *IMAPClient) Logout() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout().Wait()
	c.client.Close() // the server already hung up after BYE
	c.client = nil
	c.detach()
	return err
}

// Close closes the IMAP connection without logging out
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		c.detach()
		return err
	}
	return nil
}

func (c *IMAPClient) detach() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}
