package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// DefaultTempMailURL is the disposable-mail API used when none is configured.
const DefaultTempMailURL = "https://tempmail.plus"

const (
	tempMailThrottle       = 500 * time.Millisecond
	tempMailDeleteAttempts = 5
)

// HTTPDoer is the subset of tls_client.HttpClient used by TempMailClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TempMailConfig holds disposable-mail API configuration
type TempMailConfig struct {
	BaseURL string
	// Address is the full inbox address (mailbox name + domain suffix).
	Address string
	EPin    string
	// Sleep replaces the throttle delay; nil sleeps for real.
	Sleep func(ctx context.Context, d time.Duration) error
}

// TempMailClient talks to a tempmail.plus style disposable-mail API.
// Every call is followed by a short throttle delay to stay under the
// provider's rate limit.
type TempMailClient struct {
	config TempMailConfig
	http   HTTPDoer
	log    *slog.Logger
}

// MailID is a disposable-mail message id. The API sends it either as a JSON
// number or a string.
type MailID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *MailID) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	switch {
	case s == "null":
		*id = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = MailID(v)
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("invalid mail id %s", s)
		}
		*id = MailID(s)
	}
	return nil
}

// Empty reports whether id names no message. The API uses 0 for an empty
// inbox.
func (id MailID) Empty() bool {
	return id == "" || id == "0"
}

// TempMailSummary is one entry of the inbox listing.
type TempMailSummary struct {
	MailID  MailID `json:"mail_id"`
	From    string `json:"from_mail"`
	Subject string `json:"subject"`
	Time    string `json:"time"`
	IsNew   bool   `json:"is_new"`
}

// TempMailList is the inbox listing response.
type TempMailList struct {
	Result  bool              `json:"result"`
	FirstID MailID            `json:"first_id"`
	Count   int               `json:"count"`
	Mails   []TempMailSummary `json:"mail_list"`
}

// TempMailDetail is the single message response.
type TempMailDetail struct {
	Result  bool   `json:"result"`
	From    string `json:"from_mail"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type tempMailResult struct {
	Result bool `json:"result"`
}

// NewTempMailClient creates a disposable-mail client. A nil doer gets a
// tls-client HTTP client with a browser profile.
func NewTempMailClient(log *slog.Logger, config TempMailConfig, doer HTTPDoer) (*TempMailClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultTempMailURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if doer == nil {
		client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
			tls_client.WithTimeoutSeconds(30),
			tls_client.WithClientProfile(profiles.Chrome_133),
			tls_client.WithCookieJar(tls_client.NewCookieJar()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		doer = client
	}

	return &TempMailClient{config: config, http: doer, log: log}, nil
}

// Address returns the inbox address the client reads.
func (c *TempMailClient) Address() string {
	return c.config.Address
}

// ListRecent lists the newest limit messages of the inbox.
func (c *TempMailClient) ListRecent(ctx context.Context, limit int) (*TempMailList, error) {
	q := url.Values{}
	q.Set("email", c.config.Address)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("epin", c.config.EPin)

	var list TempMailList
	if err := c.getJSON(ctx, "/api/mails?"+q.Encode(), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// FetchBody fetches the text and subject of message id.
func (c *TempMailClient) FetchBody(ctx context.Context, id MailID) (*TempMailDetail, error) {
	q := url.Values{}
	q.Set("email", c.config.Address)
	q.Set("epin", c.config.EPin)

	var detail TempMailDetail
	path := "/api/mails/" + url.PathEscape(string(id)) + "?" + q.Encode()
	if err := c.getJSON(ctx, path, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Delete removes message id, trying up to five times. It reports whether the
// API confirmed the deletion.
func (c *TempMailClient) Delete(ctx context.Context, id MailID) bool {
	form := url.Values{}
	form.Set("email", c.config.Address)
	form.Set("first_id", string(id))
	form.Set("epin", c.config.EPin)

	for attempt := 1; attempt <= tempMailDeleteAttempts; attempt++ {
		ok, err := c.deleteOnce(ctx, form)
		if ok {
			return true
		}
		if err != nil {
			c.log.Debug("delete attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		if err := c.sleep(ctx, tempMailThrottle); err != nil {
			return false
		}
	}
	return false
}

func (c *TempMailClient) deleteOnce(ctx context.Context, form url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.BaseURL+"/api/mails/",
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var res tempMailResult
	if err := c.do(req, &res); err != nil {
		return false, err
	}
	return res.Result, nil
}

func (c *TempMailClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	err = c.do(req, out)
	if serr := c.sleep(ctx, tempMailThrottle); err == nil && serr != nil {
		err = serr
	}
	return err
}

func (c *TempMailClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *TempMailClient) sleep(ctx context.Context, d time.Duration) error {
	if c.config.Sleep != nil {
		return c.config.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
