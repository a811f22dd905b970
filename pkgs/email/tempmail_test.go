package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

type fakeRoute func(req *http.Request) (int, string, error)

// fakeDoer routes requests by "METHOD path" and records them.
type fakeDoer struct {
	mu       sync.Mutex
	routes   map[string]fakeRoute
	requests []*http.Request
	bodies   []string
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{routes: map[string]fakeRoute{}}
}

func (d *fakeDoer) handle(method, path string, fn fakeRoute) {
	d.routes[method+" "+path] = fn
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}

	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body)
	fn, ok := d.routes[req.Method+" "+req.URL.Path]
	d.mu.Unlock()

	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader("not found"))}, nil
	}
	status, resp, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(resp))}, nil
}

func (d *fakeDoer) count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.requests {
		if r.Method == method {
			n++
		}
	}
	return n
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTempMailTestClient(t *testing.T, doer HTTPDoer, sleeper *sleepRecorder) *TempMailClient {
	t.Helper()
	client, err := NewTempMailClient(discardLogger(), TempMailConfig{
		BaseURL: "https://mail.test/",
		Address: "abc@x.test",
		EPin:    "pin",
		Sleep:   sleeper.Sleep,
	}, doer)
	if err != nil {
		t.Fatalf("NewTempMailClient() error: %v", err)
	}
	return client
}

func TestTempMailListRecent(t *testing.T) {
	doer := newFakeDoer()
	doer.handle("GET", "/api/mails", func(req *http.Request) (int, string, error) {
		q := req.URL.Query()
		if q.Get("email") != "abc@x.test" || q.Get("limit") != "20" || q.Get("epin") != "pin" {
			t.Errorf("unexpected query: %s", req.URL.RawQuery)
		}
		return 200, `{"result":true,"first_id":42,"count":1,"mail_list":[{"mail_id":42,"from_mail":"no-reply@cursor.sh","subject":"code","is_new":true}]}`, nil
	})
	sleeper := &sleepRecorder{}
	client := newTempMailTestClient(t, doer, sleeper)

	list, err := client.ListRecent(context.Background(), 20)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if !list.Result || list.FirstID != "42" {
		t.Errorf("unexpected list: %+v", list)
	}
	if len(list.Mails) != 1 || list.Mails[0].From != "no-reply@cursor.sh" {
		t.Errorf("unexpected mails: %+v", list.Mails)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != 500*time.Millisecond {
		t.Errorf("expected one 500ms throttle, got %v", sleeper.delays)
	}
}

func TestTempMailFetchBody(t *testing.T) {
	doer := newFakeDoer()
	doer.handle("GET", "/api/mails/42", func(req *http.Request) (int, string, error) {
		return 200, `{"result":true,"from_mail":"no-reply@cursor.sh","subject":"code","text":"Your code is 482913 today"}`, nil
	})
	client := newTempMailTestClient(t, doer, &sleepRecorder{})

	detail, err := client.FetchBody(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchBody() error: %v", err)
	}
	if detail.Text != "Your code is 482913 today" {
		t.Errorf("unexpected text: %q", detail.Text)
	}
}

func TestTempMailHTTPErrors(t *testing.T) {
	doer := newFakeDoer()
	doer.handle("GET", "/api/mails", func(req *http.Request) (int, string, error) {
		return 500, "boom", nil
	})
	doer.handle("GET", "/api/mails/1", func(req *http.Request) (int, string, error) {
		return 200, "not json", nil
	})
	doer.handle("GET", "/api/mails/2", func(req *http.Request) (int, string, error) {
		return 0, "", errors.New("connection reset")
	})
	client := newTempMailTestClient(t, doer, &sleepRecorder{})

	if _, err := client.ListRecent(context.Background(), 20); err == nil || !strings.Contains(err.Error(), "unexpected status 500") {
		t.Errorf("ListRecent() error = %v", err)
	}
	if _, err := client.FetchBody(context.Background(), "1"); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Errorf("FetchBody(1) error = %v", err)
	}
	if _, err := client.FetchBody(context.Background(), "2"); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("FetchBody(2) error = %v", err)
	}
}

func TestTempMailDelete_RetriesUntilConfirmed(t *testing.T) {
	doer := newFakeDoer()
	calls := 0
	doer.handle("DELETE", "/api/mails/", func(req *http.Request) (int, string, error) {
		calls++
		if calls < 5 {
			return 200, `{"result":false}`, nil
		}
		return 200, `{"result":true}`, nil
	})
	sleeper := &sleepRecorder{}
	client := newTempMailTestClient(t, doer, sleeper)

	if !client.Delete(context.Background(), "42") {
		t.Fatal("Delete() = false, want true")
	}
	if calls != 5 {
		t.Errorf("expected 5 DELETE calls, got %d", calls)
	}
	if len(sleeper.delays) != 4 {
		t.Errorf("expected 4 pauses between attempts, got %d", len(sleeper.delays))
	}

	form, err := url.ParseQuery(doer.bodies[0])
	if err != nil {
		t.Fatal(err)
	}
	if form.Get("email") != "abc@x.test" || form.Get("first_id") != "42" || form.Get("epin") != "pin" {
		t.Errorf("unexpected form: %v", form)
	}
}

func TestTempMailDelete_GivesUp(t *testing.T) {
	doer := newFakeDoer()
	doer.handle("DELETE", "/api/mails/", func(req *http.Request) (int, string, error) {
		return 200, `{"result":false}`, nil
	})
	client := newTempMailTestClient(t, doer, &sleepRecorder{})

	if client.Delete(context.Background(), "42") {
		t.Error("Delete() = true, want false")
	}
	if n := doer.count("DELETE"); n != 5 {
		t.Errorf("expected 5 DELETE calls, got %d", n)
	}
}

func TestTempMailDelete_Cancelled(t *testing.T) {
	doer := newFakeDoer()
	doer.handle("DELETE", "/api/mails/", func(req *http.Request) (int, string, error) {
		return 200, `{"result":false}`, nil
	})
	client := newTempMailTestClient(t, doer, &sleepRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if client.Delete(ctx, "42") {
		t.Error("Delete() = true on a cancelled context")
	}
	if n := doer.count("DELETE"); n > 1 {
		t.Errorf("expected at most 1 DELETE call, got %d", n)
	}
}

func TestMailIDUnmarshal(t *testing.T) {
	var list TempMailList
	if err := json.Unmarshal([]byte(`{"first_id":"abc","mail_list":[{"mail_id":7},{"mail_id":null}]}`), &list); err != nil {
		t.Fatal(err)
	}
	if list.FirstID != "abc" {
		t.Errorf("FirstID = %q", list.FirstID)
	}
	if list.Mails[0].MailID != "7" || list.Mails[1].MailID != "" {
		t.Errorf("unexpected mail ids: %q, %q", list.Mails[0].MailID, list.Mails[1].MailID)
	}

	var id MailID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Error("expected error for boolean id")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep(cancelled, 1h) = %v", err)
	}
	if err := Sleep(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep(cancelled, 0) = %v", err)
	}
}
