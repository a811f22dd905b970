package mailtest

import (
	"encoding/json"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	http "github.com/bogdanfinn/fhttp"
)

// TempMail is a message held by TempMailAPI.
type TempMail struct {
	ID      int
	From    string
	Subject string
	Text    string
}

// TempMailAPI is an in-memory disposable-mail API. It implements the Do
// method of an HTTP client, so it can stand in for one without a listener.
type TempMailAPI struct {
	Address string
	EPin    string

	// DeleteFailures is the number of DELETE calls answered with
	// result:false before deletes succeed. Negative means never.
	DeleteFailures int

	mu       sync.Mutex
	mails    []TempMail
	nextID   int
	deleted  []string
	requests []string
}

// NewTempMailAPI returns an empty inbox for address.
func NewTempMailAPI(address, epin string) *TempMailAPI {
	return &TempMailAPI{Address: address, EPin: epin, nextID: 1}
}

// SetNextID sets the id of the next delivered message.
func (a *TempMailAPI) SetNextID(id int) {
	a.mu.Lock()
	a.nextID = id
	a.mu.Unlock()
}

// Deliver adds a message to the inbox and returns its id.
func (a *TempMailAPI) Deliver(from, subject, text string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.mails = append(a.mails, TempMail{ID: id, From: from, Subject: subject, Text: text})
	return id
}

// Deleted returns the first_id values of confirmed deletes.
func (a *TempMailAPI) Deleted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deleted...)
}

// Requests returns "METHOD path" for every request received.
func (a *TempMailAPI) Requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

// Do implements the HTTP client interface.
func (a *TempMailAPI) Do(req *http.Request) (*http.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req.Method+" "+req.URL.Path)

	params := req.URL.Query()
	if req.Method == http.MethodDelete && req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if params, err = url.ParseQuery(string(b)); err != nil {
			return jsonResponse(400, map[string]interface{}{"result": false})
		}
	}
	if params.Get("email") != a.Address || params.Get("epin") != a.EPin {
		return jsonResponse(200, map[string]interface{}{"result": false, "err": "bad inbox or pin"})
	}

	path := req.URL.Path
	switch {
	case req.Method == http.MethodGet && path == "/api/mails":
		return a.list(params)
	case req.Method == http.MethodGet && strings.HasPrefix(path, "/api/mails/"):
		return a.detail(strings.TrimPrefix(path, "/api/mails/"))
	case req.Method == http.MethodDelete && path == "/api/mails/":
		return a.delete(params.Get("first_id"))
	}
	return jsonResponse(404, map[string]interface{}{"result": false})
}

func (a *TempMailAPI) list(params url.Values) (*http.Response, error) {
	limit, _ := strconv.Atoi(params.Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	var list []map[string]interface{}
	for i := len(a.mails) - 1; i >= 0 && len(list) < limit; i-- {
		m := a.mails[i]
		list = append(list, map[string]interface{}{
			"mail_id":   m.ID,
			"from_mail": m.From,
			"subject":   m.Subject,
			"is_new":    true,
		})
	}

	firstID := 0
	if len(a.mails) > 0 {
		firstID = a.mails[len(a.mails)-1].ID
	}
	return jsonResponse(200, map[string]interface{}{
		"result":    true,
		"count":     len(a.mails),
		"first_id":  firstID,
		"mail_list": list,
	})
}

func (a *TempMailAPI) detail(id string) (*http.Response, error) {
	for _, m := range a.mails {
		if strconv.Itoa(m.ID) == id {
			return jsonResponse(200, map[string]interface{}{
				"result":    true,
				"from_mail": m.From,
				"subject":   m.Subject,
				"text":      m.Text,
			})
		}
	}
	return jsonResponse(200, map[string]interface{}{"result": false})
}

func (a *TempMailAPI) delete(firstID string) (*http.Response, error) {
	if a.DeleteFailures != 0 {
		if a.DeleteFailures > 0 {
			a.DeleteFailures--
		}
		return jsonResponse(200, map[string]interface{}{"result": false})
	}

	kept := a.mails[:0]
	for _, m := range a.mails {
		if strconv.Itoa(m.ID) != firstID {
			kept = append(kept, m)
		}
	}
	a.mails = kept
	a.deleted = append(a.deleted, firstID)
	return jsonResponse(200, map[string]interface{}{"result": true})
}

func jsonResponse(status int, body interface{}) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(b))),
	}, nil
}
