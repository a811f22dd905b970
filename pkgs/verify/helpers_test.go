package verify

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sleepRecorder records requested delays without waiting. Hook, when set,
// runs on every call with the 1-based call number.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	Hook   func(call int)
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	hook := s.Hook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// count returns how many recorded delays equal d.
func (s *sleepRecorder) count(d time.Duration) int {
	n := 0
	for _, got := range s.Delays() {
		if got == d {
			n++
		}
	}
	return n
}

// stubProvider returns scripted results, one per call. The last entry
// repeats.
type stubProvider struct {
	results []stubResult
	calls   int
	cleaned []Result
	cleanFn func(Result) error
}

type stubResult struct {
	code string
	err  error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) FetchCode(ctx context.Context) (Result, error) {
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	r := p.results[i]
	if r.err != nil {
		return Result{}, r.err
	}
	return Result{Code: r.code}, nil
}

type cleaningStub struct {
	*stubProvider
}

func (p cleaningStub) Cleanup(ctx context.Context, res Result) error {
	p.cleaned = append(p.cleaned, res)
	if p.cleanFn != nil {
		return p.cleanFn(res)
	}
	return nil
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatal(err)
	}
	return n
}
