package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/walinekit/sitestats/internal/aggregate"
	"github.com/walinekit/sitestats/internal/clock"
	"github.com/walinekit/sitestats/internal/normalize"
	"github.com/walinekit/sitestats/internal/stats"
	statslogger "github.com/walinekit/sitestats/internal/stats/logger"
)

// fakeService serves canned responses and records every request.
type fakeService struct {
	mu       sync.Mutex
	status   int
	body     string
	hang     bool
	requests []*http.Request
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	status, body, hang := f.status, f.body, f.hang
	f.mu.Unlock()

	if hang {
		<-r.Context().Done()
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeService) last() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newService(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, clk *clock.Fake, endpoints []Endpoint, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithClock(clk),
		WithLogger(zaptest.NewLogger(t)),
	}
	c, err := New(endpoints, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestClient_FetchTotals(t *testing.T) {
	svc := &fakeService{body: `[{"time":3},{"time":5}]`}
	srv := newService(t, svc)
	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{{Name: "primary", BaseURL: srv.URL}})

	records, err := c.FetchTotals(context.Background(), []string{"/a", "/b"})
	if err != nil {
		t.Fatalf("FetchTotals() error = %v", err)
	}
	if got := aggregate.Sum(records); got != 8 {
		t.Errorf("Sum() = %d, want 8", got)
	}

	req := svc.last()
	if req.URL.Path != "/api/article" {
		t.Errorf("path = %q, want /api/article", req.URL.Path)
	}
	if got := req.URL.Query().Get("path"); got != "/a,/b" {
		t.Errorf("path param = %q, want %q", got, "/a,/b")
	}
	if got := req.URL.Query().Get("type"); got != "time" {
		t.Errorf("type param = %q, want time", got)
	}
	if req.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestClient_RetrySchedule(t *testing.T) {
	svc := &fakeService{status: http.StatusServiceUnavailable}
	srv := newService(t, svc)
	clk := clock.NewFake(time.Now())
	collector := statslogger.New(zaptest.NewLogger(t))
	c := newClient(t, clk, []Endpoint{{Name: "only", BaseURL: srv.URL}}, WithStats(collector))

	_, err := c.FetchTotals(context.Background(), []string{"/"})
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("FetchTotals() error = %v, want ErrAllSourcesExhausted", err)
	}
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("FetchTotals() error does not wrap a *NetworkError: %v", err)
	}
	if nerr.StatusCode != http.StatusServiceUnavailable || nerr.Attempt != DefaultMaxAttempts {
		t.Errorf("last error = %+v, want status 503 on attempt %d", nerr, DefaultMaxAttempts)
	}

	if svc.count() != DefaultMaxAttempts {
		t.Errorf("requests = %d, want %d", svc.count(), DefaultMaxAttempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if got := clk.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
	if n := collector.Total(stats.MetricFetchAttempts); n != DefaultMaxAttempts {
		t.Errorf("attempts metric = %d, want %d", n, DefaultMaxAttempts)
	}
	if n := collector.Total(stats.MetricSourcesExhausted); n != 1 {
		t.Errorf("exhausted metric = %d, want 1", n)
	}
}

func TestClient_MaxAttemptsOption(t *testing.T) {
	tests := []struct {
		maxAttempts int
		baseDelay   time.Duration
		wantSleeps  []time.Duration
	}{
		{1, time.Second, []time.Duration{}},
		{2, 500 * time.Millisecond, []time.Duration{500 * time.Millisecond}},
		{4, 100 * time.Millisecond, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}},
	}

	for _, tt := range tests {
		svc := &fakeService{status: http.StatusBadGateway}
		srv := newService(t, svc)
		clk := clock.NewFake(time.Now())
		c := newClient(t, clk, []Endpoint{{BaseURL: srv.URL}},
			WithMaxAttempts(tt.maxAttempts),
			WithBaseDelay(tt.baseDelay),
		)

		if _, err := c.FetchTotals(context.Background(), []string{"/"}); err == nil {
			t.Fatalf("maxAttempts=%d: FetchTotals() expected error", tt.maxAttempts)
		}
		if svc.count() != tt.maxAttempts {
			t.Errorf("maxAttempts=%d: requests = %d", tt.maxAttempts, svc.count())
		}
		if got := clk.Sleeps(); !reflect.DeepEqual(got, tt.wantSleeps) {
			t.Errorf("maxAttempts=%d: sleeps = %v, want %v", tt.maxAttempts, got, tt.wantSleeps)
		}
	}
}

func TestClient_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"time":7}]}`))
	}))
	defer srv.Close()

	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{{BaseURL: srv.URL}})
	records, err := c.FetchTotals(context.Background(), []string{"/a"})
	if err != nil {
		t.Fatalf("FetchTotals() error = %v", err)
	}
	if got := aggregate.Sum(records); got != 7 {
		t.Errorf("Sum() = %d, want 7", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_FallbackByPriority(t *testing.T) {
	down := &fakeService{status: http.StatusInternalServerError}
	up := &fakeService{body: `{"/a":4}`}
	unused := &fakeService{body: `{"/a":100}`}
	downSrv, upSrv, unusedSrv := newService(t, down), newService(t, up), newService(t, unused)

	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{
		{Name: "unused", BaseURL: unusedSrv.URL, Priority: 2},
		{Name: "up", BaseURL: upSrv.URL, Priority: 1},
		{Name: "down", BaseURL: downSrv.URL, Priority: 0},
	})

	names := make([]string, 0, 3)
	for _, ep := range c.Endpoints() {
		names = append(names, ep.Name)
	}
	if want := []string{"down", "up", "unused"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Endpoints() = %v, want %v", names, want)
	}

	records, err := c.FetchTotals(context.Background(), []string{"/a"})
	if err != nil {
		t.Fatalf("FetchTotals() error = %v", err)
	}
	if got := aggregate.Sum(records); got != 4 {
		t.Errorf("Sum() = %d, want 4", got)
	}
	if down.count() != DefaultMaxAttempts {
		t.Errorf("down requests = %d, want %d", down.count(), DefaultMaxAttempts)
	}
	if unused.count() != 0 {
		t.Errorf("unused requests = %d, want 0", unused.count())
	}
}

func TestClient_AllEndpointsTimeOut(t *testing.T) {
	a := &fakeService{hang: true}
	b := &fakeService{hang: true}
	srvA, srvB := newService(t, a), newService(t, b)

	c := newClient(t, clock.NewFake(time.Now()),
		[]Endpoint{{Name: "a", BaseURL: srvA.URL}, {Name: "b", BaseURL: srvB.URL}},
		WithAttemptTimeout(20*time.Millisecond),
	)

	_, err := c.FetchTotals(context.Background(), []string{"/"})
	if !errors.Is(err, ErrAllSourcesExhausted) {
		t.Fatalf("FetchTotals() error = %v, want ErrAllSourcesExhausted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("FetchTotals() error = %v, want it to wrap DeadlineExceeded", err)
	}
	if a.count() != DefaultMaxAttempts || b.count() != DefaultMaxAttempts {
		t.Errorf("requests = %d/%d, want %d each", a.count(), b.count(), DefaultMaxAttempts)
	}
}

func TestClient_ParseErrorNotRetried(t *testing.T) {
	bad := &fakeService{body: `<html>maintenance</html>`}
	srv := newService(t, bad)
	clk := clock.NewFake(time.Now())
	collector := statslogger.New(zaptest.NewLogger(t))
	c := newClient(t, clk, []Endpoint{{BaseURL: srv.URL}}, WithStats(collector))

	records, err := c.FetchTotals(context.Background(), []string{"/a"})
	if err != nil {
		t.Fatalf("FetchTotals() error = %v, want nil", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %v, want none", records)
	}
	if bad.count() != 1 {
		t.Errorf("requests = %d, want 1", bad.count())
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("sleeps = %v, want none", clk.Sleeps())
	}
	if n := collector.Total(stats.MetricParseErrors); n != 1 {
		t.Errorf("parse errors = %d, want 1", n)
	}
}

func TestClient_ParseErrorFallsThrough(t *testing.T) {
	bad := &fakeService{body: `true`}
	good := &fakeService{body: `12`}
	badSrv, goodSrv := newService(t, bad), newService(t, good)

	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{
		{Name: "bad", BaseURL: badSrv.URL},
		{Name: "good", BaseURL: goodSrv.URL},
	})
	records, err := c.FetchTotals(context.Background(), []string{"/a", "/b"})
	if err != nil {
		t.Fatalf("FetchTotals() error = %v", err)
	}
	if got := aggregate.Sum(records); got != 12 {
		t.Errorf("Sum() = %d, want 12", got)
	}
}

func TestClient_FetchActivity(t *testing.T) {
	svc := &fakeService{body: `{"errno":0,"data":42}`}
	srv := newService(t, svc)
	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{{BaseURL: srv.URL}}, WithLang("en-US"))

	records, err := c.FetchActivity(context.Background())
	if err != nil {
		t.Fatalf("FetchActivity() error = %v", err)
	}
	if got := aggregate.Sum(records); got != 42 {
		t.Errorf("Sum() = %d, want 42", got)
	}

	req := svc.last()
	if req.URL.Path != "/api/comment" {
		t.Errorf("path = %q, want /api/comment", req.URL.Path)
	}
	q := req.URL.Query()
	if q.Get("type") != "count" || q.Get("lang") != "en-US" {
		t.Errorf("query = %v, want type=count lang=en-US", q)
	}
}

func TestClient_CustomParser(t *testing.T) {
	svc := &fakeService{body: `[5]`}
	srv := newService(t, svc)
	mapOnly, err := normalize.NewParser("map", "")
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{{BaseURL: srv.URL, Parser: mapOnly}})

	records, err := c.FetchTotals(context.Background(), []string{"/a"})
	if err != nil || len(records) != 0 {
		t.Errorf("FetchTotals() = %v, %v, want empty result", records, err)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	svc := &fakeService{status: http.StatusServiceUnavailable}
	srv := newService(t, svc)
	c := newClient(t, clock.NewFake(time.Now()), []Endpoint{{BaseURL: srv.URL}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchTotals(ctx, []string{"/"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FetchTotals() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllSourcesExhausted) {
		t.Error("canceled fetch reported as exhausted")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("New(nil) error = %v, want ErrNoEndpoints", err)
	}
	for _, base := range []string{"", "not a url", "/relative"} {
		if _, err := New([]Endpoint{{BaseURL: base}}); err == nil {
			t.Errorf("New(%q) expected error", base)
		}
	}

	c, err := New([]Endpoint{{BaseURL: "https://comments.example.com/"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ep := c.Endpoints()[0]
	if ep.BaseURL != "https://comments.example.com" || ep.Name != "comments.example.com" {
		t.Errorf("endpoint = %+v", ep)
	}
}
