package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/walinekit/sitestats"
)

func nopLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

type fakeStats struct {
	cleared  int
	clearErr error
	lastPage sitestats.Page
}

func (f *fakeStats) Cached(context.Context) (*int64, *int64) { return nil, nil }

func (f *fakeStats) Refresh(_ context.Context, page sitestats.Page) (sitestats.Result, error) {
	f.lastPage = page
	return sitestats.Result{Total: 8}, nil
}

func (f *fakeStats) RefreshActivity(context.Context) (sitestats.Result, error) {
	return sitestats.Result{}, sitestats.ErrAllSourcesExhausted
}

func (f *fakeStats) ClearCache(context.Context) error {
	f.cleared++
	return f.clearErr
}

func newTestRouter(t *testing.T, src *fakeStats) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &handler{
		client: src,
		logger: nopLogger(t),
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			if strings.Contains(url, "missing") {
				return nil, errors.New("unexpected status: 404 Not Found")
			}
			return []byte(`<a href="/posts/a/">a</a>`), nil
		},
	}
	return newRouter(h, http.NotFoundHandler())
}

func TestServe_Stats(t *testing.T) {
	src := &fakeStats{}
	router := newTestRouter(t, src)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats?page=https://blog.example/", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got widgetStates
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Pageviews.Text != "8" {
		t.Errorf("pageviews = %+v, want 8", got.Pageviews)
	}
	if got.Activity.Text != "-" || got.Activity.Reason == "" {
		t.Errorf("activity = %+v, want failure", got.Activity)
	}
	if src.lastPage.HTML == "" || src.lastPage.URL != "https://blog.example/" {
		t.Errorf("page = %+v", src.lastPage)
	}
}

func TestServe_StatsPost(t *testing.T) {
	src := &fakeStats{}
	router := newTestRouter(t, src)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/stats?page=https://blog.example/", strings.NewReader("<p>posted</p>"))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if src.lastPage.HTML != "<p>posted</p>" {
		t.Errorf("page HTML = %q", src.lastPage.HTML)
	}
}

func TestServe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"missing page", http.MethodGet, "/stats", http.StatusBadRequest},
		{"unreachable page", http.MethodGet, "/stats?page=https://blog.example/missing", http.StatusBadGateway},
		{"file scheme", http.MethodGet, "/stats?page=file:///etc/passwd", http.StatusForbidden},
		{"loopback host", http.MethodGet, "/stats?page=http://127.0.0.1:8080/", http.StatusForbidden},
		{"link-local metadata host", http.MethodGet, "/stats?page=http://169.254.169.254/latest/meta-data/", http.StatusForbidden},
		{"private host", http.MethodGet, "/stats?page=http://10.0.0.7/", http.StatusForbidden},
		{"localhost", http.MethodGet, "/stats?page=http://localhost/admin", http.StatusForbidden},
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
	}

	router := newTestRouter(t, &fakeStats{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServe_ClearCache(t *testing.T) {
	src := &fakeStats{}
	router := newTestRouter(t, src)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cache", nil))
	if rec.Code != http.StatusNoContent || src.cleared != 1 {
		t.Errorf("status = %d, cleared = %d, want 204 and 1", rec.Code, src.cleared)
	}

	src.clearErr = errors.New("read-only")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cache", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServe_SiteOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pages, err := newPagePolicy("https://blog.example")
	if err != nil {
		t.Fatalf("newPagePolicy() error = %v", err)
	}
	src := &fakeStats{}
	h := &handler{
		client: src,
		logger: nopLogger(t),
		pages:  pages,
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			return []byte(`<p>page</p>`), nil
		},
	}
	router := newRouter(h, nil)

	tests := []struct {
		page string
		want int
	}{
		{"https://blog.example/posts/a/", http.StatusOK},
		{"https://BLOG.example/", http.StatusOK},
		{"http://blog.example/", http.StatusForbidden},
		{"https://evil.example/", http.StatusForbidden},
		{"https://blog.example.evil.example/", http.StatusForbidden},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?page="+tt.page, nil))
		if rec.Code != tt.want {
			t.Errorf("page %s: status = %d, want %d", tt.page, rec.Code, tt.want)
		}
	}
}

func TestPagePolicy_RefusesPrivateDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	t.Cleanup(srv.Close)

	fetch := (&pagePolicy{}).fetcher()
	if _, err := fetch(context.Background(), srv.URL); !errors.Is(err, errPageForbidden) {
		t.Errorf("fetch(%s) error = %v, want errPageForbidden", srv.URL, err)
	}
}

func TestPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1::1", true},
		{"127.0.0.1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"::1", false},
		{"fe80::1", false},
		{"fd00::1", false},
		{"::ffff:127.0.0.1", false},
	}
	for _, tt := range tests {
		if got := publicAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("publicAddr(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
