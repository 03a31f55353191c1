package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/walinekit/sitestats/internal/config"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/store/cachedstore"
	"github.com/walinekit/sitestats/internal/store/diskstore"
	"github.com/walinekit/sitestats/internal/store/memstore"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"", "none", false},
		{"none", "none", false},
		{"gzip", "gzip", false},
		{"zstd", "zstd", false},
		{"lz4", "", true},
	}

	for _, tt := range tests {
		c, err := codecByName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("codecByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && c.Name() != tt.wantName {
			t.Errorf("codecByName(%q).Name() = %q, want %q", tt.name, c.Name(), tt.wantName)
		}
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name  string
		cfg   config.Store
		check func(t *testing.T, st any)
	}{
		{
			name: "memory",
			cfg:  config.Store{Kind: config.StoreMemory, MemoSize: 8},
			check: func(t *testing.T, st any) {
				if _, ok := st.(*memstore.Store); !ok {
					t.Errorf("store = %T, want *memstore.Store", st)
				}
			},
		},
		{
			name: "disk",
			cfg:  config.Store{Kind: config.StoreDisk, Dir: filepath.Join(dir, "plain"), Codec: "zstd"},
			check: func(t *testing.T, st any) {
				if _, ok := st.(*diskstore.Store); !ok {
					t.Errorf("store = %T, want *diskstore.Store", st)
				}
			},
		},
		{
			name: "disk with memo",
			cfg:  config.Store{Kind: config.StoreDisk, Dir: filepath.Join(dir, "memo"), MemoSize: 4},
			check: func(t *testing.T, st any) {
				if _, ok := st.(*cachedstore.Store); !ok {
					t.Errorf("store = %T, want *cachedstore.Store", st)
				}
			},
		},
		{
			name: "disk creates nested dir",
			cfg:  config.Store{Kind: config.StoreDisk, Dir: filepath.Join(dir, "a", "b")},
			check: func(t *testing.T, st any) {
				if info, err := os.Stat(filepath.Join(dir, "a", "b", "records")); err != nil || !info.IsDir() {
					t.Errorf("records directory missing: %v", err)
				}
			},
		},
		{
			name:  "sqlite",
			cfg:   config.Store{Kind: config.StoreSQL, Driver: "sqlite", DSN: filepath.Join(dir, "stats.db")},
			check: func(t *testing.T, st any) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := openStore(ctx, tt.cfg, stats.NewNoop())
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer st.Close()
			tt.check(t, st)

			if err := st.Set(ctx, "k", []byte(`{"stats":{},"timestamp":1}`)); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if _, err := st.Get(ctx, "k"); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		})
	}

	if _, err := openStore(ctx, config.Store{Kind: "redis"}, stats.NewNoop()); err == nil {
		t.Error("openStore(redis) expected error")
	}
	if _, err := openStore(ctx, config.Store{Kind: config.StoreDisk, Dir: dir, Codec: "lz4"}, stats.NewNoop()); err == nil {
		t.Error("openStore() with unknown codec expected error")
	}
}

func TestOpenStore_DefaultConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SITESTATS_SERVER_URL", "https://comments.example.com")

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	st, err := openStore(context.Background(), cfg.Store, stats.NewNoop())
	if err != nil {
		t.Fatalf("openStore() with defaults error = %v", err)
	}
	defer st.Close()

	if info, err := os.Stat(cfg.Store.Dir); err != nil || !info.IsDir() {
		t.Errorf("store dir %q not created: %v", cfg.Store.Dir, err)
	}
}

func TestNewClient_Parsers(t *testing.T) {
	cfg := &config.Config{
		Endpoints: []config.Endpoint{{Name: "x", URL: "https://comments.example.com", Parser: "xml"}},
		CacheKey:  "k",
		TTL:       time.Minute,
		Store:     config.Store{Kind: config.StoreMemory},
	}
	if _, err := newClient(context.Background(), cfg, nopLogger(t), stats.NewNoop()); err == nil {
		t.Error("newClient() with unknown parser expected error")
	}

	cfg.Endpoints[0].Parser = "map"
	client, err := newClient(context.Background(), cfg, nopLogger(t), stats.NewNoop())
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	client.Close()
}

func TestLoadPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(path, []byte("<p>hi</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	page, err := loadPage(context.Background(), path, "https://blog.example/")
	if err != nil {
		t.Fatalf("loadPage() error = %v", err)
	}
	if page.HTML != "<p>hi</p>" || page.URL != "https://blog.example/" {
		t.Errorf("loadPage() = %+v", page)
	}

	if _, err := loadPage(context.Background(), "", ""); err == nil {
		t.Error("loadPage() with neither file nor URL expected error")
	}
}

func TestWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 5*time.Millisecond, func() {
			calls.Add(1)
			changed <- struct{}{}
		})
	}()

	<-changed // initial run
	if err := os.WriteFile(path, []byte("version 2"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("change not detected")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watchFile() error = %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}
