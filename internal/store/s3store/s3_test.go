package s3store

import (
	"testing"

	"github.com/walinekit/sitestats/internal/codec/gzipcodec"
	"github.com/walinekit/sitestats/internal/codec/zstdcodec"
)

func TestWithPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"prefix", "prefix/"},
		{"prefix/", "prefix/"},
		{"a/b/c", "a/b/c/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s := &Store{}
			if err := WithPrefix(tt.input)(s); err != nil {
				t.Fatalf("WithPrefix() error = %v", err)
			}
			if s.prefix != tt.want {
				t.Errorf("prefix = %q, want %q", s.prefix, tt.want)
			}
		})
	}
}

func TestStore_objectKey(t *testing.T) {
	tests := []struct {
		name  string
		store *Store
		key   string
		want  string
	}{
		{"zstd", &Store{codec: zstdcodec.New()}, "waline_global_stats", "records/waline_global_stats.zst"},
		{"gzip with prefix", &Store{codec: gzipcodec.New(), prefix: "data/v1/"}, "k", "data/v1/records/k.gz"},
		{"escaped", &Store{codec: zstdcodec.New()}, "a b/c", "records/a%20b%2Fc.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.store.objectKey(tt.key); got != tt.want {
				t.Errorf("objectKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestStore_Close(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWithEndpoint(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	s := &Store{}
	if err := WithEndpoint("http://localhost:9000")(s); err != nil {
		t.Fatalf("WithEndpoint() error = %v", err)
	}
	if s.client == nil {
		t.Error("client should be set")
	}
}
