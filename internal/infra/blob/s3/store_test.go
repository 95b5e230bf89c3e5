package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"portioncore/internal/infra/blob/blobtest"
	"portioncore/internal/infra/blob/core"
)

func TestS3StoreContract(t *testing.T) {
	blobtest.RunContract(t, func(*testing.T) core.Store { return NewMock("") })
}

func TestS3StorePrefixedContract(t *testing.T) {
	blobtest.RunContract(t, func(*testing.T) core.Store { return NewMock("site-a/") })
}

func TestS3StorePrefixIsolatesKeys(t *testing.T) {
	store := NewMock("site-a")
	ctx := context.Background()
	if _, err := store.Put(ctx, "audit/stock-1/x", strings.NewReader("hello"), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"codec": "json"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	infos, err := store.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "audit/stock-1/x" || infos[0].Size != 5 {
		t.Fatalf("expected prefix stripped from listed keys, got %+v", infos)
	}
	info, rc, err := store.Get(ctx, "audit/stock-1/x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	if b, _ := io.ReadAll(rc); string(b) != "hello" {
		t.Fatalf("unexpected body %q", b)
	}
	if info.ContentType != "text/plain" || info.Metadata["codec"] != "json" {
		t.Fatalf("unexpected object info %+v", info)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PORTIONCORE_BLOB_S3_BUCKET", "archive")
	t.Setenv("PORTIONCORE_BLOB_S3_PREFIX", "prod")
	t.Setenv("PORTIONCORE_BLOB_S3_PATH_STYLE", "TRUE")
	cfg := ConfigFromEnv()
	if cfg.Bucket != "archive" || cfg.Prefix != "prod" || !cfg.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestDecodeChunked(t *testing.T) {
	body := "5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"
	got, err := decodeChunked([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected payload %q", got)
	}
	if _, err := decodeChunked([]byte("zz\r\n")); err == nil {
		t.Fatalf("expected malformed chunk size error")
	}
}
