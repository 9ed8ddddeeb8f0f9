package blob

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"funnelcore/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, config.BlobConfig{FSRoot: filepath.Join(t.TempDir(), "b")})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", fsStore.Driver())
	}
	mem, err := Open(ctx, config.BlobConfig{Driver: config.BlobMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("open memory: %v %v", mem, err)
	}
	s3, err := Open(ctx, config.BlobConfig{Driver: config.BlobS3, S3: config.S3Config{Bucket: "docs", Region: "eu-west-1", AccessKey: "a", SecretKey: "b"}})
	if err != nil || s3.Driver() != DriverS3 {
		t.Fatalf("open s3: %v %v", s3, err)
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: config.BlobS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

// Every backend honours the same create-only contract.
func TestBackendsShareContract(t *testing.T) {
	fsStore, err := Open(context.Background(), config.BlobConfig{FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	for _, store := range []Store{NewMemory(), NewS3Mock(), fsStore} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			ctx := context.Background()
			key := DocumentKey("p", "d", "notes.txt")
			if _, err := store.Put(ctx, key, strings.NewReader("abc"), PutOptions{ContentType: "text/plain"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, key, strings.NewReader("abc"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			info, err := store.Head(ctx, key)
			if err != nil || info.Size != 3 {
				t.Fatalf("head: %+v %v", info, err)
			}
			if ok, err := store.Delete(ctx, key); err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if _, err := store.Head(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
