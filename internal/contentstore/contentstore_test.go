package contentstore_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transcoder/internal/contentstore"
	"transcoder/internal/services"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func newStore(t *testing.T) *contentstore.FS {
	t.Helper()
	store, err := contentstore.NewFS(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return store
}

func TestAddFileAndOpen(t *testing.T) {
	store := newStore(t)
	src := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := store.AddFile(context.Background(), src)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if hash != helloDigest {
		t.Fatalf("unexpected hash %s", hash)
	}
	again, err := store.AddReader(context.Background(), strings.NewReader("hello world"))
	if err != nil || again != hash {
		t.Fatalf("expected idempotent add, got %s %v", again, err)
	}
	if !store.Has(hash) {
		t.Fatal("expected object to exist")
	}

	rc, err := store.OpenReadStream(context.Background(), hash)
	if err != nil {
		t.Fatalf("OpenReadStream: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello world" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenReadStreamErrors(t *testing.T) {
	store := newStore(t)
	if _, err := store.OpenReadStream(context.Background(), strings.Repeat("0", 64)); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.OpenReadStream(context.Background(), "../etc/passwd"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if contentstore.ValidHash(strings.Repeat("A", 64)) {
		t.Fatal("expected uppercase hex to be rejected")
	}
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPublishDirectoryIsDeterministic(t *testing.T) {
	store := newStore(t)
	files := map[string]string{
		"master.m3u8":        "#EXTM3U\n",
		"720.m3u8":           "#EXTM3U\n#EXTINF:5,\n7200.ts\n",
		"7200.ts":            "segment",
		"thumbs/thumb-1.png": "png",
	}
	a, b := t.TempDir(), t.TempDir()
	writeTree(t, a, files)
	writeTree(t, b, files)

	hashA, err := store.PublishDirectory(context.Background(), a)
	if err != nil {
		t.Fatalf("PublishDirectory: %v", err)
	}
	hashB, err := store.PublishDirectory(context.Background(), b)
	if err != nil {
		t.Fatalf("PublishDirectory second: %v", err)
	}
	if hashA != hashB || !contentstore.ValidHash(hashA) {
		t.Fatalf("expected identical valid hashes, got %s and %s", hashA, hashB)
	}
	tree, err := contentstore.TreeHash(a)
	if err != nil || tree != hashA {
		t.Fatalf("TreeHash = %s, %v", tree, err)
	}
	data, err := os.ReadFile(filepath.Join(store.BundlePath(hashA), "thumbs", "thumb-1.png"))
	if err != nil || string(data) != "png" {
		t.Fatalf("expected bundle copy, got %q %v", data, err)
	}

	writeTree(t, b, map[string]string{"7200.ts": "different"})
	hashC, err := store.PublishDirectory(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if hashC == hashA {
		t.Fatal("expected content change to change the hash")
	}
}

func TestPublishDirectoryFailures(t *testing.T) {
	store := newStore(t)
	if _, err := store.PublishDirectory(context.Background(), filepath.Join(t.TempDir(), "missing")); !errors.Is(err, services.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if _, err := store.PublishDirectory(context.Background(), t.TempDir()); !errors.Is(err, services.ErrPublish) {
		t.Fatalf("expected ErrPublish for empty dir, got %v", err)
	}
}
