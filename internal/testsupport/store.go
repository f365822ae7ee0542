package testsupport

import (
	"bytes"
	"context"
	"testing"

	"transcoder/internal/config"
	"transcoder/internal/contentstore"
	"transcoder/internal/status"
)

// MustOpenStatusStore opens the status store selected by cfg and registers cleanup.
func MustOpenStatusStore(t testing.TB, cfg *config.Config) status.Store {
	t.Helper()

	store, err := status.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("status.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenContentStore opens the filesystem content store under cfg.Paths.StoreDir.
func MustOpenContentStore(t testing.TB, cfg *config.Config) *contentstore.FS {
	t.Helper()

	fs, err := contentstore.NewFS(cfg.Paths.StoreDir)
	if err != nil {
		t.Fatalf("contentstore.NewFS: %v", err)
	}
	return fs
}

// MustAddSource imports data into fs and returns its content hash.
func MustAddSource(t testing.TB, fs *contentstore.FS, data []byte) string {
	t.Helper()

	hash, err := fs.AddReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	return hash
}
