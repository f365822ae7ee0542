package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"transcoder/internal/config"
	"transcoder/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if CheckDirectoryAccess("test", f).Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckStatusStore_SQLite(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSQLiteStatus())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	result := CheckStatusStore(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected sqlite store to pass, got: %s", result.Detail)
	}
}

func TestCheckStatusStore_UnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Status.Backend = "etcd"
	if CheckStatusStore(context.Background(), cfg).Passed {
		t.Fatal("expected unknown backend to fail")
	}
}

func TestCheckRedis_MissingAddr(t *testing.T) {
	if CheckRedis(context.Background(), "Event channel", "").Passed {
		t.Fatal("expected failure for missing address")
	}
}

func TestCheckNtfy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/transcoder"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if CheckNtfy(context.Background(), "not a url").Passed {
		t.Fatal("expected failure for invalid topic")
	}
}

func TestRunAllWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	if Failed(results) {
		t.Fatalf("expected all checks to pass: %+v", results)
	}
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"Work directory", "Content store", "Log directory", "FFmpeg", "FFprobe", "Status store (" + config.BackendMemory + ")"} {
		if !names[want] {
			t.Fatalf("missing check %q in %+v", want, results)
		}
	}
}

func TestRunAllReportsMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Encoder.FFmpegBinary = "clearly-not-present-ffmpeg"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if !Failed(RunAll(context.Background(), cfg)) {
		t.Fatal("expected missing ffmpeg to fail preflight")
	}
}
