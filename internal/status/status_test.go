package status_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"transcoder/internal/config"
	"transcoder/internal/services"
	"transcoder/internal/status"
)

func exerciseStore(t *testing.T, store status.Store) {
	t.Helper()
	ctx := context.Background()
	key := "hash-" + uuid.NewString()

	if _, err := store.Get(ctx, key); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for fresh key, got %v", err)
	}

	got, claimed, err := store.Claim(ctx, key, status.Queued)
	if err != nil || !claimed || got != status.Queued {
		t.Fatalf("first claim = (%q, %v, %v)", got, claimed, err)
	}
	got, claimed, err = store.Claim(ctx, key, status.Queued)
	if err != nil || claimed || got != status.Queued {
		t.Fatalf("second claim = (%q, %v, %v)", got, claimed, err)
	}

	if err := store.Set(ctx, key, status.InProgress); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := store.Get(ctx, key); err != nil || got != status.InProgress {
		t.Fatalf("Get after Set = (%q, %v)", got, err)
	}

	swapped, err := store.Replace(ctx, key, status.Failed, status.Queued)
	if err != nil || swapped {
		t.Fatalf("Replace with stale from = (%v, %v)", swapped, err)
	}
	if err := store.Set(ctx, key, status.Failed); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	swapped, err = store.Replace(ctx, key, status.Failed, status.Queued)
	if err != nil || !swapped {
		t.Fatalf("Replace = (%v, %v)", swapped, err)
	}
	if got, _ := store.Get(ctx, key); got != status.Queued {
		t.Fatalf("expected queued after replace, got %q", got)
	}
}

// exerciseReclaim leaves other keys in shared stores alone; it only checks
// the keys it wrote.
func exerciseReclaim(t *testing.T, store status.Store) {
	t.Helper()
	ctx := context.Background()
	queued := "hash-" + uuid.NewString()
	running := "hash-" + uuid.NewString()
	done := "hash-" + uuid.NewString()
	for key, st := range map[string]status.Status{queued: status.Queued, running: status.InProgress, done: status.Finished} {
		if err := store.Set(ctx, key, st); err != nil {
			t.Fatalf("Set %s: %v", st, err)
		}
	}

	keys, err := store.Reclaim(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Reclaim with old cutoff: %v", err)
	}
	if slices.Contains(keys, queued) || slices.Contains(keys, running) {
		t.Fatalf("keys newer than the cutoff were reclaimed: %v", keys)
	}
	if got, _ := store.Get(ctx, running); got != status.InProgress {
		t.Fatalf("fresh in-progress key = %q", got)
	}

	keys, err = store.Reclaim(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if !slices.Contains(keys, queued) || !slices.Contains(keys, running) || slices.Contains(keys, done) {
		t.Fatalf("reclaimed keys = %v", keys)
	}
	if !slices.IsSorted(keys) {
		t.Fatalf("reclaimed keys not sorted: %v", keys)
	}
	for key, want := range map[string]status.Status{queued: status.Failed, running: status.Failed, done: status.Finished} {
		if got, _ := store.Get(ctx, key); got != want {
			t.Fatalf("status of %s = %q, want %q", key, got, want)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, status.NewMemory())
	exerciseReclaim(t, status.NewMemory())
}

func TestAdvanceIsGuardedCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := status.NewMemory()
	if _, _, err := store.Claim(ctx, "k", status.Queued); err != nil {
		t.Fatal(err)
	}
	if err := status.Advance(ctx, store, "k", status.Queued, status.InProgress); err != nil {
		t.Fatalf("Advance queued->in-progress: %v", err)
	}
	if err := status.Advance(ctx, store, "k", status.InProgress, status.Queued); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("backward move: expected validation error, got %v", err)
	}
	if err := status.Advance(ctx, store, "k", status.Queued, status.Failed); !errors.Is(err, services.ErrStore) {
		t.Fatalf("stale from: expected store error, got %v", err)
	}
	if got, _ := store.Get(ctx, "k"); got != status.InProgress {
		t.Fatalf("status = %q, want in-progress", got)
	}
	if err := status.Advance(ctx, store, "k", status.InProgress, status.Finished); err != nil {
		t.Fatalf("Advance in-progress->finished: %v", err)
	}
	if err := status.Advance(ctx, store, "k", status.Finished, status.Failed); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("leaving finished: expected validation error, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := status.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "status.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store)
	exerciseReclaim(t, store)
}

func TestSQLiteReopenKeepsStatuses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "status.db")
	store, err := status.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "abc", status.Finished); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := status.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got, err := reopened.Get(ctx, "abc"); err != nil || got != status.Finished {
		t.Fatalf("Get after reopen = (%q, %v)", got, err)
	}
}

func TestSQLiteClaimIsExclusiveUnderContention(t *testing.T) {
	store, err := status.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "status.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := store.Claim(context.Background(), "shared", status.Queued)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", wins)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TRANSCODER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRANSCODER_TEST_REDIS_ADDR not set")
	}
	store, err := status.OpenRedis(context.Background(), status.RedisConfig{Addr: addr, KeyPrefix: "transcoder-test:"})
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
	exerciseReclaim(t, store)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TRANSCODER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRANSCODER_TEST_POSTGRES_DSN not set")
	}
	store, err := status.OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
	exerciseReclaim(t, store)
}

func TestOpenSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Status.Backend = config.BackendMemory
	store, err := status.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := store.(*status.Memory); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	cfg.Status.Backend = config.BackendSQLite
	cfg.Status.SQLitePath = filepath.Join(t.TempDir(), "status.db")
	store, err = status.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*status.SQLite); !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}

	cfg.Status.Backend = "etcd"
	if _, err := status.Open(context.Background(), &cfg); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to status.Status
		want     bool
	}{
		{status.Queued, status.InProgress, true},
		{status.InProgress, status.Finished, true},
		{status.InProgress, status.Failed, true},
		{status.Finished, status.Queued, false},
		{status.Finished, status.InProgress, false},
		{status.Failed, status.Queued, true},
		{status.InProgress, status.Queued, false},
	}
	for _, tc := range cases {
		if got := status.CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v", tc.from, tc.to, got)
		}
	}
	if _, err := status.ParseStatus("paused"); err == nil {
		t.Fatal("expected parse error")
	}
	if !status.Queued.IsActive() || status.Failed.IsActive() || !status.Finished.IsTerminal() {
		t.Fatal("unexpected predicate results")
	}
}
