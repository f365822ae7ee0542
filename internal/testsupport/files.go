package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteSource writes size bytes of a repeating pattern derived from seed, so
// sources written with different seeds hash differently. A size <= 0 writes a
// single byte.
func WriteSource(t testing.TB, path string, size int64, seed byte) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	pattern := []byte{seed, seed ^ 0x5a, seed + 1, 0x42}
	data := bytes.Repeat(pattern, int(size/int64(len(pattern)))+1)[:size]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
