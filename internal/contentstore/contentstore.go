// Package contentstore addresses source media and published HLS bundles by
// SHA256 hash.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"transcoder/internal/fileutil"
	"transcoder/internal/services"
)

// Store is the content store surface used by the orchestrator.
type Store interface {
	// OpenReadStream opens the object stored under hash. Missing objects
	// report services.ErrNotFound.
	OpenReadStream(ctx context.Context, hash string) (io.ReadCloser, error)
	// PublishDirectory stores the tree rooted at dir and returns its hash.
	// Failures wrap services.ErrPublish.
	PublishDirectory(ctx context.Context, dir string) (string, error)
}

const (
	objectsDir = "objects"
	bundlesDir = "bundles"
)

// FS is a filesystem-backed Store. Objects live at <root>/objects/<hash> and
// published bundles at <root>/bundles/<hash>/.
type FS struct {
	root string
}

// NewFS prepares the store layout under root.
func NewFS(root string) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("content store root required")
	}
	for _, dir := range []string{objectsDir, bundlesDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create content store %s dir: %w", dir, err)
		}
	}
	return &FS{root: root}, nil
}

// Root returns the store directory.
func (s *FS) Root() string { return s.root }

// ValidHash reports whether hash is a lowercase 64 character hex digest.
func ValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func validate(op, hash string) error {
	if !ValidHash(hash) {
		return services.Wrap(services.ErrValidation, "contentstore", op, fmt.Sprintf("invalid content hash %q", hash), nil)
	}
	return nil
}

// ObjectPath returns where the object for hash is stored.
func (s *FS) ObjectPath(hash string) string {
	return filepath.Join(s.root, objectsDir, hash)
}

// BundlePath returns where the bundle for hash is stored.
func (s *FS) BundlePath(hash string) string {
	return filepath.Join(s.root, bundlesDir, hash)
}

// Has reports whether an object exists for hash.
func (s *FS) Has(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	info, err := os.Stat(s.ObjectPath(hash))
	return err == nil && info.Mode().IsRegular()
}

// AddFile imports the file at path and returns its hash.
func (s *FS) AddFile(ctx context.Context, path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	return s.add(ctx, in, info.Size())
}

// AddReader imports everything read from r and returns its hash.
func (s *FS) AddReader(ctx context.Context, r io.Reader) (string, error) {
	return s.add(ctx, r, -1)
}

func (s *FS) add(ctx context.Context, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	incoming := filepath.Join(s.root, objectsDir, ".incoming-"+uuid.NewString())
	hash, err := fileutil.CopyVerified(r, size, incoming)
	if err != nil {
		_ = os.Remove(incoming)
		return "", fmt.Errorf("import object: %w", err)
	}
	target := s.ObjectPath(hash)
	if _, err := os.Stat(target); err == nil {
		_ = os.Remove(incoming)
		return hash, nil
	}
	if err := os.Rename(incoming, target); err != nil {
		_ = os.Remove(incoming)
		return "", fmt.Errorf("store object: %w", err)
	}
	return hash, nil
}

// OpenReadStream opens the object for hash.
func (s *FS) OpenReadStream(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := validate("open", hash); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.ObjectPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "contentstore", "open", hash, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", hash, err)
	}
	return f, nil
}

type treeEntry struct {
	rel    string
	digest string
	mode   fs.FileMode
}

// TreeHash computes the deterministic hash of every regular file under dir.
// It covers sorted slash-separated relative paths and their file digests.
func TreeHash(dir string) (string, error) {
	entries, err := walkTree(dir)
	if err != nil {
		return "", err
	}
	return hashEntries(entries), nil
}

func walkTree(dir string) ([]treeEntry, error) {
	var entries []treeEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		digest, err := fileutil.HashFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, treeEntry{rel: filepath.ToSlash(rel), digest: digest, mode: info.Mode().Perm()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func hashEntries(entries []treeEntry) string {
	h := sha256.New()
	for _, e := range entries {
		_, _ = io.WriteString(h, e.rel)
		_, _ = h.Write([]byte{0})
		_, _ = io.WriteString(h, e.digest)
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PublishDirectory copies dir into the bundle area and returns its tree hash.
// Publishing identical content twice is a no-op that returns the same hash.
func (s *FS) PublishDirectory(ctx context.Context, dir string) (string, error) {
	wrap := func(msg string, err error) error {
		return services.Wrap(services.ErrPublish, "contentstore", "publish", msg, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", wrap("stat bundle dir", err)
	}
	if !info.IsDir() {
		return "", wrap(dir+" is not a directory", nil)
	}
	entries, err := walkTree(dir)
	if err != nil {
		return "", wrap("hash bundle", err)
	}
	if len(entries) == 0 {
		return "", wrap("bundle is empty", nil)
	}
	hash := hashEntries(entries)
	target := s.BundlePath(hash)
	if _, err := os.Stat(target); err == nil {
		return hash, nil
	}

	staging := filepath.Join(s.root, bundlesDir, ".staging-"+uuid.NewString())
	defer func() { _ = os.RemoveAll(staging) }()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return "", wrap("canceled", err)
		}
		dst := filepath.Join(staging, filepath.FromSlash(e.rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", wrap("create bundle dir", err)
		}
		if err := fileutil.CopyFile(filepath.Join(dir, filepath.FromSlash(e.rel)), dst, e.mode); err != nil {
			return "", wrap("copy "+e.rel, err)
		}
	}
	if err := os.Rename(staging, target); err != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			return hash, nil
		}
		return "", wrap("commit bundle", err)
	}
	return hash, nil
}
