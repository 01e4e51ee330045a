// Package filecas implements the content-addressed file store: files are
// published under a path derived from their Git blob hash,
// written atomically (temp file, fsync, chmod read-only, rename) so a
// reader never observes a partially written entry, following the same
// download-then-atomic-replace shape the teacher's selfupdate package uses
// for binary upgrades.
package filecas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/justbuild-go/just-mr/internal/objcodec"
)

// Store is a content-addressed directory tree rooted at Root, sharded two
// hex characters deep the way a Git object store is.
type Store struct {
	Root string
}

// Open returns a Store rooted at root, creating the directory if needed.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating CAS root %q: %w", root, err)
	}
	return &Store{Root: root}, nil
}

// pathFor returns the on-disk location for a given object hash, sharded as
// <root>/<first-two-hex>/<remaining-38-hex>.
func (s *Store) pathFor(hash objcodec.Hash) string {
	h := string(hash)
	return filepath.Join(s.Root, h[:2], h[2:])
}

// Path returns the location content hashing to hash would live at,
// regardless of whether it has been published yet.
func (s *Store) Path(hash objcodec.Hash) string {
	return s.pathFor(hash)
}

// Has reports whether content hashing to hash is already present.
func (s *Store) Has(hash objcodec.Hash) bool {
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// AddBlob publishes content under its blob hash and returns that hash. If
// the entry already exists it is left untouched (content-addressing makes
// any two writers agree on what bytes belong at that path) and no write is
// performed.
func (s *Store) AddBlob(content []byte) (objcodec.Hash, error) {
	hash := objcodec.HashBlob(content)
	if s.Has(hash) {
		return hash, nil
	}
	if err := s.publish(s.pathFor(hash), content, 0o444); err != nil {
		return "", fmt.Errorf("publishing blob %s: %w", hash, err)
	}
	return hash, nil
}

// AddFile streams a source file into the store under its blob hash. The
// copy goes straight to a temp file, but the hash is computed by
// objcodec.BlobHasher, which holds the whole content in memory.
func (s *Store) AddFile(srcPath string) (objcodec.Hash, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("opening %q: %w", srcPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.Root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	hasher := objcodec.NewBlobHasher()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), src); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("copying %q into CAS: %w", srcPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	hash := hasher.Sum()
	dst := s.pathFor(hash)
	if s.Has(hash) {
		cleanup()
		return hash, nil
	}
	if err := finalize(tmpPath, dst, 0o444); err != nil {
		cleanup()
		return "", fmt.Errorf("publishing %s: %w", hash, err)
	}
	return hash, nil
}

// Read returns the stored content for hash.
func (s *Store) Read(hash objcodec.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		return nil, fmt.Errorf("reading %s from CAS: %w", hash, err)
	}
	return data, nil
}

// publish atomically writes content to dst via a sibling temp file, fsync,
// permission lockdown, and rename, mirroring selfupdate.replaceBinary's
// atomic-replace sequence.
func (s *Store) publish(dst string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}

	return finalize(tmpPath, dst, mode)
}

// finalize chmods a completed temp file read-only and atomically renames it
// into place, zeroing mtime so content-identical publishes from different
// runs produce byte-identical directory entries.
func finalize(tmpPath, dst string, mode os.FileMode) error {
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	epoch := time.Unix(0, 0)
	if err := os.Chtimes(tmpPath, epoch, epoch); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting mtime: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("creating shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
