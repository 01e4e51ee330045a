// Package materialize implements the clone engine: writing a resolved
// repository's root out to a user-chosen path on disk, either by checking
// out a tree from the Git cache file-by-file or by copying an
// already-materialized local directory for File roots.
package materialize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/justbuild-go/just-mr/internal/errs"
	"github.com/justbuild-go/just-mr/internal/gitcache"
	"github.com/justbuild-go/just-mr/internal/objcodec"
)

// Target describes what to materialize and where.
type Target struct {
	Tree     objcodec.Hash // empty when DirectFS is set
	DirectFS string
	Dest     string
}

// Clone writes t into t.Dest. For a Git-cache tree it recursively reads
// tree/blob objects and writes out a plain directory; for a File root it
// copies the source tree so the destination is independent of the
// original (never a symlink to it, since the caller may later be built
// against while the original source changes).
func Clone(ctx context.Context, cache *gitcache.Cache, t Target) error {
	if t.DirectFS != "" {
		if err := copyTree(t.DirectFS, t.Dest); err != nil {
			return errs.Wrap(errs.KindInternal, fmt.Sprintf("cloning file root %q", t.DirectFS), err)
		}
		return nil
	}
	if t.Tree == "" {
		return errs.New(errs.KindInternal, fmt.Sprintf("cloning %q: target has neither a tree nor a direct path", t.Dest))
	}
	if err := os.MkdirAll(t.Dest, 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, fmt.Sprintf("creating destination %q", t.Dest), err)
	}
	if err := writeTree(ctx, cache, t.Tree, t.Dest); err != nil {
		return errs.Wrap(errs.KindCache, fmt.Sprintf("cloning tree %s to %q", t.Tree, t.Dest), err)
	}
	return nil
}

func writeTree(ctx context.Context, cache *gitcache.Cache, tree objcodec.Hash, dest string) error {
	entries, err := cache.ReadTree(ctx, tree)
	if err != nil {
		return fmt.Errorf("reading tree %s: %w", tree, err)
	}
	for _, e := range entries {
		path := filepath.Join(dest, e.Name)
		switch e.Mode {
		case objcodec.ModeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("creating directory %q: %w", path, err)
			}
			if err := writeTree(ctx, cache, e.Hash, path); err != nil {
				return err
			}
		case objcodec.ModeSymlink:
			target, err := cache.CatFile(ctx, e.Hash)
			if err != nil {
				return fmt.Errorf("reading symlink target for %q: %w", path, err)
			}
			if err := os.Symlink(string(target), path); err != nil {
				return fmt.Errorf("creating symlink %q: %w", path, err)
			}
		default:
			content, err := cache.CatFile(ctx, e.Hash)
			if err != nil {
				return fmt.Errorf("reading blob for %q: %w", path, err)
			}
			mode := os.FileMode(0o644)
			if e.Mode == objcodec.ModeExecutable {
				mode = 0o755
			}
			if err := os.WriteFile(path, content, mode); err != nil {
				return fmt.Errorf("writing %q: %w", path, err)
			}
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading directory %q: %w", src, err)
	}
	for _, ent := range entries {
		if err := copyTree(filepath.Join(src, ent.Name()), filepath.Join(dst, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	return nil
}
