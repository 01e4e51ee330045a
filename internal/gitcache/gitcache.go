// Package gitcache manages the bare Git repository pool used to keep
// commits, trees, and blobs reachable across invocations. Reads go through
// the real `git` binary (cat-file, log) rather than through
// a reimplemented object reader, since the cache's job is exactly what
// plumbing commands already do; the one case this module writes objects
// directly is staging non-git roots in, which goes through objcodec and a
// loose-object write under the bare repository's object store.
package gitcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/justbuild-go/just-mr/internal/filelock"
	"github.com/justbuild-go/just-mr/internal/launcher"
	"github.com/justbuild-go/just-mr/internal/objcodec"
)

// Cache is a bare Git repository used as a content-addressed object pool.
type Cache struct {
	Path   string
	Launch launcher.Launcher
}

// Open returns a Cache rooted at path, running `git init --bare` if the
// repository does not already exist there.
func Open(ctx context.Context, path string, launch launcher.Launcher) (*Cache, error) {
	lock, err := filelock.Acquire(filepath.Join(filepath.Dir(path), ".just-mr-init.lock"), filelock.Exclusive)
	if err != nil {
		return nil, fmt.Errorf("locking cache root for init: %w", err)
	}
	defer lock.Release()

	if _, err := os.Stat(filepath.Join(path, "objects")); err == nil {
		return &Cache{Path: path, Launch: launch}, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", path, err)
	}
	if _, err := launch.Run(ctx, "", nil, 30*time.Second, "git", "init", "--bare", "--quiet", path); err != nil {
		return nil, fmt.Errorf("initializing git cache at %q: %w", path, err)
	}
	return &Cache{Path: path, Launch: launch}, nil
}

// HasCommit reports whether commit is present and reachable in the cache.
func (c *Cache) HasCommit(ctx context.Context, commit string) bool {
	_, err := c.Launch.Run(ctx, "", nil, 30*time.Second, "git", "--git-dir="+c.Path, "cat-file", "-e", commit+"^{commit}")
	return err == nil
}

// FetchOpts configures a Fetch call.
type FetchOpts struct {
	Remote  string
	Branch  string // ref spec to fetch; empty fetches the remote's HEAD
	Mirrors []string
	Timeout time.Duration
}

// Fetch pulls commit from remote (trying mirrors as fallback) directly
// into the bare cache, without creating a working tree.
func (c *Cache) Fetch(ctx context.Context, opts FetchOpts) error {
	sources := append([]string{opts.Remote}, opts.Mirrors...)
	var lastErr error
	for _, src := range sources {
		refspec := "HEAD"
		if opts.Branch != "" {
			refspec = opts.Branch
		}
		_, err := c.Launch.Run(ctx, "", nil, opts.Timeout,
			"git", "--git-dir="+c.Path, "fetch", "--quiet", src, refspec)
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("fetching from %q: %w", src, err)
	}
	return lastErr
}

// Keep creates (or refreshes) a keep-alive tag pointing at commit so a
// later `git gc` in the cache never prunes it, retrying up to three times
// since tag refs can transiently race with a concurrent fetch into the
// same bare repository.
func (c *Cache) Keep(ctx context.Context, commit string) error {
	tag := "keep-" + commit
	backoff := retry.WithMaxRetries(3, retry.NewConstant(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := c.Launch.Run(ctx, "", nil, 15*time.Second,
			"git", "--git-dir="+c.Path, "tag", "-f", tag, commit)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("tagging %s as kept: %w", commit, err))
		}
		return nil
	})
}

// TreeOf returns the tree object id for commit's root tree.
func (c *Cache) TreeOf(ctx context.Context, commit string) (objcodec.Hash, error) {
	res, err := c.Launch.Run(ctx, "", nil, 15*time.Second,
		"git", "--git-dir="+c.Path, "log", "-n1", "--format=%T", commit)
	if err != nil {
		return "", fmt.Errorf("resolving tree of %s: %w", commit, err)
	}
	tree := trimNewline(res.Stdout)
	if len(tree) != 40 {
		return "", fmt.Errorf("unexpected tree id %q for commit %s", tree, commit)
	}
	return objcodec.Hash(tree), nil
}

// CatFile returns `git cat-file -p` output for an object: a blob's raw
// content, or a tree's one-line-per-entry listing.
func (c *Cache) CatFile(ctx context.Context, id objcodec.Hash) ([]byte, error) {
	res, err := c.Launch.Run(ctx, "", nil, 30*time.Second,
		"git", "--git-dir="+c.Path, "cat-file", "-p", string(id))
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", id, err)
	}
	return res.Stdout, nil
}

// ReadTree lists the entries of a tree object.
func (c *Cache) ReadTree(ctx context.Context, id objcodec.Hash) ([]objcodec.TreeEntry, error) {
	body, err := c.CatFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseLsTreeOutput(body)
}

// StageLoose writes content directly into the cache's object store as a
// loose object, used to import a non-git root (file, archive, git tree) so
// its blobs and trees become addressable from the cache like anything
// fetched over git.
func (c *Cache) StageLoose(typ objcodec.ObjectType, content []byte) (objcodec.Hash, error) {
	raw, id, err := objcodec.EncodeLoose(typ, content)
	if err != nil {
		return "", fmt.Errorf("encoding loose %s object: %w", typ, err)
	}
	hexID := string(id)
	dir := filepath.Join(c.Path, "objects", hexID[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating loose object directory: %w", err)
	}
	dst := filepath.Join(dir, hexID[2:])
	if _, err := os.Stat(dst); err == nil {
		return id, nil // already present; content-addressed so no rewrite needed
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp loose object: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing loose object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("closing loose object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("renaming loose object into place: %w", err)
	}
	return id, nil
}

func trimNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
