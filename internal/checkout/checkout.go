// Package checkout implements the five root-materialization drivers: git,
// archive/zip, git tree (by command), plain file, and generic command.
// Each driver turns a repograph.Root into content staged in the Git cache
// (or, for a plain file root, a path already on disk), and returns the
// resulting tree id so the importer and clone engine never need to know
// which driver produced it.
package checkout

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/justbuild-go/just-mr/internal/errs"
	"github.com/justbuild-go/just-mr/internal/filecas"
	"github.com/justbuild-go/just-mr/internal/gitcache"
	"github.com/justbuild-go/just-mr/internal/launcher"
	"github.com/justbuild-go/just-mr/internal/objcodec"
	"github.com/justbuild-go/just-mr/internal/repograph"
)

// Result is what a driver produces: the resolved tree id for the root, and
// (for file roots, which never enter the Git cache) a direct filesystem
// path instead.
type Result struct {
	Tree     objcodec.Hash
	DirectFS string // non-empty for File roots: already-materialized path
}

// Env bundles the shared dependencies every driver needs.
type Env struct {
	Cache   *gitcache.Cache
	CAS     *filecas.Store // content-addressed store for archive/zip/foreign-file bytes
	Launch  launcher.Launcher
	WorkDir string // scratch directory for temporary checkouts
}

// Checkout materializes root and returns its resulting tree.
func Checkout(ctx context.Context, env Env, name string, root *repograph.Root) (Result, error) {
	switch v := root.Variant.(type) {
	case *repograph.File:
		return checkoutFile(v)
	case *repograph.Git:
		return checkoutGit(ctx, env, v)
	case *repograph.Archive:
		return checkoutArchive(ctx, env, v, false)
	case *repograph.Zip:
		return checkoutZip(ctx, env, v)
	case *repograph.ForeignFile:
		return checkoutForeignFile(ctx, env, v)
	case *repograph.GitTree:
		return checkoutGitTree(ctx, env, v)
	default:
		return Result{}, errs.New(errs.KindCheckout, fmt.Sprintf("checking out repository %q: root kind %q is not directly checked out (computed elsewhere)", name, root.Kind()))
	}
}

func checkoutFile(v *repograph.File) (Result, error) {
	return Result{DirectFS: v.Path}, nil
}

// mirrorSources returns the ordered list of URLs to try, primary first.
func mirrorSources(primary string, mirrors []string) []string {
	return append([]string{primary}, mirrors...)
}

// validateFetchURL rejects the same class of SSRF-enabling URLs the
// teacher's normalizeURL does before any driver hands a URL to a
// subprocess.
func validateFetchURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty URL")
	}
	if strings.HasPrefix(raw, "-") {
		return fmt.Errorf("invalid URL: must not start with '-'")
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "file://") {
		return fmt.Errorf("file:// URLs are not supported for remote fetch")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https", "http", "ssh", "git":
	default:
		return fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if isPrivateHost(host) {
		return fmt.Errorf("fetching from private/internal addresses is not allowed")
	}
	return nil
}

func isPrivateHost(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return false
		}
		ip = ips[0]
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

func checkoutGit(ctx context.Context, env Env, v *repograph.Git) (Result, error) {
	if err := validateFetchURL(v.Repository); err != nil {
		// Local filesystem paths are a legitimate Git remote for this
		// driver (unlike the archive/file fetch paths), so only reject
		// once we know it's not a local path.
		if !strings.HasPrefix(v.Repository, "/") && !strings.HasPrefix(v.Repository, ".") {
			return Result{}, errs.Wrap(errs.KindCheckout, fmt.Sprintf("checking out git repository %q", v.Repository), err)
		}
	}

	commit := v.Commit
	if commit == "" || !env.Cache.HasCommit(ctx, commit) {
		var fetchErr error
		for _, src := range mirrorSources(v.Repository, v.Mirrors) {
			err := env.Cache.Fetch(ctx, gitcache.FetchOpts{
				Remote:  src,
				Branch:  v.Branch,
				Timeout: 5 * time.Minute,
			})
			if err == nil {
				fetchErr = nil
				break
			}
			fetchErr = multierr.Append(fetchErr, fmt.Errorf("source %q: %w", src, err))
		}
		if fetchErr != nil {
			return Result{}, errs.Wrap(errs.KindNetwork, fmt.Sprintf("fetching git repository %q", v.Repository), fetchErr)
		}
		if commit == "" {
			res, err := env.Launch.Run(ctx, "", nil, 15*time.Second,
				"git", "--git-dir="+env.Cache.Path, "rev-parse", "FETCH_HEAD")
			if err != nil {
				return Result{}, errs.Wrap(errs.KindCheckout, "resolving fetched HEAD", err)
			}
			commit = strings.TrimSpace(string(res.Stdout))
		}
	}

	if err := env.Cache.Keep(ctx, commit); err != nil {
		return Result{}, errs.Wrap(errs.KindCache, fmt.Sprintf("keeping commit %s alive", commit), err)
	}

	tree, err := env.Cache.TreeOf(ctx, commit)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCache, fmt.Sprintf("resolving tree for commit %s", commit), err)
	}
	return Result{Tree: tree}, nil
}
