package checkout

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/justbuild-go/just-mr/internal/errs"
	"github.com/justbuild-go/just-mr/internal/objcodec"
	"github.com/justbuild-go/just-mr/internal/repograph"
)

// fetchArchiveBytes implements spec §4.5.2 step 1: if content is already
// known and present in the File CAS, the archive's bytes are read straight
// out of the CAS without touching the network at all. Otherwise it fetches
// into scratch, publishes the result into the CAS under its own blob hash,
// and verifies that hash against content when one was declared (invariant
// 4: "the File CAS must hold a blob whose SHA-1 Git hash equals content").
// Returns the path the unpack step should read from.
func fetchArchiveBytes(ctx context.Context, env Env, sources []string, scratch, downloadName, content, sha256, sha512 string) (string, error) {
	if content != "" && env.CAS.Has(objcodec.Hash(content)) {
		return env.CAS.Path(objcodec.Hash(content)), nil
	}

	dst := filepath.Join(scratch, downloadName)
	if err := fetchToFileVerified(ctx, env, sources, dst, sha256, sha512); err != nil {
		return "", err
	}

	blob, err := env.CAS.AddFile(dst)
	if err != nil {
		return "", fmt.Errorf("publishing fetched archive into the file CAS: %w", err)
	}
	if content != "" && string(blob) != content {
		return "", fmt.Errorf("content mismatch: got %s, expected %s", blob, content)
	}
	return env.CAS.Path(blob), nil
}

// checkoutArchive fetches a tarball, unpacks it into a scratch directory
// with `tar`, then stages the resulting tree into the Git cache via
// objcodec, matching the same encode-then-stage path every non-git root
// funnels through.
func checkoutArchive(ctx context.Context, env Env, v *repograph.Archive, isZip bool) (Result, error) {
	scratch, err := os.MkdirTemp(env.WorkDir, "archive-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating archive scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	archivePath, err := fetchArchiveBytes(ctx, env, mirrorSources(v.Fetch, v.Mirrors), scratch, "download", v.Content, v.Sha256, v.Sha512)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindNetwork, fmt.Sprintf("fetching archive %q", v.Fetch), err)
	}

	unpackDir := filepath.Join(scratch, "unpacked")
	if err := os.MkdirAll(unpackDir, 0o755); err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating unpack directory", err)
	}

	if _, err := env.Launch.Run(ctx, "", nil, 5*time.Minute,
		"tar", "-xf", archivePath, "-C", unpackDir); err != nil {
		return Result{}, errs.Wrap(errs.KindCheckout, fmt.Sprintf("unpacking archive %q", v.Fetch), err)
	}

	root := applySubdirAndStrip(unpackDir, v.Subdir, v.StripPrefix)
	tree, err := stageDirectoryTree(env, root)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCache, fmt.Sprintf("staging archive %q", v.Fetch), err)
	}
	return Result{Tree: tree}, nil
}

func checkoutZip(ctx context.Context, env Env, v *repograph.Zip) (Result, error) {
	scratch, err := os.MkdirTemp(env.WorkDir, "zip-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating zip scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	archivePath, err := fetchArchiveBytes(ctx, env, mirrorSources(v.Fetch, v.Mirrors), scratch, "download.zip", v.Content, v.Sha256, v.Sha512)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindNetwork, fmt.Sprintf("fetching zip %q", v.Fetch), err)
	}

	unpackDir := filepath.Join(scratch, "unpacked")
	if err := os.MkdirAll(unpackDir, 0o755); err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating unpack directory", err)
	}
	if _, err := env.Launch.Run(ctx, "", nil, 5*time.Minute,
		"unzip", "-q", archivePath, "-d", unpackDir); err != nil {
		return Result{}, errs.Wrap(errs.KindCheckout, fmt.Sprintf("unpacking zip %q", v.Fetch), err)
	}

	root := applySubdirAndStrip(unpackDir, v.Subdir, v.StripPrefix)
	tree, err := stageDirectoryTree(env, root)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCache, fmt.Sprintf("staging zip %q", v.Fetch), err)
	}
	return Result{Tree: tree}, nil
}

func checkoutForeignFile(ctx context.Context, env Env, v *repograph.ForeignFile) (Result, error) {
	scratch, err := os.MkdirTemp(env.WorkDir, "foreign-file-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating foreign file scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	name := v.Name
	if name == "" {
		name = filepath.Base(v.Fetch)
	}
	dst := filepath.Join(scratch, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating foreign file directory", err)
	}

	fetchDir := filepath.Join(scratch, ".fetch")
	if err := os.MkdirAll(fetchDir, 0o755); err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating foreign file fetch directory", err)
	}
	fetchedPath, err := fetchArchiveBytes(ctx, env, mirrorSources(v.Fetch, v.Mirrors), fetchDir, "download", v.Content, v.Sha256, v.Sha512)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindNetwork, fmt.Sprintf("fetching foreign file %q", v.Fetch), err)
	}
	if err := copyFile(fetchedPath, dst); err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, fmt.Sprintf("placing foreign file %q", v.Fetch), err)
	}
	os.RemoveAll(fetchDir)
	if v.Executable {
		if err := os.Chmod(dst, 0o755); err != nil {
			return Result{}, errs.Wrap(errs.KindInternal, "marking foreign file executable", err)
		}
	}

	tree, err := stageDirectoryTree(env, scratch)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCache, fmt.Sprintf("staging foreign file %q", v.Fetch), err)
	}
	return Result{Tree: tree}, nil
}

// copyFile copies src to dst, used to place a fetched/CAS-cached blob
// (which may live outside scratch, e.g. inside the File CAS) at the
// specific relative path a foreign-file root names.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %q: %w", src, err)
	}
	return os.WriteFile(dst, data, 0o644)
}

func checkoutGitTree(ctx context.Context, env Env, v *repograph.GitTree) (Result, error) {
	if v.ID != "" {
		if _, err := env.Cache.ReadTree(ctx, objcodec.Hash(v.ID)); err == nil {
			return Result{Tree: objcodec.Hash(v.ID)}, nil
		}
	}
	if len(v.Command) == 0 {
		return Result{}, errs.New(errs.KindCheckout,
			fmt.Sprintf("git tree %s is not present in any cache and no generating command was given", v.ID))
	}

	scratch, err := os.MkdirTemp(env.WorkDir, "git-tree-*")
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInternal, "creating git tree scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	if _, err := env.Launch.Run(ctx, scratch, v.Env, 10*time.Minute, v.Command...); err != nil {
		return Result{}, errs.Wrap(errs.KindCheckout, fmt.Sprintf("running git tree command %v", v.Command), err)
	}

	tree, err := stageDirectoryTree(env, scratch)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCache, "staging generated git tree", err)
	}
	if v.ID != "" && string(tree) != v.ID {
		return Result{}, errs.New(errs.KindCheckout,
			fmt.Sprintf("git tree command produced %s, expected %s", tree, v.ID))
	}
	return Result{Tree: tree}, nil
}

// applySubdirAndStrip returns the effective root directory after applying
// an archive's strip-prefix (removing one leading path component, as tar
// --strip-components=1 would) and subdir selection.
func applySubdirAndStrip(base, subdir, stripPrefix string) string {
	root := base
	if stripPrefix != "" {
		entries, err := os.ReadDir(root)
		if err == nil && len(entries) == 1 && entries[0].IsDir() {
			root = filepath.Join(root, entries[0].Name())
		}
	}
	if subdir != "" {
		root = filepath.Join(root, subdir)
	}
	return root
}
