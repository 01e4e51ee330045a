package checkout

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/justbuild-go/just-mr/internal/objcodec"
)

// fetchToFile downloads the first reachable source in sources to dst,
// aggregating every individual failure so a total-exhaustion error lists
// each attempted mirror and why it failed rather than a single opaque
// "download failed".
func fetchToFile(ctx context.Context, env Env, sources []string, dst string) error {
	var combined error
	for _, src := range sources {
		if err := validateFetchURL(src); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", src, err))
			continue
		}
		if err := downloadOne(ctx, src, dst); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", src, err))
			continue
		}
		return nil
	}
	return combined
}

// fetchToFileVerified is fetchToFile plus spec §4.5.2 step 1's sha256/sha512
// check: a source whose downloaded bytes don't match a known digest is
// skipped (not fatal) in favor of the next mirror, matching scenario D.
func fetchToFileVerified(ctx context.Context, env Env, sources []string, dst, wantSha256, wantSha512 string) error {
	var combined error
	for _, src := range sources {
		if err := validateFetchURL(src); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", src, err))
			continue
		}
		if err := downloadOne(ctx, src, dst); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", src, err))
			continue
		}
		if err := verifyDigests(dst, wantSha256, wantSha512); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", src, err))
			continue
		}
		return nil
	}
	if combined == nil {
		return fmt.Errorf("no sources given")
	}
	return combined
}

func verifyDigests(path, wantSha256, wantSha512 string) error {
	if wantSha256 == "" && wantSha512 == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading downloaded file for digest check: %w", err)
	}
	if wantSha256 != "" {
		got := hex.EncodeToString(sum256(data))
		if got != wantSha256 {
			return fmt.Errorf("sha256 mismatch: got %s, expected %s", got, wantSha256)
		}
	}
	if wantSha512 != "" {
		got := hex.EncodeToString(sum512(data))
		if got != wantSha512 {
			return fmt.Errorf("sha512 mismatch: got %s, expected %s", got, wantSha512)
		}
	}
	return nil
}

func sum256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func sum512(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

func downloadOne(ctx context.Context, src, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing destination file: %w", err)
	}
	return nil
}

// stageDirectoryTree recursively stages every file under root as a loose
// blob in the cache and builds the corresponding tree objects bottom-up,
// returning the root tree id.
func stageDirectoryTree(env Env, root string) (objcodec.Hash, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", root)
	}
	return stageDir(env, root)
}

func stageDir(env Env, dir string) (objcodec.Hash, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading directory %q: %w", dir, err)
	}

	var treeEntries []objcodec.TreeEntry
	for _, ent := range entries {
		full := filepath.Join(dir, ent.Name())
		fi, err := ent.Info()
		if err != nil {
			return "", fmt.Errorf("stat %q: %w", full, err)
		}

		switch {
		case fi.IsDir():
			sub, err := stageDir(env, full)
			if err != nil {
				return "", err
			}
			treeEntries = append(treeEntries, objcodec.TreeEntry{Mode: objcodec.ModeDir, Name: ent.Name(), Hash: sub})
		case fi.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return "", fmt.Errorf("reading symlink %q: %w", full, err)
			}
			id, err := env.Cache.StageLoose(objcodec.BlobObject, []byte(target))
			if err != nil {
				return "", err
			}
			treeEntries = append(treeEntries, objcodec.TreeEntry{Mode: objcodec.ModeSymlink, Name: ent.Name(), Hash: id})
		default:
			content, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("reading %q: %w", full, err)
			}
			id, err := env.Cache.StageLoose(objcodec.BlobObject, content)
			if err != nil {
				return "", err
			}
			mode := objcodec.ModeFile
			if fi.Mode()&0o111 != 0 {
				mode = objcodec.ModeExecutable
			}
			treeEntries = append(treeEntries, objcodec.TreeEntry{Mode: mode, Name: ent.Name(), Hash: id})
		}
	}

	_, body, err := objcodec.HashTree(treeEntries)
	if err != nil {
		return "", err
	}
	return env.Cache.StageLoose(objcodec.TreeObject, body)
}
