package checkout

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/justbuild-go/just-mr/internal/filecas"
	"github.com/justbuild-go/just-mr/internal/gitcache"
	"github.com/justbuild-go/just-mr/internal/launcher"
	"github.com/justbuild-go/just-mr/internal/repograph"
)

func hasGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

func newTestEnv(t *testing.T) Env {
	t.Helper()
	hasGit(t)
	dir := t.TempDir()
	cache, err := gitcache.Open(context.Background(), filepath.Join(dir, "cache.git"), launcher.Default)
	if err != nil {
		t.Fatalf("gitcache.Open: %v", err)
	}
	cas, err := filecas.Open(filepath.Join(dir, "cas"))
	if err != nil {
		t.Fatalf("filecas.Open: %v", err)
	}
	return Env{Cache: cache, CAS: cas, Launch: launcher.Default, WorkDir: dir}
}

func TestCheckoutFileReturnsDirectPath(t *testing.T) {
	res, err := checkoutFile(&repograph.File{Path: "/some/local/path"})
	if err != nil {
		t.Fatalf("checkoutFile: %v", err)
	}
	if res.DirectFS != "/some/local/path" {
		t.Fatalf("DirectFS = %q, want /some/local/path", res.DirectFS)
	}
	if res.Tree != "" {
		t.Fatalf("Tree = %q, want empty for a file root", res.Tree)
	}
}

func TestValidateFetchURLRejectsPrivateHost(t *testing.T) {
	if err := validateFetchURL("http://127.0.0.1/x.tar.gz"); err == nil {
		t.Fatal("validateFetchURL accepted a loopback address")
	}
}

func TestValidateFetchURLRejectsFileScheme(t *testing.T) {
	if err := validateFetchURL("file:///etc/passwd"); err == nil {
		t.Fatal("validateFetchURL accepted a file:// URL")
	}
}

func TestValidateFetchURLAcceptsHTTPS(t *testing.T) {
	if err := validateFetchURL("https://example.invalid/archive.tar.gz"); err != nil {
		t.Fatalf("validateFetchURL rejected a plain https URL: %v", err)
	}
}

func TestStageDirectoryTreeIsDeterministic(t *testing.T) {
	env := newTestEnv(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	tree1, err := stageDirectoryTree(env, dir)
	if err != nil {
		t.Fatalf("stageDirectoryTree: %v", err)
	}
	tree2, err := stageDirectoryTree(env, dir)
	if err != nil {
		t.Fatalf("second stageDirectoryTree: %v", err)
	}
	if tree1 != tree2 {
		t.Fatalf("staging the same tree twice gave different hashes: %s vs %s", tree1, tree2)
	}
}

func TestCheckoutGenericStagesCommandOutput(t *testing.T) {
	env := newTestEnv(t)
	res, err := CheckoutGeneric(context.Background(), env, GenericCommand{
		Command: []string{"sh", "-c", "echo hi > out.txt"},
	})
	if err != nil {
		t.Fatalf("CheckoutGeneric: %v", err)
	}
	if res.Tree == "" {
		t.Fatal("CheckoutGeneric returned an empty tree")
	}
}

func TestCheckoutGenericRejectsEmptyCommand(t *testing.T) {
	env := newTestEnv(t)
	if _, err := CheckoutGeneric(context.Background(), env, GenericCommand{}); err == nil {
		t.Fatal("CheckoutGeneric accepted an empty command")
	}
}
