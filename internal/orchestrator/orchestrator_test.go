package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/justbuild-go/just-mr/internal/checkout"
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

func TestRunCheckoutsSkipsReferenceSlots(t *testing.T) {
	hasGit(t)
	workDir := t.TempDir()
	cache, err := gitcache.Open(context.Background(), filepath.Join(workDir, "cache.git"), launcher.Default)
	if err != nil {
		t.Fatalf("gitcache.Open: %v", err)
	}

	srcA := filepath.Join(workDir, "a")
	if err := os.MkdirAll(srcA, 0o755); err != nil {
		t.Fatal(err)
	}

	g := repograph.NewGraph()
	g.Repos["a"] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.File{Path: srcA}}},
	}
	g.Repos["b"] = &repograph.Description{
		Repository: repograph.RootSlot{Ref: "a"},
	}

	cas, err := filecas.Open(filepath.Join(workDir, "cas"))
	if err != nil {
		t.Fatalf("filecas.Open: %v", err)
	}

	o := New(cache, checkout.Env{Cache: cache, CAS: cas, Launch: launcher.Default, WorkDir: workDir}, Config{})
	results, altResults, err := o.RunCheckouts(context.Background(), g)
	if err != nil {
		t.Fatalf("RunCheckouts: %v", err)
	}
	if _, ok := results["a"]; !ok {
		t.Fatal("RunCheckouts did not check out repository a")
	}
	if _, ok := results["b"]; ok {
		t.Fatal("RunCheckouts checked out repository b, which only references a's root")
	}
	if len(altResults) != 0 {
		t.Fatalf("RunCheckouts produced %d alternate-slot results, want 0: neither repo sets TargetRoot/RuleRoot/ExpressionRoot", len(altResults))
	}
}

func TestRunCheckoutsChecksOutAlternateRootSlots(t *testing.T) {
	hasGit(t)
	workDir := t.TempDir()
	cache, err := gitcache.Open(context.Background(), filepath.Join(workDir, "cache.git"), launcher.Default)
	if err != nil {
		t.Fatalf("gitcache.Open: %v", err)
	}
	cas, err := filecas.Open(filepath.Join(workDir, "cas"))
	if err != nil {
		t.Fatalf("filecas.Open: %v", err)
	}

	srcMain := filepath.Join(workDir, "main")
	srcRules := filepath.Join(workDir, "rules")
	for _, d := range []string{srcMain, srcRules} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	g := repograph.NewGraph()
	g.Repos["a"] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.File{Path: srcMain}}},
		RuleRoot:   repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.File{Path: srcRules}}},
	}

	o := New(cache, checkout.Env{Cache: cache, CAS: cas, Launch: launcher.Default, WorkDir: workDir}, Config{})
	results, altResults, err := o.RunCheckouts(context.Background(), g)
	if err != nil {
		t.Fatalf("RunCheckouts: %v", err)
	}
	if _, ok := results["a"]; !ok {
		t.Fatal("RunCheckouts did not check out repository a's repository root")
	}
	key := SlotKey{Repo: "a", Slot: repograph.SlotRule}
	res, ok := altResults[key]
	if !ok {
		t.Fatal("RunCheckouts did not check out repository a's rule_root object")
	}
	if res.DirectFS != srcRules {
		t.Fatalf("rule_root checkout DirectFS = %q, want %q", res.DirectFS, srcRules)
	}
}

func TestRunCheckoutsAggregatesFailures(t *testing.T) {
	hasGit(t)
	workDir := t.TempDir()
	cache, err := gitcache.Open(context.Background(), filepath.Join(workDir, "cache.git"), launcher.Default)
	if err != nil {
		t.Fatalf("gitcache.Open: %v", err)
	}

	cas, err := filecas.Open(filepath.Join(workDir, "cas"))
	if err != nil {
		t.Fatalf("filecas.Open: %v", err)
	}

	g := repograph.NewGraph()
	g.Repos["broken"] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.GitTree{ID: ""}}},
	}

	o := New(cache, checkout.Env{Cache: cache, CAS: cas, Launch: launcher.Default, WorkDir: workDir}, Config{})
	_, _, err = o.RunCheckouts(context.Background(), g)
	if err == nil {
		t.Fatal("RunCheckouts did not report the broken repository's failure")
	}
}
