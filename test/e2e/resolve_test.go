// Package e2e exercises the resolve pipeline end-to-end: config parsing,
// checkout, deduplication, and clone, wired together the same way
// cmd/just-mr's resolve command wires them, without going through the CLI
// binary itself.
package e2e

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/justbuild-go/just-mr/internal/checkout"
	"github.com/justbuild-go/just-mr/internal/config"
	"github.com/justbuild-go/just-mr/internal/dedup"
	"github.com/justbuild-go/just-mr/internal/filecas"
	"github.com/justbuild-go/just-mr/internal/gitcache"
	"github.com/justbuild-go/just-mr/internal/launcher"
	"github.com/justbuild-go/just-mr/internal/materialize"
	"github.com/justbuild-go/just-mr/internal/orchestrator"
	"github.com/justbuild-go/just-mr/internal/repograph"
)

func hasGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

// writeConfig writes a repository-config JSON file with two file roots
// that have byte-identical contents, so dedup is expected to merge them.
func writeConfig(t *testing.T, dir, srcA, srcB string) string {
	t.Helper()
	cfg := map[string]any{
		"main": "main",
		"repositories": map[string]any{
			"main": map[string]any{
				"repository": map[string]any{"type": "file", "path": srcA},
				"bindings":   map[string]any{"other": "other"},
			},
			"other": map[string]any{
				"repository": map[string]any{"type": "file", "path": srcB},
			},
		},
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "repos.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolvePipelineMergesIdenticalFileRoots(t *testing.T) {
	hasGit(t)
	root := t.TempDir()

	srcA := filepath.Join(root, "src-a")
	srcB := filepath.Join(root, "src-b")
	for _, d := range []string{srcA, srcB} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
		if err := os.WriteFile(filepath.Join(d, "hello.txt"), []byte("hello\n"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}

	cfgPath := writeConfig(t, root, srcA, srcB)
	g, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	ctx := context.Background()
	cache, err := gitcache.Open(ctx, filepath.Join(root, "cache.git"), launcher.Default)
	if err != nil {
		t.Fatalf("gitcache.Open: %v", err)
	}
	cas, err := filecas.Open(filepath.Join(root, "cas"))
	if err != nil {
		t.Fatalf("filecas.Open: %v", err)
	}
	env := checkout.Env{Cache: cache, CAS: cas, Launch: launcher.Default, WorkDir: filepath.Join(root, "work")}
	if err := os.MkdirAll(env.WorkDir, 0o755); err != nil {
		t.Fatalf("mkdir workdir: %v", err)
	}

	orch := orchestrator.New(cache, env, orchestrator.Config{})
	results, altResults, err := orch.RunCheckouts(ctx, g)
	if err != nil {
		t.Fatalf("RunCheckouts: %v", err)
	}

	sigs := make(map[string]dedup.Signature, len(g.Repos))
	for name, desc := range g.Repos {
		res, rerr := orchestrator.ResolveTreeForSlot(g, results, altResults, name, repograph.SlotRepository)
		if rerr != nil {
			t.Fatalf("ResolveTreeForSlot(%s): %v", name, rerr)
		}
		sigs[name] = dedup.Signature{
			Tree:               res.Tree,
			DirectFS:           res.DirectFS,
			TargetFileName:     desc.FileName(repograph.SlotTarget),
			RuleFileName:       desc.FileName(repograph.SlotRule),
			ExpressionFileName: desc.FileName(repograph.SlotExpression),
		}
	}
	partition, err := dedup.Compute(g, sigs)
	if err != nil {
		t.Fatalf("dedup.Compute: %v", err)
	}
	dedup.Apply(g, partition)
	if _, ok := g.Repos["main"]; !ok {
		t.Fatal("main repository must survive dedup")
	}

	dest := filepath.Join(root, "out")
	for name := range g.Repos {
		res, err := orchestrator.ResolveTreeFor(g, results, name)
		if err != nil {
			t.Fatalf("ResolveTreeFor(%s): %v", name, err)
		}
		target := materialize.Target{Tree: res.Tree, DirectFS: res.DirectFS, Dest: filepath.Join(dest, name)}
		if err := materialize.Clone(ctx, cache, target); err != nil {
			t.Fatalf("Clone(%s): %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(dest, name, "hello.txt")); err != nil {
			t.Fatalf("cloned repository %s missing hello.txt: %v", name, err)
		}
	}
}
