package config

import (
	"strings"
	"testing"

	"github.com/justbuild-go/just-mr/internal/repograph"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	g := repograph.NewGraph()
	g.Main = "main"
	g.Keep = []string{"main"}
	g.Repos["main"] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{
			Variant: &repograph.Git{Repository: "https://example.invalid/main.git", Branch: "master", Commit: "abc123"},
		}},
		Bindings:       map[string]string{"lib": "lib"},
		TargetFileName: "TARGETS",
	}
	g.Repos["lib"] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{
			Variant: &repograph.Archive{Fetch: "https://example.invalid/lib.tar.gz", Sha256: "deadbeef"},
		}},
		TargetRoot: repograph.RootSlot{Ref: "main"},
	}

	data, err := Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, imports, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if len(imports) != 0 {
		t.Fatalf("imports = %v, want none", imports)
	}
	if got.Main != "main" {
		t.Fatalf("Main = %q, want main", got.Main)
	}
	if len(got.Repos) != 2 {
		t.Fatalf("got %d repositories, want 2", len(got.Repos))
	}

	mainDesc := got.Repos["main"]
	if mainDesc.TargetFileName != "TARGETS" {
		t.Fatalf("TargetFileName = %q, want TARGETS", mainDesc.TargetFileName)
	}
	if mainDesc.Bindings["lib"] != "lib" {
		t.Fatalf("Bindings[lib] = %q, want lib", mainDesc.Bindings["lib"])
	}
	gitRoot, ok := mainDesc.Repository.Root.Variant.(*repograph.Git)
	if !ok {
		t.Fatalf("main repository root = %T, want *repograph.Git", mainDesc.Repository.Root.Variant)
	}
	if gitRoot.Commit != "abc123" {
		t.Fatalf("Commit = %q, want abc123", gitRoot.Commit)
	}

	libDesc := got.Repos["lib"]
	if !libDesc.TargetRoot.IsRef() || libDesc.TargetRoot.Ref != "main" {
		t.Fatalf("lib TargetRoot = %+v, want ref to main", libDesc.TargetRoot)
	}
	archiveRoot, ok := libDesc.Repository.Root.Variant.(*repograph.Archive)
	if !ok {
		t.Fatalf("lib repository root = %T, want *repograph.Archive", libDesc.Repository.Root.Variant)
	}
	if archiveRoot.Sha256 != "deadbeef" {
		t.Fatalf("Sha256 = %q, want deadbeef", archiveRoot.Sha256)
	}
}

func TestMarshalOmitsUnsetAltRoots(t *testing.T) {
	g := repograph.NewGraph()
	g.Main = "main"
	g.Repos["main"] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.File{Path: "."}}},
	}
	data, err := Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "target_root") {
		t.Fatalf("output unexpectedly includes an unset target_root: %s", data)
	}
}

func TestParseBytesAcceptsStringRootReference(t *testing.T) {
	data := []byte(`{
		"main": "a",
		"repositories": {
			"a": {"repository": "b"},
			"b": {"repository": {"type": "file", "path": "."}}
		}
	}`)
	g, _, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if !g.Repos["a"].Repository.IsRef() || g.Repos["a"].Repository.Ref != "b" {
		t.Fatalf("a.Repository = %+v, want ref to b", g.Repos["a"].Repository)
	}
}
