package repograph

import "testing"

func TestSlotDefaultsToRepository(t *testing.T) {
	root := &Root{Variant: &File{Path: "/tmp/x"}}
	d := &Description{Repository: RootSlot{Root: root}}

	for _, kind := range []SlotKind{SlotTarget, SlotRule, SlotExpression} {
		if got := d.Slot(kind); got.Root != root {
			t.Fatalf("Slot(%v) = %+v, want default to Repository root", kind, got)
		}
	}
}

func TestResolveRootFollowsReferences(t *testing.T) {
	g := NewGraph()
	root := &Root{Variant: &Git{Repository: "https://example.invalid/a.git", Branch: "main"}}
	g.Repos["a"] = &Description{Repository: RootSlot{Root: root}}
	g.Repos["b"] = &Description{Repository: RootSlot{Ref: "a"}}
	g.Repos["c"] = &Description{Repository: RootSlot{Ref: "b"}}

	got, err := g.ResolveRoot("c", SlotRepository)
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	if got != root {
		t.Fatalf("ResolveRoot(c) = %v, want %v", got, root)
	}
}

func TestResolveRootDetectsCycle(t *testing.T) {
	g := NewGraph()
	g.Repos["a"] = &Description{Repository: RootSlot{Ref: "b"}}
	g.Repos["b"] = &Description{Repository: RootSlot{Ref: "a"}}

	if _, err := g.ResolveRoot("a", SlotRepository); err == nil {
		t.Fatal("ResolveRoot did not detect reference cycle")
	}
}

func TestValidateDistdirRequiresArchiveMembers(t *testing.T) {
	g := NewGraph()
	g.Repos["gitrepo"] = &Description{
		Repository: RootSlot{Root: &Root{Variant: &Git{Repository: "https://example.invalid/g.git"}}},
	}
	g.Repos["dd"] = &Description{
		Repository: RootSlot{Root: &Root{Variant: &Distdir{Repositories: []string{"gitrepo"}}}},
	}

	if err := g.Validate(); err == nil {
		t.Fatal("Validate accepted a distdir member that is not archive/zip rooted")
	}
}

func TestValidateDistdirAcceptsArchiveMembers(t *testing.T) {
	g := NewGraph()
	g.Repos["arc"] = &Description{
		Repository: RootSlot{Root: &Root{Variant: &Archive{Fetch: "https://example.invalid/a.tar.gz"}}},
	}
	g.Repos["dd"] = &Description{
		Repository: RootSlot{Root: &Root{Variant: &Distdir{Repositories: []string{"arc"}}}},
	}

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateComputedRequiresExistingRepository(t *testing.T) {
	g := NewGraph()
	g.Repos["x"] = &Description{
		Repository: RootSlot{Root: &Root{Variant: &Computed{Repo: "missing"}}},
	}

	if err := g.Validate(); err == nil {
		t.Fatal("Validate accepted a computed root naming a missing repository")
	}
}

func TestFileNameDefaults(t *testing.T) {
	d := &Description{}
	if got := d.FileName(SlotTarget); got != DefaultTargetFileName {
		t.Fatalf("FileName(target) = %q, want %q", got, DefaultTargetFileName)
	}
	d.RuleFileName = "BUILD.rules"
	if got := d.FileName(SlotRule); got != "BUILD.rules" {
		t.Fatalf("FileName(rule) = %q, want override", got)
	}
}
