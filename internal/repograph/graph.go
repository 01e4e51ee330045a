// Package repograph models the multi-repository configuration: a mapping
// from repository name to repository description, the tagged union of root
// variants a description can point at, and the small set of structural
// invariants every graph must satisfy before it can be materialized.
package repograph

import "fmt"

// Graph is a mapping from repository name to its description. Descriptions
// are never mutated in place; every rewrite produces a new Description keyed
// under a (possibly new) name.
type Graph struct {
	Main  string
	Repos map[string]*Description
	Keep  []string
}

// NewGraph returns an empty Graph ready to be populated by the orchestrator.
func NewGraph() *Graph {
	return &Graph{Repos: make(map[string]*Description)}
}

// Description is everything the graph knows about one repository.
type Description struct {
	Repository      RootSlot
	TargetRoot      RootSlot
	RuleRoot        RootSlot
	ExpressionRoot  RootSlot
	TargetFileName  string
	RuleFileName    string
	ExpressionFileName string
	Bindings        map[string]string // local alias -> repository name
}

// Default file names used whenever a Description leaves a slot empty.
const (
	DefaultTargetFileName     = "TARGETS"
	DefaultRuleFileName       = "RULES"
	DefaultExpressionFileName = "EXPRESSIONS"
)

// FileName returns the effective file name for slot, applying the default
// when the description leaves it unset.
func (d *Description) FileName(slot SlotKind) string {
	switch slot {
	case SlotTarget:
		return orDefault(d.TargetFileName, DefaultTargetFileName)
	case SlotRule:
		return orDefault(d.RuleFileName, DefaultRuleFileName)
	case SlotExpression:
		return orDefault(d.ExpressionFileName, DefaultExpressionFileName)
	default:
		return ""
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SlotKind names one of the four root slots a Description may carry.
type SlotKind int

const (
	SlotRepository SlotKind = iota
	SlotTarget
	SlotRule
	SlotExpression
)

func (s SlotKind) String() string {
	switch s {
	case SlotRepository:
		return "repository"
	case SlotTarget:
		return "target_root"
	case SlotRule:
		return "rule_root"
	case SlotExpression:
		return "expression_root"
	default:
		return "unknown"
	}
}

// Slot returns the requested root slot, defaulting unset alternate slots to
// the Repository root per spec §3.
func (d *Description) Slot(kind SlotKind) RootSlot {
	var s RootSlot
	switch kind {
	case SlotRepository:
		s = d.Repository
	case SlotTarget:
		s = d.TargetRoot
	case SlotRule:
		s = d.RuleRoot
	case SlotExpression:
		s = d.ExpressionRoot
	}
	if s.IsZero() {
		return d.Repository
	}
	return s
}

// RawSlot returns the requested root slot exactly as declared, without the
// Repository-slot fallback Slot applies to unset alternate slots. Callers
// that need to know whether a slot carries its own distinct root object
// (rather than implicitly sharing the repository's) use this instead of
// Slot.
func (d *Description) RawSlot(kind SlotKind) RootSlot {
	switch kind {
	case SlotTarget:
		return d.TargetRoot
	case SlotRule:
		return d.RuleRoot
	case SlotExpression:
		return d.ExpressionRoot
	default:
		return d.Repository
	}
}

// RootSlot holds either a name reference to another repository or a
// concrete Root object, never both.
type RootSlot struct {
	Ref  string // non-empty -> this slot is a reference to another repository
	Root *Root  // non-nil  -> this slot is an object
}

// IsZero reports whether the slot carries neither a reference nor an object.
func (s RootSlot) IsZero() bool { return s.Ref == "" && s.Root == nil }

// IsRef reports whether the slot is a name reference.
func (s RootSlot) IsRef() bool { return s.Ref != "" }

// ResolveRoot follows name references on slot kind `kind` of repository
// `name` until it lands on a Root object, per invariant 1 (root references
// form a forest). It returns an error if resolution does not terminate
// within len(g.Repos)+1 hops, which can only happen via a reference cycle.
func (g *Graph) ResolveRoot(name string, kind SlotKind) (*Root, error) {
	seen := map[string]bool{}
	limit := len(g.Repos) + 1
	for i := 0; i <= limit; i++ {
		desc, ok := g.Repos[name]
		if !ok {
			return nil, fmt.Errorf("repository %q: no such repository", name)
		}
		slot := desc.Slot(kind)
		if slot.Root != nil {
			return slot.Root, nil
		}
		if !slot.IsRef() {
			return nil, fmt.Errorf("repository %q: %s root is neither object nor reference", name, kind)
		}
		if seen[slot.Ref] {
			return nil, fmt.Errorf("repository %q: %s root reference cycle through %q", name, kind, slot.Ref)
		}
		seen[slot.Ref] = true
		name = slot.Ref
	}
	return nil, fmt.Errorf("repository %q: %s root reference chain too long", name, kind)
}

// Validate checks invariants 1-3 from spec §3 over the whole graph.
func (g *Graph) Validate() error {
	for name, desc := range g.Repos {
		for _, kind := range []SlotKind{SlotRepository, SlotTarget, SlotRule, SlotExpression} {
			slot := desc.Slot(kind)
			if slot.IsZero() {
				continue
			}
			if _, err := g.ResolveRoot(name, kind); err != nil {
				return err
			}
		}

		root, err := g.ResolveRoot(name, SlotRepository)
		if err != nil {
			return err
		}
		if err := g.validateRootRefs(name, root); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) validateRootRefs(name string, root *Root) error {
	switch v := root.Variant.(type) {
	case *Distdir:
		for _, entry := range v.Repositories {
			member, ok := g.Repos[entry]
			if !ok {
				return fmt.Errorf("repository %q: distdir entry %q does not exist", name, entry)
			}
			mroot, err := g.ResolveRoot(entry, SlotRepository)
			if err != nil {
				return err
			}
			_ = member
			switch mroot.Variant.(type) {
			case *Archive, *Zip:
				// ok
			default:
				return fmt.Errorf("repository %q: distdir entry %q is not archive/zip rooted", name, entry)
			}
		}
	case *Computed:
		if _, ok := g.Repos[v.Repo]; !ok {
			return fmt.Errorf("repository %q: computed root names missing repository %q", name, v.Repo)
		}
	}
	return nil
}
