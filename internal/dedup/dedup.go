// Package dedup computes the coarsest bisimulation-equivalence partition
// over a repository graph's names: two repositories are merged whenever
// nothing observable distinguishes them — same root content, same file
// names, same bindings once those bindings are themselves considered
// equivalent. This is a fixpoint computation, not a single pass: merging
// two repositories can make two of their dependents newly
// indistinguishable, so the algorithm iterates a Hopcroft-style
// partition-refinement loop (start from one coarse class per distinct
// "local" signature, then repeatedly split classes whose members disagree
// on which class a binding target belongs to) until no split occurs,
// exactly mirroring how the teacher's RepoManager-style fixpoint loops
// drain a work queue until it is empty rather than running a fixed number
// of passes.
package dedup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/justbuild-go/just-mr/internal/objcodec"
	"github.com/justbuild-go/just-mr/internal/repograph"
)

// Signature is the observable, binding-independent fingerprint of a
// repository: its resolved root content, the effective roots of its three
// alternate slots, and its file name overrides. Two repositories with
// different signatures can never be equivalent, regardless of what their
// bindings resolve to (spec §4.7 items 1-2).
type Signature struct {
	Tree               objcodec.Hash
	DirectFS           string
	TargetRootTree     objcodec.Hash
	TargetRootFS       string
	RuleRootTree       objcodec.Hash
	RuleRootFS         string
	ExpressionRootTree objcodec.Hash
	ExpressionRootFS   string
	TargetFileName     string
	RuleFileName       string
	ExpressionFileName string
}

// Partition maps every repository name to the representative name chosen
// for its equivalence class.
type Partition map[string]string

// Compute returns the coarsest partition of g.Repos's names consistent
// with trees (each name's resolved content, supplied by the caller since
// resolving it requires the checkout/cache layer this package does not
// depend on).
func Compute(g *repograph.Graph, trees map[string]Signature) (Partition, error) {
	names := sortedNames(g)
	for _, n := range names {
		if _, ok := trees[n]; !ok {
			return nil, fmt.Errorf("dedup: no signature supplied for repository %q", n)
		}
	}

	// classOf starts as one class per distinct signature: repositories
	// that already disagree on observable content can never merge no
	// matter what their bindings resolve to.
	classOf := map[string]int{}
	sigToClass := map[Signature]int{}
	nextClass := 0
	for _, n := range names {
		sig := trees[n]
		c, ok := sigToClass[sig]
		if !ok {
			c = nextClass
			nextClass++
			sigToClass[sig] = c
		}
		classOf[n] = c
	}

	for {
		changed := false
		// refine groups names already in the same class by their
		// "binding signature": the sorted (alias, target-class) pairs.
		// Names within one old class that disagree on this signature
		// must split into new classes — the back-edge propagation
		// spec.md describes as "different-if" edges.
		byOldClass := map[int][]string{}
		for _, n := range names {
			byOldClass[classOf[n]] = append(byOldClass[classOf[n]], n)
		}

		newClassOf := map[string]int{}
		newNext := 0
		for _, old := range sortedIntKeys(byOldClass) {
			members := byOldClass[old]
			sort.Strings(members)

			bindingSigToClass := map[string]int{}
			for _, n := range members {
				key := bindingSignature(g, n, classOf)
				c, ok := bindingSigToClass[key]
				if !ok {
					c = newNext
					newNext++
					bindingSigToClass[key] = c
				}
				newClassOf[n] = c
			}
		}

		for _, n := range names {
			if newClassOf[n] != classOf[n] {
				changed = true
			}
		}
		classOf = renumber(names, newClassOf)

		if !changed {
			break
		}
	}

	return toPartition(g, names, classOf), nil
}

// bindingSignature renders repository n's bindings as a deterministic
// string keyed by equivalence class rather than by name, so two
// repositories binding to different names that happen to be in the same
// class produce identical signatures.
func bindingSignature(g *repograph.Graph, n string, classOf map[string]int) string {
	desc := g.Repos[n]
	aliases := make([]string, 0, len(desc.Bindings))
	for alias := range desc.Bindings {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	sig := ""
	for _, alias := range aliases {
		target := desc.Bindings[alias]
		sig += fmt.Sprintf("%s=%d;", alias, classOf[target])
	}
	return sig
}

// renumber produces a dense 0..k-1 class numbering from whatever values
// newClassOf happens to hold, so class identifiers stay comparable across
// iterations without growing unboundedly.
func renumber(names []string, newClassOf map[string]int) map[string]int {
	remap := map[int]int{}
	next := 0
	out := make(map[string]int, len(names))
	for _, n := range names {
		old := newClassOf[n]
		nn, ok := remap[old]
		if !ok {
			nn = next
			next++
			remap[old] = nn
		}
		out[n] = nn
	}
	return out
}

// toPartition picks a representative for each final class following the
// same three-tier order as just-deduplicate-repos.py's choose_representative:
// (1) prefer a member whose root is an object rather than a name reference,
// so a representative is never chosen that would make some other member's
// rewritten reference point at itself; (2) among those, prefer a kept
// member; (3) break remaining ties by (slash count, length, name). main and
// any kept repository additionally always maps to itself in the output,
// regardless of which member tier (1)/(2)/(3) would otherwise have picked,
// since they are externally referenced by name and cannot be renamed away.
func toPartition(g *repograph.Graph, names []string, classOf map[string]int) Partition {
	protect := map[string]bool{g.Main: true}
	for _, k := range g.Keep {
		protect[k] = true
	}

	membersByClass := map[int][]string{}
	for _, n := range names {
		membersByClass[classOf[n]] = append(membersByClass[classOf[n]], n)
	}
	repByClass := make(map[int]string, len(membersByClass))
	for c, members := range membersByClass {
		repByClass[c] = chooseRepresentative(g, members, protect)
	}

	out := make(Partition, len(names))
	for _, n := range names {
		if protect[n] {
			out[n] = n
			continue
		}
		out[n] = repByClass[classOf[n]]
	}
	return out
}

// chooseRepresentative picks the representative for one equivalence class,
// grounded on just-deduplicate-repos.py's choose_representative: the
// with_root filter runs before the keep filter, and the final tie-break
// sorts by (slash count, length, name) rather than name alone.
func chooseRepresentative(g *repograph.Graph, members []string, protect map[string]bool) string {
	candidates := members

	var withRoot []string
	for _, n := range candidates {
		if !g.Repos[n].Repository.IsRef() {
			withRoot = append(withRoot, n)
		}
	}
	if len(withRoot) > 0 {
		candidates = withRoot
	}

	var kept []string
	for _, n := range candidates {
		if protect[n] {
			kept = append(kept, n)
		}
	}
	if len(kept) > 0 {
		candidates = kept
	}

	best := candidates[0]
	for _, n := range candidates[1:] {
		if representativeLess(n, best) {
			best = n
		}
	}
	return best
}

// representativeLess orders by (slash count, length, name), the same key
// just-deduplicate-repos.py sorts candidates by before picking the first.
func representativeLess(a, b string) bool {
	sa, sb := strings.Count(a, "/"), strings.Count(b, "/")
	if sa != sb {
		return sa < sb
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func sortedNames(g *repograph.Graph) []string {
	names := make([]string, 0, len(g.Repos))
	for n := range g.Repos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedIntKeys(m map[int][]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Apply rewrites g in place, replacing every repository name with its
// representative wherever it is referenced (bindings, root references,
// distdir members, computed roots), then drops every non-representative
// repository from g.Repos.
func Apply(g *repograph.Graph, p Partition) {
	for name, desc := range g.Repos {
		if p[name] != name {
			continue // will be dropped below; no need to rewrite
		}
		rewriteInPlace(desc, p)
	}
	for name := range g.Repos {
		if p[name] != name {
			delete(g.Repos, name)
		}
	}
	g.Main = p[g.Main]
	for i, k := range g.Keep {
		g.Keep[i] = p[k]
	}
}

func rewriteInPlace(desc *repograph.Description, p Partition) {
	for alias, target := range desc.Bindings {
		desc.Bindings[alias] = p[target]
	}
	for _, slot := range []*repograph.RootSlot{&desc.Repository, &desc.TargetRoot, &desc.RuleRoot, &desc.ExpressionRoot} {
		if slot.IsRef() {
			slot.Ref = p[slot.Ref]
			continue
		}
		if slot.Root == nil {
			continue
		}
		switch v := slot.Root.Variant.(type) {
		case *repograph.Distdir:
			for i, m := range v.Repositories {
				v.Repositories[i] = p[m]
			}
		case *repograph.Computed:
			v.Repo = p[v.Repo]
		case *repograph.TreeStructure:
			v.Repo = p[v.Repo]
		}
	}
}
