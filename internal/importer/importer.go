// Package importer computes the transitive closure of repositories a build
// needs to import from a foreign root, assigns collision-free names to
// newly discovered repositories, and rewrites their descriptions so
// cross-repository references point at the names chosen in the importing
// graph rather than the names used in the foreign one (spec §4.6).
package importer

import (
	"fmt"
	"sort"

	"github.com/justbuild-go/just-mr/internal/repograph"
)

// Request describes one {alias, repo, map, pragma} entry of an import-entry's
// "repos" list (spec §6, §4.6).
type Request struct {
	Foreign *repograph.Graph

	// Alias names the repository inside Foreign to import as the target
	// graph's main import; empty means "the foreign config's own main, or
	// its lexicographically first repository if that is unset".
	Alias string
	// ImportAs is the name Alias is given in the target graph; empty means
	// "keep Alias's own name, if free".
	ImportAs string

	// UserMap maps foreign repository names already known to the caller
	// (the import-entry's "map" field) to the name they already have in
	// the target graph; these are never (re)imported, and references to
	// them are rewritten straight through.
	UserMap map[string]string

	// RemoteStub is the root template the checkout driver produced for
	// this import source (spec §4.5); for the `file` source it is a File
	// root whose path prefixes relative `file` paths. RemoteSubdir is the
	// subdir the driver staged from, used only to compute git-tree
	// sub-tree ids for nested `file` deps.
	RemoteStub   *repograph.Root
	RemoteSubdir string

	// Pragma is OR-merged (absent: OR, to_git: OR) into every imported
	// root's own pragma (spec §4.6 step 3).
	Pragma repograph.Pragma
	// AsPlain treats the whole foreign root as a single opaque workspace,
	// per spec §4.6 step 3's "as plain" clause.
	AsPlain bool
}

// Import merges one Request into target, returning the name each imported
// foreign repository ended up under.
func Import(target *repograph.Graph, req Request) (map[string]string, error) {
	foreign := req.Foreign
	if req.AsPlain {
		foreign = plainForeignGraph()
	}

	alias := req.Alias
	if alias == "" {
		alias = resolveMain(foreign)
	}
	if _, ok := foreign.Repos[alias]; !ok {
		return nil, fmt.Errorf("import: foreign repository %q does not exist", alias)
	}

	toImport, extra, err := closure(foreign, alias, req.UserMap)
	if err != nil {
		return nil, err
	}

	importAs := req.ImportAs
	if importAs == "" {
		importAs = alias
	}
	rename := assignNames(target, foreign, alias, importAs, toImport, extra, req.UserMap)

	names := make([]string, 0, len(toImport)+len(extra))
	for n := range toImport {
		names = append(names, n)
	}
	for n := range extra {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, foreignName := range names {
		desc := foreign.Repos[foreignName]
		out := rewriteDescription(desc, rename, req.RemoteStub, req.RemoteSubdir, req.Pragma)
		if extra[foreignName] {
			// Layer discipline (spec §4.6 step 4, invariant 5): a
			// repository pulled in only to satisfy an alternate root or a
			// computed base does not bring its own bindings or alt roots.
			out.Bindings = nil
			out.TargetRoot = repograph.RootSlot{}
			out.RuleRoot = repograph.RootSlot{}
			out.ExpressionRoot = repograph.RootSlot{}
			out.TargetFileName = ""
			out.RuleFileName = ""
			out.ExpressionFileName = ""
		}
		target.Repos[rename[foreignName]] = out
	}

	return rename, nil
}

// resolveMain picks the foreign config's declared main, or failing that its
// lexicographically first repository (spec §4.6 step 1).
func resolveMain(g *repograph.Graph) string {
	if g.Main != "" {
		return g.Main
	}
	names := make([]string, 0, len(g.Repos))
	for n := range g.Repos {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// plainForeignGraph synthesizes the single-opaque-workspace foreign config
// spec §4.6 step 3 describes for "as plain" imports.
func plainForeignGraph() *repograph.Graph {
	g := repograph.NewGraph()
	g.Main = ""
	g.Repos[""] = &repograph.Description{
		Repository: repograph.RootSlot{Root: &repograph.Root{Variant: &repograph.File{Path: "."}}},
	}
	return g
}

// closure computes to_import (reachable via binding edges, and via the
// primary `repository` slot reference since that is the node's own content,
// not an alternate layer) and extra_imports (reachable only via alternate
// root references or as the base of a computed/tree-structure root) from
// seed. known names are already present in the target graph (the import
// entry's "map") and are never added to either set. A name reachable both
// ways is kept only in to_import (spec §4.6 step 1).
func closure(g *repograph.Graph, seed string, known map[string]string) (toImport, extra map[string]bool, err error) {
	toImport = map[string]bool{}
	extra = map[string]bool{}

	var visitMain func(name string) error
	var visitLayer func(name string) error

	visitMain = func(name string) error {
		if toImport[name] || known[name] != "" {
			return nil
		}
		desc, ok := g.Repos[name]
		if !ok {
			return fmt.Errorf("import: repository %q does not exist in the foreign graph", name)
		}
		toImport[name] = true
		delete(extra, name)

		if ref := desc.Repository; ref.IsRef() {
			if err := visitMain(ref.Ref); err != nil {
				return err
			}
		}
		for _, target := range desc.Bindings {
			if err := visitMain(target); err != nil {
				return err
			}
		}
		return visitLayersOf(desc, visitLayer)
	}

	visitLayer = func(name string) error {
		if toImport[name] || extra[name] || known[name] != "" {
			return nil
		}
		desc, ok := g.Repos[name]
		if !ok {
			return fmt.Errorf("import: repository %q does not exist in the foreign graph", name)
		}
		extra[name] = true
		if ref := desc.Repository; ref.IsRef() {
			if err := visitLayer(ref.Ref); err != nil {
				return err
			}
		}
		return visitLayersOf(desc, visitLayer)
	}

	if err := visitMain(seed); err != nil {
		return nil, nil, err
	}
	return toImport, extra, nil
}

// visitLayersOf walks desc's alternate-root references and any
// computed/tree-structure/distdir base repositories through visit.
func visitLayersOf(desc *repograph.Description, visit func(string) error) error {
	for _, slot := range []repograph.RootSlot{desc.TargetRoot, desc.RuleRoot, desc.ExpressionRoot} {
		if slot.IsRef() {
			if err := visit(slot.Ref); err != nil {
				return err
			}
		}
	}
	if root := desc.Repository.Root; root != nil {
		switch v := root.Variant.(type) {
		case *repograph.Distdir:
			for _, member := range v.Repositories {
				if err := visit(member); err != nil {
					return err
				}
			}
		case *repograph.Computed:
			if err := visit(v.Repo); err != nil {
				return err
			}
		case *repograph.TreeStructure:
			if err := visit(v.Repo); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignNames picks a name in target for every repository in the closure.
// The aliased main repository is named importAs (falling back to a
// collision-suffixed variant); every other repository is named
// "<importAs>/<foreign name>"; any collision gets " (n)" appended for the
// smallest free n, per spec §4.6 step 2.
func assignNames(target *repograph.Graph, foreign *repograph.Graph, alias, importAs string, toImport, extra map[string]bool, known map[string]string) map[string]string {
	taken := map[string]bool{}
	for name := range target.Repos {
		taken[name] = true
	}

	rename := make(map[string]string, len(toImport)+len(extra)+len(known))
	for foreignName, targetName := range known {
		rename[foreignName] = targetName
	}

	claim := func(want string) string {
		candidate := want
		if taken[candidate] {
			for i := 1; ; i++ {
				candidate = fmt.Sprintf("%s (%d)", want, i)
				if !taken[candidate] {
					break
				}
			}
		}
		taken[candidate] = true
		return candidate
	}

	rename[alias] = claim(importAs)

	names := make([]string, 0, len(toImport)+len(extra))
	for n := range toImport {
		if n != alias {
			names = append(names, n)
		}
	}
	for n := range extra {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		rename[n] = claim(fmt.Sprintf("%s/%s", importAs, n))
	}
	return rename
}

// rewriteDescription produces a copy of desc with every repository-name
// reference translated through rename, merges pragma, and rewrites
// `file`-typed repository roots through stub (spec §4.6 step 3) when one is
// given: the imported repository's own source is a checkout of a foreign
// remote, so a `file` root naming a relative path really names a path
// inside that same remote.
func rewriteDescription(desc *repograph.Description, rename map[string]string, stub *repograph.Root, stubSubdir string, mergePragma repograph.Pragma) *repograph.Description {
	out := &repograph.Description{
		Repository:         rewriteRootSlot(desc.Repository, rename, stub, stubSubdir, mergePragma),
		TargetRoot:         rewriteRefOnlySlot(desc.TargetRoot, rename),
		RuleRoot:           rewriteRefOnlySlot(desc.RuleRoot, rename),
		ExpressionRoot:     rewriteRefOnlySlot(desc.ExpressionRoot, rename),
		TargetFileName:     desc.TargetFileName,
		RuleFileName:       desc.RuleFileName,
		ExpressionFileName: desc.ExpressionFileName,
	}
	if desc.Bindings != nil {
		out.Bindings = make(map[string]string, len(desc.Bindings))
		for alias, target := range desc.Bindings {
			out.Bindings[alias] = rename[target]
		}
	}
	return out
}

func rewriteRefOnlySlot(slot repograph.RootSlot, rename map[string]string) repograph.RootSlot {
	if slot.IsRef() {
		return repograph.RootSlot{Ref: rename[slot.Ref]}
	}
	return slot
}

func rewriteRootSlot(slot repograph.RootSlot, rename map[string]string, stub *repograph.Root, stubSubdir string, mergePragma repograph.Pragma) repograph.RootSlot {
	if slot.IsRef() {
		return repograph.RootSlot{Ref: rename[slot.Ref]}
	}
	if slot.Root == nil {
		return slot
	}
	return repograph.RootSlot{Root: rewriteRoot(slot.Root, rename, stub, stubSubdir, mergePragma)}
}

func rewriteRoot(root *repograph.Root, rename map[string]string, stub *repograph.Root, stubSubdir string, mergePragma repograph.Pragma) *repograph.Root {
	pragma := repograph.Pragma{
		Absent:       root.Pragma.Absent || mergePragma.Absent,
		ToGit:        root.Pragma.ToGit || mergePragma.ToGit,
		SpecialPOSIX: root.Pragma.SpecialPOSIX,
	}

	switch v := root.Variant.(type) {
	case *repograph.File:
		if stub == nil {
			return &repograph.Root{Variant: &repograph.File{Path: v.Path}, Pragma: pragma}
		}
		return &repograph.Root{Variant: rewriteFileThroughStub(v, stub, stubSubdir), Pragma: keepOnlyIgnorePragma(pragma)}
	case *repograph.Distdir:
		members := make([]string, len(v.Repositories))
		for i, m := range v.Repositories {
			members[i] = rename[m]
		}
		return &repograph.Root{Variant: &repograph.Distdir{Repositories: members}, Pragma: pragma}
	case *repograph.Computed:
		return &repograph.Root{Variant: &repograph.Computed{Repo: rename[v.Repo], Target: v.Target, Config: v.Config}, Pragma: pragma}
	case *repograph.TreeStructure:
		return &repograph.Root{Variant: &repograph.TreeStructure{Repo: rename[v.Repo]}, Pragma: pragma}
	default:
		return &repograph.Root{Variant: root.Variant, Pragma: pragma}
	}
}

// keepOnlyIgnorePragma implements spec §4.6 step 3's "pragmas as for git":
// when a `file` root is rewritten through a remote stub, only
// special=ignore and absent survive from its original pragma (the merge
// pragma's absent/to_git already folded in by the caller).
func keepOnlyIgnorePragma(p repograph.Pragma) repograph.Pragma {
	return repograph.Pragma{Absent: p.Absent, SpecialPOSIX: p.SpecialPOSIX}
}

// rewriteFileThroughStub rewrites a `file` root naming path v.Path, found
// inside an imported repository fetched via stub, into the rewritten form
// spec §4.6 step 3 prescribes for each remote kind.
func rewriteFileThroughStub(v *repograph.File, stub *repograph.Root, stubSubdir string) any {
	switch s := stub.Variant.(type) {
	case *repograph.Git:
		subdir := joinSubdir(s.Subdir, v.Path)
		return &repograph.Git{
			Repository: s.Repository, Branch: s.Branch, Commit: s.Commit,
			Subdir: subdir, Mirrors: s.Mirrors, Inherit: s.Inherit,
		}
	case *repograph.File:
		path := v.Path
		if !isAbs(path) {
			path = joinSubdir(s.Path, path)
		}
		return &repograph.File{Path: path}
	case *repograph.Archive:
		return &repograph.Archive{
			Fetch: s.Fetch, Mirrors: s.Mirrors, Content: s.Content,
			Subdir: joinSubdir(s.Subdir, v.Path),
		}
	case *repograph.Zip:
		return &repograph.Zip{
			Fetch: s.Fetch, Mirrors: s.Mirrors, Content: s.Content,
			Subdir: joinSubdir(s.Subdir, v.Path),
		}
	case *repograph.GitTree:
		// The sub-tree id for v.Path is computed by the caller (it needs
		// the Git cache) and passed in via stub.ID already combined with
		// stubSubdir; just carry it through.
		return &repograph.GitTree{ID: s.ID, Command: s.Command, Env: s.Env, Inherit: s.Inherit}
	default:
		return v
	}
}

func isAbs(p string) bool { return len(p) > 0 && p[0] == '/' }

func joinSubdir(a, b string) string {
	switch {
	case a == "" || a == ".":
		return b
	case b == "" || b == ".":
		return a
	default:
		return a + "/" + b
	}
}
