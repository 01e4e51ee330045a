package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/justbuild-go/just-mr/internal/repograph"
)

// Write serializes g to path in the same repository-config JSON shape Load
// reads, with fully pinned roots (spec §6's "output lockfile").
func Write(path string, g *repograph.Graph) error {
	data, err := Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding output lockfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing output lockfile %q: %w", path, err)
	}
	return nil
}

// Marshal renders g in the repository-config JSON shape Load/ParseBytes
// read. Go's encoding/json already emits map keys in sorted order, so
// repeated runs over the same resolved graph produce byte-identical
// output. Also used to serialize the current graph as the "generic"
// import source's stdin (spec §4.5.5).
func Marshal(g *repograph.Graph) ([]byte, error) {
	out := File{
		Main:         g.Main,
		Repositories: make(map[string]repoJSON, len(g.Repos)),
		Keep:         g.Keep,
	}
	for name, desc := range g.Repos {
		rj, err := fromDescription(desc)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", name, err)
		}
		out.Repositories[name] = rj
	}
	return json.MarshalIndent(out, "", "  ")
}

func fromDescription(desc *repograph.Description) (repoJSON, error) {
	rj := repoJSON{
		Bindings:           desc.Bindings,
		TargetFileName:     desc.TargetFileName,
		RuleFileName:       desc.RuleFileName,
		ExpressionFileName: desc.ExpressionFileName,
	}
	slot, err := fromSlot(desc.Repository)
	if err != nil {
		return rj, err
	}
	rj.Repository = slot

	for _, pair := range []struct {
		in  repograph.RootSlot
		out *slotJSON
	}{
		{desc.TargetRoot, &rj.TargetRoot},
		{desc.RuleRoot, &rj.RuleRoot},
		{desc.ExpressionRoot, &rj.ExpressionRoot},
	} {
		if pair.in.IsZero() {
			continue
		}
		s, err := fromSlot(pair.in)
		if err != nil {
			return rj, err
		}
		*pair.out = s
	}
	return rj, nil
}

func fromSlot(s repograph.RootSlot) (slotJSON, error) {
	if s.IsZero() {
		return slotJSON{}, nil
	}
	if s.IsRef() {
		return slotJSON{Ref: s.Ref}, nil
	}
	obj, err := fromRoot(s.Root)
	if err != nil {
		return slotJSON{}, err
	}
	return slotJSON{Obj: obj}, nil
}

func fromRoot(r *repograph.Root) (*rootJSON, error) {
	rj := &rootJSON{}
	rj.Pragma.Absent = r.Pragma.Absent
	rj.Pragma.ToGit = r.Pragma.ToGit
	if r.Pragma.SpecialPOSIX {
		rj.Pragma.Special = "ignore"
	}

	switch v := r.Variant.(type) {
	case *repograph.File:
		rj.Type = "file"
		rj.Path = v.Path
	case *repograph.Git:
		rj.Type = "git"
		rj.Repository, rj.Branch, rj.Commit = v.Repository, v.Branch, v.Commit
		rj.Subdir, rj.Mirrors = v.Subdir, v.Mirrors
		rj.InheritEnv = sortedKeys(v.Inherit)
	case *repograph.Archive:
		rj.Type = "archive"
		rj.Fetch, rj.Mirrors, rj.Content, rj.Subdir = v.Fetch, v.Mirrors, v.Content, v.Subdir
		rj.Sha256, rj.Sha512 = v.Sha256, v.Sha512
	case *repograph.Zip:
		rj.Type = "zip"
		rj.Fetch, rj.Mirrors, rj.Content, rj.Subdir = v.Fetch, v.Mirrors, v.Content, v.Subdir
		rj.Sha256, rj.Sha512 = v.Sha256, v.Sha512
	case *repograph.ForeignFile:
		rj.Type = "foreign file"
		rj.Fetch, rj.Mirrors, rj.Content = v.Fetch, v.Mirrors, v.Content
		rj.Sha256, rj.Sha512 = v.Sha256, v.Sha512
		rj.Name, rj.Executable = v.Name, v.Executable
	case *repograph.GitTree:
		rj.Type = "git tree"
		rj.ID, rj.Command, rj.Env = v.ID, v.Command, v.Env
	case *repograph.Distdir:
		rj.Type = "distdir"
		rj.Repositories = v.Repositories
	case *repograph.Computed:
		rj.Type = "computed"
		rj.Repo, rj.Target, rj.Config = v.Repo, v.Target, v.Config
	case *repograph.TreeStructure:
		rj.Type = "tree structure"
		rj.Repo = v.Repo
	default:
		return nil, fmt.Errorf("unknown root variant %T", v)
	}
	return rj, nil
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
