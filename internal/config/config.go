// Package config parses the JSON multi-repository configuration file (the
// external interface spec §6 calls "repository-config") into a
// repograph.Graph plus the declared `imports` list, and resolves the
// default local build root the way the teacher resolves its data
// directory: via XDG when the user gives no explicit override.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/adrg/xdg"

	"github.com/justbuild-go/just-mr/internal/repograph"
)

// File is the on-disk JSON shape of a repository-config file (spec §6).
type File struct {
	Main         string              `json:"main"`
	Repositories map[string]repoJSON `json:"repositories"`
	Imports      []ImportEntry       `json:"imports"`
	Keep         []string            `json:"keep"`
}

type repoJSON struct {
	Repository         slotJSON          `json:"repository"`
	TargetRoot         slotJSON          `json:"target_root"`
	RuleRoot           slotJSON          `json:"rule_root"`
	ExpressionRoot     slotJSON          `json:"expression_root"`
	Bindings           map[string]string `json:"bindings,omitempty"`
	TargetFileName     string            `json:"target_file_name,omitempty"`
	RuleFileName       string            `json:"rule_file_name,omitempty"`
	ExpressionFileName string            `json:"expression_file_name,omitempty"`
}

// MarshalJSON omits alternate-root slots that were never set, since
// slotJSON (a struct, not a pointer) can't rely on the encoding/json
// "omitempty" tag to do it.
func (r repoJSON) MarshalJSON() ([]byte, error) {
	type alias struct {
		Repository         slotJSON          `json:"repository"`
		TargetRoot         *slotJSON         `json:"target_root,omitempty"`
		RuleRoot           *slotJSON         `json:"rule_root,omitempty"`
		ExpressionRoot     *slotJSON         `json:"expression_root,omitempty"`
		Bindings           map[string]string `json:"bindings,omitempty"`
		TargetFileName     string            `json:"target_file_name,omitempty"`
		RuleFileName       string            `json:"rule_file_name,omitempty"`
		ExpressionFileName string            `json:"expression_file_name,omitempty"`
	}
	a := alias{
		Repository:         r.Repository,
		Bindings:           r.Bindings,
		TargetFileName:     r.TargetFileName,
		RuleFileName:       r.RuleFileName,
		ExpressionFileName: r.ExpressionFileName,
	}
	if !r.TargetRoot.empty() {
		a.TargetRoot = &r.TargetRoot
	}
	if !r.RuleRoot.empty() {
		a.RuleRoot = &r.RuleRoot
	}
	if !r.ExpressionRoot.empty() {
		a.ExpressionRoot = &r.ExpressionRoot
	}
	return json.Marshal(a)
}

// slotJSON decodes a root slot that is either a bare string (a name
// reference to another repository) or a tagged root object, per spec §3
// ("a root is either a root object... or a name reference").
type slotJSON struct {
	Ref string
	Obj *rootJSON
}

func (s *slotJSON) UnmarshalJSON(data []byte) error {
	var ref string
	if err := json.Unmarshal(data, &ref); err == nil {
		s.Ref = ref
		return nil
	}
	var obj rootJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("root slot is neither a string reference nor a root object: %w", err)
	}
	s.Obj = &obj
	return nil
}

func (s slotJSON) empty() bool { return s.Ref == "" && s.Obj == nil }

func (s slotJSON) MarshalJSON() ([]byte, error) {
	if s.Ref != "" {
		return json.Marshal(s.Ref)
	}
	if s.Obj != nil {
		return json.Marshal(s.Obj)
	}
	return []byte("null"), nil
}

// rootJSON mirrors just-mr's "type"-tagged root object. Only the fields
// relevant to Type are populated.
type rootJSON struct {
	Type string `json:"type"`

	Path string `json:"path,omitempty"` // file

	Repository string   `json:"repository,omitempty"` // git
	Branch     string   `json:"branch,omitempty"`
	Commit     string   `json:"commit,omitempty"`
	Subdir     string   `json:"subdir,omitempty"`
	Mirrors    []string `json:"mirrors,omitempty"`
	InheritEnv []string `json:"inherit env,omitempty"`

	Fetch      string `json:"fetch,omitempty"` // archive/zip/foreign file
	Content    string `json:"content,omitempty"`
	Sha256     string `json:"sha256,omitempty"`
	Sha512     string `json:"sha512,omitempty"`
	Name       string `json:"name,omitempty"`
	Executable bool   `json:"executable,omitempty"`

	ID      string            `json:"id,omitempty"` // git tree
	Command []string          `json:"cmd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Repositories []string `json:"repositories,omitempty"` // distdir

	Repo   string            `json:"repo,omitempty"` // computed / tree structure
	Target []string          `json:"target,omitempty"`
	Config map[string]string `json:"config,omitempty"`

	Pragma struct {
		Absent  bool   `json:"absent,omitempty"`
		ToGit   bool   `json:"to_git,omitempty"`
		Special string `json:"special,omitempty"`
	} `json:"pragma,omitempty"`
}

// ImportEntry is one element of the top-level "imports" list (spec §6).
// Source selects which per-source fields below apply; every entry also
// carries a Repos list of {alias, repo, map, pragma} describing what to
// pull out of the foreign config (spec §4.6).
type ImportEntry struct {
	Source string `json:"source"`

	// git
	URL        string            `json:"url,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Commit     string            `json:"commit,omitempty"`
	Mirrors    []string          `json:"mirrors,omitempty"`
	InheritEnv map[string]string `json:"inherit env,omitempty"`

	// archive
	Fetch   string `json:"fetch,omitempty"`
	Content string `json:"content,omitempty"`
	Sha256  string `json:"sha256,omitempty"`
	Sha512  string `json:"sha512,omitempty"`
	Subdir  string `json:"subdir,omitempty"`
	ArchiveType string `json:"type,omitempty"` // tar | zip

	// git tree
	Cmd    []string          `json:"cmd,omitempty"`
	CmdGen []string          `json:"cmd gen,omitempty"`
	Env    map[string]string `json:"env,omitempty"`

	// file
	Path string `json:"path,omitempty"`

	// generic
	Cwd string `json:"cwd,omitempty"`

	Repos []ImportRepo `json:"repos"`
}

// ImportRepo is one {alias?, repo?, map?, pragma?} entry inside an
// import-entry's "repos" list.
type ImportRepo struct {
	Alias string            `json:"alias,omitempty"` // name inside the foreign config; defaults to its main
	Repo  string            `json:"repo,omitempty"`  // name to create in the target graph; defaults to Alias
	Map   map[string]string `json:"map,omitempty"`   // foreign name -> already-known target name
	AsPlain bool            `json:"as plain,omitempty"`
	Pragma struct {
		Absent bool   `json:"absent,omitempty"`
		ToGit  bool   `json:"to_git,omitempty"`
		Special string `json:"special,omitempty"`
	} `json:"pragma,omitempty"`
}

// Load reads and parses a repository-config file at path, returning only
// the repository graph. Imports are discarded; callers that need them
// should use LoadFull.
func Load(path string) (*repograph.Graph, error) {
	g, _, err := LoadFull(path)
	return g, err
}

// LoadFull reads and parses a repository-config file, returning both the
// repository graph (validated per spec §3 invariants 1-3) and the
// declared imports list, in file order, for the orchestrator to process
// sequentially (spec §4.9 step 4).
func LoadFull(path string) (*repograph.Graph, []ImportEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	g, imports, err := ParseBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating config %q: %w", path, err)
	}
	return g, imports, nil
}

// ParseBytes parses repository-config JSON already read into memory (e.g.
// from a checked-out foreign source), without validating or requiring it
// to live at a path. Used both by LoadFull and by the import engine to read
// a foreign repository-config out of a freshly staged checkout.
func ParseBytes(data []byte) (*repograph.Graph, []ImportEntry, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, err
	}

	g := repograph.NewGraph()
	g.Main = f.Main
	g.Keep = append([]string{}, f.Keep...)
	for name, rj := range f.Repositories {
		desc, err := toDescription(rj)
		if err != nil {
			return nil, nil, fmt.Errorf("repository %q: %w", name, err)
		}
		g.Repos[name] = desc
	}
	return g, f.Imports, nil
}

func toDescription(rj repoJSON) (*repograph.Description, error) {
	desc := &repograph.Description{
		Bindings:           rj.Bindings,
		TargetFileName:     rj.TargetFileName,
		RuleFileName:       rj.RuleFileName,
		ExpressionFileName: rj.ExpressionFileName,
	}
	slot, err := toSlot(rj.Repository)
	if err != nil {
		return nil, err
	}
	desc.Repository = slot

	for _, pair := range []struct {
		in  slotJSON
		out *repograph.RootSlot
	}{
		{rj.TargetRoot, &desc.TargetRoot},
		{rj.RuleRoot, &desc.RuleRoot},
		{rj.ExpressionRoot, &desc.ExpressionRoot},
	} {
		if pair.in.empty() {
			continue
		}
		s, err := toSlot(pair.in)
		if err != nil {
			return nil, err
		}
		*pair.out = s
	}
	return desc, nil
}

func toSlot(s slotJSON) (repograph.RootSlot, error) {
	if s.empty() {
		return repograph.RootSlot{}, nil
	}
	if s.Ref != "" {
		return repograph.RootSlot{Ref: s.Ref}, nil
	}
	root, err := toRoot(s.Obj)
	if err != nil {
		return repograph.RootSlot{}, err
	}
	return repograph.RootSlot{Root: root}, nil
}

func toRoot(rj *rootJSON) (*repograph.Root, error) {
	pragma := repograph.Pragma{
		Absent:       rj.Pragma.Absent,
		ToGit:        rj.Pragma.ToGit,
		SpecialPOSIX: rj.Pragma.Special == "ignore",
	}
	switch rj.Type {
	case "file":
		return &repograph.Root{Variant: &repograph.File{Path: rj.Path}, Pragma: pragma}, nil
	case "git":
		return &repograph.Root{Variant: &repograph.Git{
			Repository: rj.Repository, Branch: rj.Branch, Commit: rj.Commit,
			Subdir: rj.Subdir, Mirrors: rj.Mirrors, Inherit: envList(rj.InheritEnv),
		}, Pragma: pragma}, nil
	case "archive":
		return &repograph.Root{Variant: &repograph.Archive{
			Fetch: rj.Fetch, Mirrors: rj.Mirrors, Content: rj.Content,
			Sha256: rj.Sha256, Sha512: rj.Sha512, Subdir: rj.Subdir,
		}, Pragma: pragma}, nil
	case "zip":
		return &repograph.Root{Variant: &repograph.Zip{
			Fetch: rj.Fetch, Mirrors: rj.Mirrors, Content: rj.Content,
			Sha256: rj.Sha256, Sha512: rj.Sha512, Subdir: rj.Subdir,
		}, Pragma: pragma}, nil
	case "foreign file", "file_file":
		return &repograph.Root{Variant: &repograph.ForeignFile{
			Fetch: rj.Fetch, Mirrors: rj.Mirrors, Content: rj.Content,
			Sha256: rj.Sha256, Sha512: rj.Sha512,
			Name: rj.Name, Executable: rj.Executable,
		}, Pragma: pragma}, nil
	case "git tree":
		return &repograph.Root{Variant: &repograph.GitTree{
			ID: rj.ID, Command: rj.Command, Env: rj.Env,
		}, Pragma: pragma}, nil
	case "distdir":
		return &repograph.Root{Variant: &repograph.Distdir{Repositories: rj.Repositories}, Pragma: pragma}, nil
	case "computed":
		return &repograph.Root{Variant: &repograph.Computed{
			Repo: rj.Repo, Target: rj.Target, Config: rj.Config,
		}, Pragma: pragma}, nil
	case "tree structure":
		return &repograph.Root{Variant: &repograph.TreeStructure{Repo: rj.Repo}, Pragma: pragma}, nil
	default:
		return nil, fmt.Errorf("unrecognized root type %q", rj.Type)
	}
}

func envList(m []string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for _, k := range m {
		out[k] = os.Getenv(k)
	}
	return out
}

// DefaultLocalBuildRoot resolves "--local-build-root"'s default: an XDG
// cache directory, matching how config.config.go in the example output
// package resolves its own config home.
func DefaultLocalBuildRoot() string {
	return xdg.CacheHome + "/just"
}
