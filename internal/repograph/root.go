package repograph

// Root is a tagged union over the nine root kinds spec.md §3 recognizes.
// Variant holds exactly one of the *Kind types defined below.
type Root struct {
	Variant any
	Pragma  Pragma
}

// Pragma carries the per-root flags spec.md §3 and §9 describe.
type Pragma struct {
	Absent     bool
	ToGit      bool // "to_git": stage a non-git root into the Git cache before use
	SpecialPOSIX bool
}

// File is a root that already exists as a plain directory on disk.
type File struct {
	Path string
}

// Git is a root fetched from a Git remote at a specific commit.
type Git struct {
	Repository string // remote URL or local path
	Branch     string // ref to fetch; empty defaults to the remote HEAD
	Commit     string // pinned commit id; empty means "resolve branch and pin"
	Subdir     string
	Mirrors    []string
	Inherit    map[string]string // inherit env for the underlying fetch, name->value
}

// Archive is a root materialized by fetching and unpacking a tarball.
type Archive struct {
	Fetch       string // primary URL
	Mirrors     []string
	Content     string // expected content-hash of the unpacked tree; empty means "compute it"
	Sha256      string // expected SHA-256 of the raw fetched archive bytes, if known
	Sha512      string // expected SHA-512 of the raw fetched archive bytes, if known
	Subdir      string
	StripPrefix string
}

// Zip is like Archive but unpacked with the zip driver instead of tar.
type Zip struct {
	Fetch       string
	Mirrors     []string
	Content     string
	Sha256      string
	Sha512      string
	Subdir      string
	StripPrefix string
}

// ForeignFile is a root consisting of a single fetched file, placed under
// the given relative path inside an otherwise empty directory.
type ForeignFile struct {
	Fetch      string
	Mirrors    []string
	Content    string
	Sha256     string
	Sha512     string
	Name       string // relative path of the file within the resulting root
	Executable bool
}

// GitTree is a root identified directly by a Git tree object id, optionally
// with a command that can regenerate that tree if it's missing from every
// known Git cache.
type GitTree struct {
	ID      string // git tree object id (hex SHA-1)
	Command []string
	Env     map[string]string
	Inherit map[string]string
}

// Distdir is a root assembled by collecting named distfiles (one per member
// repository's archive/zip root) into a single flat directory.
type Distdir struct {
	Repositories []string // names of archive/zip-rooted repositories to collect
}

// Computed is a root derived by evaluating a target/expression against
// another repository's already-resolved root.
type Computed struct {
	Repo   string
	Target []string
	Config map[string]string
}

// TreeStructure is a root that re-lays-out another repository's root
// according to a target's declared structure, without invoking a build.
type TreeStructure struct {
	Repo string
}

// Kind returns a short discriminator string for logging and reports.
func (r *Root) Kind() string {
	switch r.Variant.(type) {
	case *File:
		return "file"
	case *Git:
		return "git"
	case *Archive:
		return "archive"
	case *Zip:
		return "zip"
	case *ForeignFile:
		return "foreign file"
	case *GitTree:
		return "git tree"
	case *Distdir:
		return "distdir"
	case *Computed:
		return "computed"
	case *TreeStructure:
		return "tree structure"
	default:
		return "unknown"
	}
}
