// Package objcodec implements the Git-object-compatible hashing and
// encoding rules the File CAS and Git cache build on: the framed SHA-1
// digest used for blobs and trees, canonical tree entry ordering, and
// loose-object zlib framing for writing objects straight into a bare
// repository's object store.
package objcodec

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ObjectType mirrors the four Git object kinds this codec frames content
// for. Only Blob and Tree are ever constructed by this package; Commit and
// Tag values are accepted so the codec can hash/encode objects read
// elsewhere without losing their type.
type ObjectType int

const (
	BlobObject ObjectType = iota
	TreeObject
	CommitObject
	TagObject
)

func (t ObjectType) String() string {
	switch t {
	case BlobObject:
		return "blob"
	case TreeObject:
		return "tree"
	case CommitObject:
		return "commit"
	case TagObject:
		return "tag"
	default:
		return "unknown"
	}
}

// Hash is a hex-encoded SHA-1 object id, matching gitcore's Hash type in
// shape but kept distinct so this package has no import-time dependency on
// the porcelain reader.
type Hash string

// Frame returns the bytes Git hashes and stores for an object of type typ
// holding content: the header "<type> <len>\0" followed by content itself.
func Frame(typ ObjectType, content []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", typ, len(content))
	buf := make([]byte, 0, len(header)+len(content))
	buf = append(buf, header...)
	buf = append(buf, content...)
	return buf
}

// HashObject returns the Git object id for content framed as typ, without
// writing anything.
func HashObject(typ ObjectType, content []byte) Hash {
	sum := sha1.Sum(Frame(typ, content))
	return Hash(fmt.Sprintf("%x", sum))
}

// HashBlob is a convenience wrapper for the common case of hashing file
// content as a blob.
func HashBlob(content []byte) Hash {
	return HashObject(BlobObject, content)
}

// TreeEntry is one line of a Git tree object: a file mode, a name, and the
// hash of the entry's blob or subtree.
type TreeEntry struct {
	Mode Mode
	Name string
	Hash Hash
}

// Mode is a Git tree entry's octal file mode.
type Mode uint32

const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeDir        Mode = 0o040000
)

// sortKey implements Git's canonical tree ordering: entries are compared as
// if directory names carried a trailing "/", so "foo" sorts after "foo.txt"
// but before "foo/bar".
func (e TreeEntry) sortKey() string {
	if e.Mode == ModeDir {
		return e.Name + "/"
	}
	return e.Name
}

// SortEntries orders entries according to Git's canonical tree sort. It
// sorts in place and also returns the slice for chaining.
func SortEntries(entries []TreeEntry) []TreeEntry {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sortKey() < entries[j].sortKey()
	})
	return entries
}

// EncodeTree renders entries into the canonical binary tree object body:
// "<mode> <name>\0<20-byte hash>" repeated, entries in Git's sort order.
// EncodeTree sorts a copy of entries and does not mutate the input slice.
func EncodeTree(entries []TreeEntry) ([]byte, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted)

	var buf bytes.Buffer
	for _, e := range sorted {
		raw, err := hashBytes(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("tree entry %q: %w", e.Name, err)
		}
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// HashTree computes the object id EncodeTree's output would have, without
// allocating the intermediate body twice.
func HashTree(entries []TreeEntry) (Hash, []byte, error) {
	body, err := EncodeTree(entries)
	if err != nil {
		return "", nil, err
	}
	return HashObject(TreeObject, body), body, nil
}

// DecodeTree parses a tree object body back into entries, the inverse of
// EncodeTree. The Git cache does not use it: it reads trees through
// `git cat-file -p` and parses the text listing instead.
func DecodeTree(body []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(body) > 0 {
		sp := bytes.IndexByte(body, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("malformed tree entry: missing space")
		}
		modeStr := string(body[:sp])
		modeVal, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed tree entry mode %q: %w", modeStr, err)
		}
		rest := body[sp+1:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("malformed tree entry: missing NUL")
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]
		if len(rest) < 20 {
			return nil, fmt.Errorf("malformed tree entry %q: short hash", name)
		}
		entries = append(entries, TreeEntry{
			Mode: Mode(modeVal),
			Name: name,
			Hash: Hash(fmt.Sprintf("%x", rest[:20])),
		})
		body = rest[20:]
	}
	return entries, nil
}

func hashBytes(h Hash) ([]byte, error) {
	s := string(h)
	if len(s) != 40 {
		return nil, fmt.Errorf("hash %q: want 40 hex characters, got %d", s, len(s))
	}
	out := make([]byte, 20)
	for i := 0; i < 20; i++ {
		hi, ok1 := hexVal(s[2*i])
		lo, ok2 := hexVal(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("hash %q: not hex", s)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// BlobHasher accumulates written content and hashes it as a Git blob on
// Sum. Git's blob framing embeds the content length in the hashed header,
// so a single-pass streaming hash of unknown-length input isn't possible;
// BlobHasher buffers in memory instead, which is acceptable for the file
// sizes this tool handles (source trees and archives, not bulk data).
type BlobHasher struct {
	buf []byte
}

// NewBlobHasher returns an empty BlobHasher.
func NewBlobHasher() *BlobHasher {
	return &BlobHasher{}
}

// Write appends p to the buffered content. It never returns an error.
func (b *BlobHasher) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Sum returns the blob hash of everything written so far.
func (b *BlobHasher) Sum() Hash {
	return HashBlob(b.buf)
}

// EncodeLoose compresses a framed object with zlib, the format used for
// loose objects under .git/objects/<xx>/<rest>.
func EncodeLoose(typ ObjectType, content []byte) ([]byte, Hash, error) {
	framed := Frame(typ, content)
	id := HashObject(typ, content)

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(framed); err != nil {
		return nil, "", fmt.Errorf("compressing %s object: %w", typ, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("compressing %s object: %w", typ, err)
	}
	return buf.Bytes(), id, nil
}

// DecodeLoose inflates a loose-object file's raw content and splits it into
// its type header and body, mirroring the teacher's readLooseObjectRaw but
// operating on an in-memory buffer rather than a filesystem path.
func DecodeLoose(raw []byte) (ObjectType, []byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("inflating loose object: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize))
	if err != nil {
		return 0, nil, fmt.Errorf("inflating loose object: %w", err)
	}

	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return 0, nil, fmt.Errorf("malformed loose object: missing NUL separator")
	}
	header := string(data[:nul])
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("malformed loose object header %q", header)
	}

	var typ ObjectType
	switch parts[0] {
	case "blob":
		typ = BlobObject
	case "tree":
		typ = TreeObject
	case "commit":
		typ = CommitObject
	case "tag":
		typ = TagObject
	default:
		return 0, nil, fmt.Errorf("unrecognized object type %q", parts[0])
	}
	return typ, data[nul+1:], nil
}

// maxDecompressedSize caps inflated loose-object size, matching the
// zip-bomb guard the teacher's pack/loose object reader applies.
const maxDecompressedSize = 256 * 1024 * 1024
