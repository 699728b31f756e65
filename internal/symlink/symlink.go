// Package symlink resolves paths through symbolic links and maps the symlink
// topology of a build output tree.
//
// Resolution is always done against the live filesystem. Sandbox layouts
// change between invocations, so nothing here is cached.
package symlink

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"reportweaver/internal/fileutil"
)

// Status classifies a resolved path.
type Status int

const (
	// StatusMissing means nothing exists at the path.
	StatusMissing Status = iota
	// StatusRegular is an existing path that is not a symlink.
	StatusRegular
	// StatusLink is a symlink whose chain ends at an existing target.
	StatusLink
	// StatusBroken is a symlink that cannot be resolved.
	StatusBroken
)

func (s Status) String() string {
	switch s {
	case StatusRegular:
		return "regular"
	case StatusLink:
		return "link"
	case StatusBroken:
		return "broken"
	default:
		return "missing"
	}
}

// Entry is the resolution of a single path.
type Entry struct {
	Path   string
	Status Status
	// Target is the absolute, fully resolved real path. Empty unless the
	// status is StatusRegular or StatusLink.
	Target string
	// Err is the OS error text for broken links.
	Err string
}

// Broken reports whether the entry is a dangling or looping link.
func (e Entry) Broken() bool { return e.Status == StatusBroken }

// String renders the entry the way the symlink map stores it: the real
// target, or a broken marker carrying the OS error.
func (e Entry) String() string {
	if e.Status == StatusBroken {
		return "<broken: " + e.Err + ">"
	}
	return e.Target
}

// Resolver resolves paths to their canonical real location.
//
// Relative paths are anchored at BaseDir. When BaseDir is empty they are
// anchored at the process working directory.
type Resolver struct {
	BaseDir string
}

// NewResolver creates a Resolver anchored at baseDir.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{BaseDir: baseDir}
}

func (r *Resolver) anchor(p string) string {
	if r == nil || r.BaseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.BaseDir, p)
}

// Canonical returns the absolute real path of p with every symlink followed
// and "." / ".." collapsed. A path that does not exist (including a dangling
// link) is returned unchanged.
func (r *Resolver) Canonical(p string) string {
	if p == "" {
		return p
	}
	full := r.anchor(p)
	if _, err := os.Stat(full); err != nil {
		return p
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return p
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return resolved
	}
	return abs
}

// Resolve classifies p without failing: broken links are reported in the
// returned entry.
func (r *Resolver) Resolve(p string) Entry {
	full := r.anchor(p)
	info, err := os.Lstat(full)
	if err != nil {
		return Entry{Path: p, Status: StatusMissing}
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return Entry{Path: p, Status: StatusRegular, Target: r.Canonical(p)}
	}
	return resolveLink(p, full)
}

func resolveLink(name, full string) Entry {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return Entry{Path: name, Status: StatusBroken, Err: linkError(err)}
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return Entry{Path: name, Status: StatusBroken, Err: linkError(err)}
	}
	return Entry{Path: name, Status: StatusLink, Target: abs}
}

func linkError(err error) string {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error() + ": " + pathErr.Path
	}
	return err.Error()
}

// Map maps link paths to their resolution.
type Map map[string]Entry

// BuildMap walks root and resolves every symlink found below it, file or
// directory. Links below root are not followed. root itself may be a link,
// as bazel-out and bazel-bin are; its target is walked and entries are keyed
// under root as given. A link that cannot be resolved becomes a broken
// entry; it never aborts the walk. Only an unreadable root is an error.
func BuildMap(root string) (Map, error) {
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	m := Map{}
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == walkRoot {
				return err
			}
			// unreadable subtree: keep walking the rest
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			rel, err := filepath.Rel(walkRoot, path)
			if err != nil {
				return err
			}
			name := filepath.Join(root, rel)
			m[name] = resolveLink(name, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Links returns the link paths in sorted order.
func (m Map) Links() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Broken returns the sorted link paths that could not be resolved.
func (m Map) Broken() []string {
	var out []string
	for _, k := range m.Links() {
		if m[k].Broken() {
			out = append(out, k)
		}
	}
	return out
}

func (m Map) flat() map[string]string {
	out := make(map[string]string, len(m))
	for k, e := range m {
		out[k] = e.String()
	}
	return out
}

// encode writes {link: target | "<broken: ...>"} with the broken markers
// left unescaped.
func (m Map) encode(w io.Writer, indent string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	return enc.Encode(m.flat())
}

// MarshalJSON encodes the map as {link: target | "<broken: ...>"}.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.encode(&buf, ""); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteJSON writes the map to path as 2-space indented JSON.
func (m Map) WriteJSON(path string) error {
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return m.encode(w, "  ")
	})
}
