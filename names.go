package polish

import (
	"net/url"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NameToPath converts a container name to an absolute filesystem path under root.
func NameToPath(name, root string) string {
	parts := append([]string{root}, strings.Split(name, "/")...)
	p := filepath.Join(parts...)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// PathToName converts a filesystem path under root to a canonical,
// NFC-normalized container name. It reports false if the path does not
// lie inside root.
func PathToName(p, root string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || !isSafePath(rel) {
		return "", false
	}
	return norm.NFC.String(rel), true
}

// HrefToName resolves href relative to the directory of the base name (or
// root when base is empty) and returns the name it points at. It reports
// false for anything that is not a local reference: URLs with a scheme or
// host, fragment-only links, malformed escapes and hrefs escaping the root.
func HrefToName(href, root, base string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	href = u.Path
	if runtime.GOOS == "windows" && strings.Contains(href, ":") {
		return "", false
	}
	dir := root
	if base != "" {
		dir = filepath.Dir(NameToPath(base, root))
	}
	parts := append([]string{dir}, strings.Split(href, "/")...)
	return PathToName(filepath.Join(parts...), root)
}

// NameToHref returns the percent-encoded href of name relative to the
// directory of base (or root when base is empty).
func NameToHref(name, root, base string) string {
	full := NameToPath(name, root)
	dir := root
	if base != "" {
		dir = filepath.Dir(NameToPath(base, root))
	}
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		rel = name
	}
	return quoteHref(filepath.ToSlash(rel))
}

// quoteHref percent-encodes each path segment. A colon in the first
// segment is escaped so the result never parses as a URL scheme.
func quoteHref(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		s = url.PathEscape(s)
		if i == 0 {
			s = strings.ReplaceAll(s, ":", "%3A")
		}
		segs[i] = s
	}
	return strings.Join(segs, "/")
}

// validName reports whether name is a usable relative container name.
func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// nameDir returns the directory part of a name, "" for top-level names.
func nameDir(name string) string {
	d := path.Dir(name)
	if d == "." {
		return ""
	}
	return d
}
