package polish

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
)

// metaInfNames are the META-INF files defined by OCF. They are never
// renamed and never need a manifest entry.
var metaInfNames = []string{
	"META-INF/container.xml",
	"META-INF/manifest.xml",
	"META-INF/encryption.xml",
	"META-INF/metadata.xml",
	"META-INF/signatures.xml",
	"META-INF/rights.xml",
}

const (
	containerXMLName  = "META-INF/container.xml"
	encryptionXMLName = "META-INF/encryption.xml"
)

// Container is an open book: a root directory of named files plus the OPF
// package document that describes them. Files are parsed lazily and cached;
// edited files are written back by Flush or Commit.
//
// A Container is not safe for concurrent mutation. Read-only helpers used
// by the check package (HrefToName, RawData of committed files) may be
// called from several goroutines once the container has been flushed.
type Container struct {
	format    Format
	root      string
	ownsRoot  bool
	opfName   string
	bookPath  string
	isDir     bool
	tweakMode bool

	namePath    map[string]string
	mimeMap     map[string]string
	parsedCache map[string]any
	dirtied     map[string]bool
	prettyPrint map[string]bool
	cloned      bool

	hrefMu    sync.Mutex
	hrefCache map[[2]string]hrefResult

	// obfuscatedFonts holds fonts stored in plaintext on disk that must be
	// re-obfuscated on commit.
	obfuscatedFonts map[string]obfuscation
	// mobiFonts are the fonts an AZW3 codec must re-obfuscate on rebuild.
	mobiFonts       []string

	codec   MobiCodec
	log     *slog.Logger
	now     func() time.Time
	tempDir string
}

type hrefResult struct {
	name string
	ok   bool
}

// newContainer indexes every file under root and loads the package
// document at opfPath.
func newContainer(root, opfPath string, format Format, opts Options) (*Container, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("polish: resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	if abs, err := filepath.Abs(opfPath); err == nil {
		opfPath = abs
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(opfPath)); err == nil {
		opfPath = filepath.Join(resolved, filepath.Base(opfPath))
	}
	c := &Container{
		format:          format,
		root:            absRoot,
		namePath:        make(map[string]string),
		mimeMap:         make(map[string]string),
		parsedCache:     make(map[string]any),
		dirtied:         make(map[string]bool),
		prettyPrint:     make(map[string]bool),
		hrefCache:       make(map[[2]string]hrefResult),
		obfuscatedFonts: make(map[string]obfuscation),
		tweakMode:       opts.TweakMode,
		codec:           opts.Codec,
		log:             opts.logger(),
		now:             opts.Now,
		tempDir:         opts.TempDir,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	opfName, ok := PathToName(opfPath, c.root)
	if !ok || !c.HasName(opfName) {
		return nil, fmt.Errorf("%w: could not locate OPF file %s", ErrInvalidBook, opfPath)
	}
	c.opfName = opfName
	c.mimeMap[opfName] = MediaTypeOPF
	if _, err := c.opf(); err != nil {
		return nil, fmt.Errorf("%w: parse OPF %s: %w", ErrInvalidBook, opfName, err)
	}
	c.RefreshMimeMap()
	return c, nil
}

// index walks the root and records every regular file.
func (c *Container) index() error {
	return filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name, ok := PathToName(p, c.root)
		if !ok {
			return nil
		}
		c.namePath[name] = p
		c.mimeMap[name] = GuessType(name, 2)
		return nil
	})
}

// RefreshMimeMap updates the media types of indexed files from the OPF
// manifest. The OPF keeps its own type even if the manifest lists it.
func (c *Container) RefreshMimeMap() {
	for _, item := range c.ManifestItems() {
		if item.Name == "" || item.MediaType == "" || item.Name == c.opfName {
			continue
		}
		if _, ok := c.mimeMap[item.Name]; ok {
			c.mimeMap[item.Name] = item.MediaType
		}
	}
}

// Format returns the packaging format of the container.
func (c *Container) Format() Format { return c.format }

// Root returns the absolute working directory holding the book's files.
func (c *Container) Root() string { return c.root }

// OPFName returns the name of the package document.
func (c *Container) OPFName() string { return c.opfName }

// BookPath returns the path of the book this container was opened from.
func (c *Container) BookPath() string { return c.bookPath }

// IsDir reports whether the book was opened from an unpacked directory.
func (c *Container) IsDir() bool { return c.isDir }

// TweakMode reports whether the container was opened for tweaking.
func (c *Container) TweakMode() bool { return c.tweakMode }

// Names returns every name in the container, sorted.
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.namePath))
	for n := range c.namePath {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// MimeType returns the media type recorded for name.
func (c *Container) MimeType(name string) (string, bool) {
	mt, ok := c.mimeMap[name]
	return mt, ok
}

func (c *Container) mimeOf(name string) string {
	if mt, ok := c.mimeMap[name]; ok {
		return mt
	}
	return GuessType(name, c.opfMajor())
}

// NameToPath returns the absolute path of name under the container root.
func (c *Container) NameToPath(name string) string { return NameToPath(name, c.root) }

// PathToName converts an absolute path under the root to a name.
func (c *Container) PathToName(p string) (string, bool) { return PathToName(p, c.root) }

// HrefToName resolves href relative to the base name; base "" means the
// root. Results are memoized per container.
func (c *Container) HrefToName(href, base string) (string, bool) {
	key := [2]string{href, base}
	c.hrefMu.Lock()
	defer c.hrefMu.Unlock()
	if r, ok := c.hrefCache[key]; ok {
		return r.name, r.ok
	}
	name, ok := HrefToName(href, c.root, base)
	c.hrefCache[key] = hrefResult{name: name, ok: ok}
	return name, ok
}

// NameToHref returns the href of name relative to the base name.
func (c *Container) NameToHref(name, base string) string {
	return NameToHref(name, c.root, base)
}

// HasName reports whether name is a file in the container.
func (c *Container) HasName(name string) bool {
	_, ok := c.namePath[name]
	return ok
}

// HasNameCaseInsensitive reports whether a file with name exists when case
// is ignored.
func (c *Container) HasNameCaseInsensitive(name string) bool {
	if c.HasName(name) {
		return true
	}
	for n := range c.namePath {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// HasNameAndIsNotEmpty reports whether name exists and is non-empty on disk.
func (c *Container) HasNameAndIsNotEmpty(name string) bool {
	if !c.HasName(name) {
		return false
	}
	fi, err := os.Stat(c.namePath[name])
	return err == nil && fi.Size() > 0
}

// Exists reports whether a file for name exists on disk, whether or not
// it is indexed.
func (c *Container) Exists(name string) bool {
	_, err := os.Stat(c.NameToPath(name))
	return err == nil
}

// opf returns the parsed package document.
func (c *Container) opf() (*etree.Document, error) {
	return c.ParsedXML(c.opfName)
}

// opfRoot returns the <package> element, or nil if the OPF cannot be parsed.
func (c *Container) opfRoot() *etree.Element {
	doc, err := c.opf()
	if err != nil {
		return nil
	}
	return doc.Root()
}

// OPFVersion returns the package version attribute, "2.0" when absent.
func (c *Container) OPFVersion() string {
	root := c.opfRoot()
	if root == nil {
		return "2.0"
	}
	v := strings.TrimSpace(attrValue(root, "version"))
	if v == "" {
		return "2.0"
	}
	return v
}

func (c *Container) opfMajor() int {
	if c.opfName == "" {
		return 2
	}
	major, _ := parseOPFVersion(c.OPFVersion())
	return major
}

// GuessType returns the media type for name implied by its extension and
// the package version.
func (c *Container) GuessType(name string) string {
	return GuessType(name, c.opfMajor())
}

// BookTypeForDisplay returns a short human-readable format label such as
// "EPUB 3" or "AZW3".
func (c *Container) BookTypeForDisplay() string {
	switch c.format {
	case FormatAZW3:
		return "AZW3"
	case FormatKEPUB:
		major, _ := parseOPFVersion(c.OPFVersion())
		return fmt.Sprintf("KEPUB %d", major)
	}
	major, minor := parseOPFVersion(c.OPFVersion())
	if minor > 0 {
		return fmt.Sprintf("EPUB %d.%d", major, minor)
	}
	return fmt.Sprintf("EPUB %d", major)
}

// NamesThatMustNotBeChanged returns the names the format forbids renaming.
func (c *Container) NamesThatMustNotBeChanged() map[string]bool {
	out := make(map[string]bool)
	switch c.format {
	case FormatEPUB, FormatKEPUB:
		for _, n := range metaInfNames {
			out[n] = true
		}
	case FormatAZW3:
		for n := range c.namePath {
			out[n] = true
		}
	}
	return out
}

// NamesThatNeedNotBeManifested returns the names that are valid without a
// manifest entry.
func (c *Container) NamesThatNeedNotBeManifested() map[string]bool {
	out := map[string]bool{c.opfName: true}
	if c.format == FormatEPUB || c.format == FormatKEPUB {
		for _, n := range metaInfNames {
			out[n] = true
		}
	}
	return out
}

// OKToBeUnmanifested reports whether name may exist without a manifest entry.
func (c *Container) OKToBeUnmanifested(name string) bool {
	if c.NamesThatNeedNotBeManifested()[name] {
		return true
	}
	return (c.format == FormatEPUB || c.format == FormatKEPUB) && strings.HasPrefix(name, "META-INF/")
}

// NamesThatMustNotBeRemoved returns the names required by the format.
func (c *Container) NamesThatMustNotBeRemoved() map[string]bool {
	out := map[string]bool{c.opfName: true}
	if c.format == FormatEPUB || c.format == FormatKEPUB {
		out[containerXMLName] = true
	}
	return out
}

// Close removes the working directory if the container created it. The
// container must not be used afterwards.
func (c *Container) Close() error {
	if !c.ownsRoot {
		return nil
	}
	c.ownsRoot = false
	return os.RemoveAll(c.root)
}
