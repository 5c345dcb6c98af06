package polish

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/beevik/etree"
)

// Parsed returns the parsed representation of name, parsing and caching it
// on first access. Content documents and other XML types yield an
// *etree.Document, stylesheets a *Stylesheet, and everything else the raw
// bytes.
func (c *Container) Parsed(name string) (any, error) {
	if obj, ok := c.parsedCache[name]; ok {
		return obj, nil
	}
	p, ok := c.namePath[name]
	if !ok {
		return nil, fmt.Errorf("polish: parse %s: %w", name, ErrFileNotFound)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("polish: read %s: %w", name, err)
	}
	obj, err := c.parse(name, c.mimeOf(name), data)
	if err != nil {
		return nil, fmt.Errorf("polish: parse %s: %w", name, err)
	}
	c.parsedCache[name] = obj
	return obj, nil
}

func (c *Container) parse(name, mt string, data []byte) (any, error) {
	switch {
	case IsDocType(mt):
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		return parseHTML(text)
	case IsXMLType(mt):
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		return parseXML(text)
	case IsStyleType(mt):
		text, err := decodeText(data)
		if err != nil {
			return nil, err
		}
		return ParseStylesheet(text), nil
	}
	return data, nil
}

// ParsedXML returns name parsed as an XML or (X)HTML document.
func (c *Container) ParsedXML(name string) (*etree.Document, error) {
	obj, err := c.Parsed(name)
	if err != nil {
		return nil, err
	}
	doc, ok := obj.(*etree.Document)
	if !ok {
		return nil, fmt.Errorf("polish: %s is not an XML document (%s)", name, c.mimeOf(name))
	}
	return doc, nil
}

// ParsedCSS returns name parsed as a stylesheet.
func (c *Container) ParsedCSS(name string) (*Stylesheet, error) {
	obj, err := c.Parsed(name)
	if err != nil {
		return nil, err
	}
	sheet, ok := obj.(*Stylesheet)
	if !ok {
		return nil, fmt.Errorf("polish: %s is not a stylesheet (%s)", name, c.mimeOf(name))
	}
	return sheet, nil
}

// Dirty marks name for serialization on the next Flush or Commit. A name
// that has not been parsed yet is parsed first, so a dirty name always has
// a cached object.
func (c *Container) Dirty(name string) {
	if _, ok := c.parsedCache[name]; !ok {
		if _, err := c.Parsed(name); err != nil {
			c.log.Warn("cannot mark unparseable file dirty", "name", name, "error", err)
			return
		}
	}
	c.dirtied[name] = true
}

// IsDirty reports whether name has pending changes.
func (c *Container) IsDirty(name string) bool { return c.dirtied[name] }

// DirtyNames returns the names with pending changes, sorted.
func (c *Container) DirtyNames() []string {
	out := make([]string, 0, len(c.dirtied))
	for n := range c.dirtied {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Replace stores obj as the parsed representation of name and marks it
// dirty. obj must be of the type Parsed returns for the file's media type.
func (c *Container) Replace(name string, obj any) error {
	if !c.HasName(name) {
		return fmt.Errorf("polish: replace %s: %w", name, ErrFileNotFound)
	}
	switch obj.(type) {
	case *etree.Document, *Stylesheet, []byte:
	default:
		return fmt.Errorf("polish: replace %s: unsupported type %T", name, obj)
	}
	c.parsedCache[name] = obj
	c.dirtied[name] = true
	return nil
}

// SetPrettyPrint controls whether name is re-indented when serialized.
func (c *Container) SetPrettyPrint(name string, pretty bool) {
	if pretty {
		c.prettyPrint[name] = true
	} else {
		delete(c.prettyPrint, name)
	}
}

// serializeItem renders the cached object for name.
func (c *Container) serializeItem(name string) ([]byte, error) {
	switch v := c.parsedCache[name].(type) {
	case *etree.Document:
		if name == c.opfName {
			formatOPF(v)
		}
		return serializeXML(v, c.prettyPrint[name], IsDocType(c.mimeOf(name)))
	case *Stylesheet:
		return []byte(v.String()), nil
	case []byte:
		return v, nil
	}
	return nil, fmt.Errorf("polish: cannot serialize %s", name)
}

// CommitItem writes the cached object for name to disk. It does nothing if
// name is not cached. The cache entry is dropped unless keepParsed is set.
func (c *Container) CommitItem(name string, keepParsed bool) error {
	if _, ok := c.parsedCache[name]; !ok {
		return nil
	}
	data, err := c.serializeItem(name)
	if err != nil {
		return err
	}
	dest := c.NameToPath(name)
	if p, ok := c.namePath[name]; ok {
		dest = p
	}
	if err := c.decoupleForWrite(dest, false); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("polish: write %s: %w", name, err)
	}
	delete(c.dirtied, name)
	if !keepParsed {
		delete(c.parsedCache, name)
	}
	return nil
}

// Flush commits every dirty name. The dirty set is empty afterwards.
func (c *Container) Flush(keepParsed bool) error {
	for _, name := range c.DirtyNames() {
		if err := c.CommitItem(name, keepParsed); err != nil {
			return err
		}
	}
	return nil
}

// decoupleForWrite breaks the hard link between p and the files of earlier
// clones before p is written. Unlinking is enough when the file is about to
// be rewritten completely; keepData copies the content to a fresh inode
// first so that the caller can edit it in place.
func (c *Container) decoupleForWrite(p string, keepData bool) error {
	if !c.cloned {
		return nil
	}
	n, err := nlinks(p)
	if err != nil || n <= 1 {
		return nil
	}
	if !keepData {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("polish: decouple %s: %w", p, err)
		}
		return nil
	}
	tmp := p + ".decouple"
	if err := copyFile(p, tmp); err != nil {
		return fmt.Errorf("polish: decouple %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("polish: decouple %s: %w", p, err)
	}
	return nil
}

// RawData returns the bytes of name as stored on disk, committing pending
// changes to it first.
func (c *Container) RawData(name string) ([]byte, error) {
	if c.dirtied[name] {
		if err := c.CommitItem(name, false); err != nil {
			return nil, err
		}
	}
	p, ok := c.namePath[name]
	if !ok {
		return nil, fmt.Errorf("polish: read %s: %w", name, ErrFileNotFound)
	}
	return os.ReadFile(p)
}

// RawText returns the content of name decoded to NFC-normalized UTF-8.
func (c *Container) RawText(name string) (string, error) {
	data, err := c.RawData(name)
	if err != nil {
		return "", err
	}
	return decodeText(data)
}

// OpenFile opens the file for name for direct access. Pending changes to
// name are committed first. Opening for writing drops the cached parse and
// decouples the file from earlier clones; the caller must be done with the
// file before using Parsed on it again.
func (c *Container) OpenFile(name string, flag int) (*os.File, error) {
	if c.dirtied[name] {
		if err := c.CommitItem(name, false); err != nil {
			return nil, err
		}
	}
	p := c.NameToPath(name)
	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return os.Open(p)
	}
	delete(c.parsedCache, name)
	if _, err := os.Stat(p); err == nil {
		if err := c.decoupleForWrite(p, flag&os.O_TRUNC == 0); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(p, flag, 0o644)
}

// writeRaw replaces the content of an existing name on disk.
func (c *Container) writeRaw(name string, data []byte) error {
	f, err := c.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FileSize returns the size of name on disk after committing pending
// changes to it.
func (c *Container) FileSize(name string) (int64, error) {
	if c.dirtied[name] {
		if err := c.CommitItem(name, true); err != nil {
			return 0, err
		}
	}
	fi, err := os.Stat(c.NameToPath(name))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// copyFile copies src to dst, preserving the file mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
