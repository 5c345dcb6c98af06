package polish

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"

	"github.com/beevik/etree"
)

// Attributes that carry URLs in content documents.
var linkAttrs = map[string]bool{
	"href": true, "src": true, "poster": true, "altimg": true, "data": true,
	"background": true, "cite": true, "longdesc": true, "usemap": true,
	"action": true, "codebase": true, "classid": true, "archive": true,
	"profile": true, "dynsrc": true, "lowsrc": true,
}

func isDocLinkAttr(space, key string) bool {
	if space == "xlink" {
		return key == "href"
	}
	return space == "" && linkAttrs[key]
}

// LinkReplaceFunc rewrites the URLs visited by ReplaceLinks. Replaced
// reports whether any call so far returned a different URL.
type LinkReplaceFunc interface {
	Replace(url string) string
	Replaced() bool
}

type funcReplacer struct {
	fn       func(string) string
	replaced bool
}

// ReplaceFunc adapts a plain function to LinkReplaceFunc.
func ReplaceFunc(fn func(string) string) LinkReplaceFunc {
	return &funcReplacer{fn: fn}
}

func (r *funcReplacer) Replace(u string) string {
	nu := r.fn(u)
	if nu != u {
		r.replaced = true
	}
	return nu
}

func (r *funcReplacer) Replaced() bool { return r.replaced }

// LinkRebaser rewrites the relative links inside a renamed file so they
// keep pointing at the same targets.
type LinkRebaser struct {
	c        *Container
	oldName  string
	newName  string
	replaced bool
}

// NewLinkRebaser returns a rebaser for a file renamed from oldName to newName.
func NewLinkRebaser(c *Container, oldName, newName string) *LinkRebaser {
	return &LinkRebaser{c: c, oldName: oldName, newName: newName}
}

// Replace implements LinkReplaceFunc.
func (r *LinkRebaser) Replace(u string) string {
	if u == "" || strings.HasPrefix(u, "#") {
		return u
	}
	name, ok := r.c.HrefToName(u, r.oldName)
	if !ok {
		return u
	}
	if name == r.oldName {
		name = r.newName
	}
	href := r.c.NameToHref(name, r.newName)
	if frag := urlFragment(u); frag != "" {
		href += "#" + frag
	}
	if href != u {
		r.replaced = true
	}
	return href
}

// Replaced implements LinkReplaceFunc.
func (r *LinkRebaser) Replaced() bool { return r.replaced }

// LinkReplacer redirects the links inside one file according to a map of
// old name to new name.
type LinkReplacer struct {
	c       *Container
	base    string
	linkMap map[string]string

	// FragMap, if set, rewrites fragment identifiers. It receives the name
	// the fragment belongs to and the fragment without '#'; an empty
	// result drops the fragment.
	FragMap func(name, frag string) string

	replaced bool
}

// NewLinkReplacer returns a replacer for links inside base.
func NewLinkReplacer(c *Container, base string, linkMap map[string]string) *LinkReplacer {
	return &LinkReplacer{c: c, base: base, linkMap: linkMap}
}

// Replace implements LinkReplaceFunc.
func (r *LinkReplacer) Replace(u string) string {
	if strings.HasPrefix(u, "#") {
		if r.FragMap == nil {
			return u
		}
		if nf := r.FragMap(r.base, u[1:]); nf != "" {
			return "#" + nf
		}
		return u
	}
	name, ok := r.c.HrefToName(u, r.base)
	if !ok {
		return u
	}
	nname, ok := r.linkMap[name]
	if !ok || nname == "" {
		return u
	}
	href := r.c.NameToHref(nname, r.base)
	if frag := urlFragment(u); frag != "" {
		if r.FragMap != nil {
			frag = r.FragMap(name, frag)
		}
		if frag != "" {
			href += "#" + frag
		}
	}
	if href != u {
		r.replaced = true
	}
	return href
}

// Replaced implements LinkReplaceFunc.
func (r *LinkReplacer) Replaced() bool { return r.replaced }

func urlFragment(u string) string {
	if p, err := url.Parse(u); err == nil {
		return p.EscapedFragment()
	}
	if _, frag, ok := strings.Cut(u, "#"); ok {
		return frag
	}
	return ""
}

// hasLinks reports whether files of the given media type can carry links.
func (c *Container) hasLinks(name string) bool {
	mt := c.mimeOf(name)
	return name == c.opfName || IsDocType(mt) || IsStyleType(mt) || normalizeMediaType(mt) == MediaTypeNCX
}

// ReplaceLinks passes every link in name through r and marks the file
// dirty if any link changed. Files that cannot carry links are left alone.
func (c *Container) ReplaceLinks(name string, r LinkReplaceFunc) (bool, error) {
	mt := normalizeMediaType(c.mimeOf(name))
	switch {
	case name == c.opfName:
		doc, err := c.ParsedXML(name)
		if err != nil {
			return false, err
		}
		rewriteAttr(doc.Root(), "href", r)
	case IsDocType(mt):
		doc, err := c.ParsedXML(name)
		if err != nil {
			return false, err
		}
		rewriteDocLinks(doc.Root(), r)
	case IsStyleType(mt):
		sheet, err := c.ParsedCSS(name)
		if err != nil {
			return false, err
		}
		sheet.replaceURLs(r.Replace)
	case mt == MediaTypeNCX:
		doc, err := c.ParsedXML(name)
		if err != nil {
			return false, err
		}
		rewriteAttr(doc.Root(), "src", r)
	}
	if r.Replaced() {
		c.Dirty(name)
	}
	return r.Replaced(), nil
}

func rewriteAttr(root *etree.Element, key string, r LinkReplaceFunc) {
	walkElements(root, func(e *etree.Element) bool {
		for i := range e.Attr {
			if a := &e.Attr[i]; a.Space == "" && a.Key == key {
				a.Value = r.Replace(a.Value)
			}
		}
		return true
	})
}

func rewriteDocLinks(root *etree.Element, r LinkReplaceFunc) {
	walkElements(root, func(e *etree.Element) bool {
		for i := range e.Attr {
			a := &e.Attr[i]
			switch {
			case isDocLinkAttr(a.Space, a.Key):
				a.Value = r.Replace(a.Value)
			case a.Space == "" && a.Key == "style":
				sheet := ParseStylesheet(a.Value)
				if sheet.replaceURLs(r.Replace) {
					a.Value = sheet.String()
				}
			}
		}
		if e.Tag == "style" {
			sheet := ParseStylesheet(e.Text())
			if sheet.replaceURLs(r.Replace) {
				e.SetText(sheet.String())
			}
		}
		return true
	})
}

// ReplaceLinksEverywhere redirects links to the names in linkMap in every
// file of the book. Files that fail to parse are skipped and reported in
// the returned error; the remaining files are still processed.
func (c *Container) ReplaceLinksEverywhere(linkMap map[string]string, replaceInOPF bool) error {
	var errs []error
	for _, name := range c.Names() {
		if name == c.opfName && !replaceInOPF {
			continue
		}
		if !c.hasLinks(name) {
			continue
		}
		if _, err := c.ReplaceLinks(name, NewLinkReplacer(c, name, linkMap)); err != nil {
			c.log.Warn("skipping links in unparseable file", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IterLinks returns the links found in name. With withLines, positions are
// taken from the file as stored on disk (pending changes to name are
// committed first); otherwise the links come from the parsed tree and carry
// no positions. The sequence can be ranged over more than once.
func (c *Container) IterLinks(name string, withLines bool) (iter.Seq[Link], error) {
	mt := normalizeMediaType(c.mimeOf(name))
	var attrOK func(space, key string) bool
	css := false
	switch {
	case name == c.opfName:
		attrOK = func(space, key string) bool { return space == "" && key == "href" }
	case IsDocType(mt):
		attrOK = isDocLinkAttr
		css = true
	case mt == MediaTypeNCX:
		attrOK = func(space, key string) bool { return space == "" && key == "src" }
	case IsStyleType(mt):
		return c.iterCSSLinks(name, withLines)
	default:
		return func(func(Link) bool) {}, nil
	}

	if withLines {
		text, err := c.RawText(name)
		if err != nil {
			return nil, err
		}
		return func(yield func(Link) bool) {
			scanMarkupLinks(text, attrOK, css, yield)
		}, nil
	}
	doc, err := c.ParsedXML(name)
	if err != nil {
		return nil, err
	}
	return func(yield func(Link) bool) {
		stopped := false
		emit := func(l Link) bool {
			if !stopped && !yield(l) {
				stopped = true
			}
			return !stopped
		}
		walkElements(doc.Root(), func(e *etree.Element) bool {
			if stopped {
				return false
			}
			for _, a := range e.Attr {
				if attrOK(a.Space, a.Key) {
					if !emit(Link{URL: a.Value}) {
						return false
					}
				} else if css && a.Space == "" && a.Key == "style" {
					for _, ref := range ParseStylesheet(a.Value).refs() {
						if !emit(Link{URL: ref.url}) {
							return false
						}
					}
				}
			}
			if css && e.Tag == "style" {
				for _, ref := range ParseStylesheet(e.Text()).refs() {
					if !emit(Link{URL: ref.url}) {
						return false
					}
				}
			}
			return true
		})
	}, nil
}

func (c *Container) iterCSSLinks(name string, withLines bool) (iter.Seq[Link], error) {
	var sheet *Stylesheet
	if withLines {
		text, err := c.RawText(name)
		if err != nil {
			return nil, err
		}
		sheet = ParseStylesheet(text)
	} else {
		s, err := c.ParsedCSS(name)
		if err != nil {
			return nil, err
		}
		sheet = s
	}
	return func(yield func(Link) bool) {
		for _, ref := range sheet.refs() {
			l := Link{URL: ref.url}
			if withLines {
				l.Line, l.Column = ref.line, ref.column
			}
			if !yield(l) {
				return
			}
		}
	}, nil
}

// scanMarkupLinks tokenizes markup text and yields the links found in
// attributes accepted by attrOK, plus CSS references in style attributes
// and <style> elements when css is set. Positions are those of the start
// tag carrying the link. Scanning stops silently at the first syntax error.
func scanMarkupLinks(text string, attrOK func(space, key string) bool, css bool, yield func(Link) bool) {
	d := xml.NewDecoder(strings.NewReader(text))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	inStyle := false
	for {
		line, col := d.InputPos()
		tok, err := d.RawToken()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inStyle = css && t.Name.Local == "style"
			for _, a := range t.Attr {
				switch {
				case attrOK(a.Name.Space, a.Name.Local):
					if !yield(Link{URL: a.Value, Line: line, Column: col}) {
						return
					}
				case css && a.Name.Space == "" && a.Name.Local == "style":
					for _, ref := range ParseStylesheet(a.Value).refs() {
						if !yield(Link{URL: ref.url, Line: line, Column: col}) {
							return
						}
					}
				}
			}
		case xml.CharData:
			if !inStyle {
				continue
			}
			inStyle = false
			for _, ref := range ParseStylesheet(string(t)).refs() {
				l := Link{URL: ref.url, Line: line + ref.line - 1, Column: ref.column}
				if ref.line == 1 {
					l.Column = col + ref.column - 1
				}
				if !yield(l) {
					return
				}
			}
		case xml.EndElement:
			inStyle = false
		}
	}
}

// RenameFiles renames several files at once and updates every link to them
// throughout the book. Destinations may not also be sources, may not repeat
// and may not exist unless they differ from their source only by case.
func (c *Container) RenameFiles(fileMap map[string]string) error {
	dests := make(map[string]bool, len(fileMap))
	for src, dest := range fileMap {
		if _, ok := fileMap[dest]; ok && dest != src {
			return fmt.Errorf("polish: circular rename: %s is both a source and a destination: %w", dest, ErrNameConflict)
		}
		if dests[dest] {
			return fmt.Errorf("polish: rename destination %s used twice: %w", dest, ErrNameConflict)
		}
		dests[dest] = true
		if c.Exists(dest) && !(src != dest && strings.EqualFold(src, dest)) {
			return fmt.Errorf("polish: cannot rename %s to %s: %w", src, dest, ErrNameConflict)
		}
	}
	linkMap := make(map[string]string, len(fileMap))
	for _, src := range sortedKeys(fileMap) {
		dest := fileMap[src]
		if err := c.Rename(src, dest); err != nil {
			return err
		}
		if dest != c.opfName {
			linkMap[src] = dest
		}
	}
	return c.ReplaceLinksEverywhere(linkMap, true)
}
