package polish

import (
	"fmt"
	"slices"
	"strings"

	"github.com/beevik/etree"
)

// TOC returns the table of contents of the book as it currently stands in
// the container. EPUB 3 books are read from the nav document and fall back
// to the NCX; EPUB 2 books use the NCX named by the spine's toc attribute.
// A book without either yields an empty, non-nil slice.
func (c *Container) TOC() ([]TOCItem, error) {
	spine := c.spineIndex()
	if c.opfMajor() >= 3 {
		if nav := c.navName(); nav != "" {
			root, err := c.navRoot(nav)
			if err != nil {
				return nil, err
			}
			if toc := c.navList(root, nav, "toc"); toc != nil {
				c.finishTOC(toc, spine)
				return toc, nil
			}
		}
	}
	if ncx := c.ncxName(); ncx != "" {
		doc, err := c.ParsedXML(ncx)
		if err != nil {
			return nil, fmt.Errorf("polish: parse NCX %s: %w", ncx, err)
		}
		if navMap := findElement(doc.Root(), "navMap", nsNCX, ""); navMap != nil {
			toc := c.convertNavPoints(navMap, ncx)
			c.finishTOC(toc, spine)
			return toc, nil
		}
	}
	return []TOCItem{}, nil
}

// Landmarks returns the entries of the EPUB 3 landmarks nav, or nil when
// the book has none.
func (c *Container) Landmarks() ([]TOCItem, error) {
	nav := c.navName()
	if nav == "" {
		return nil, nil
	}
	root, err := c.navRoot(nav)
	if err != nil {
		return nil, err
	}
	items := c.navList(root, nav, "landmarks")
	c.finishTOC(items, c.spineIndex())
	return items, nil
}

func (c *Container) finishTOC(items []TOCItem, spine map[string]int) {
	assignSpineIndices(items, spine)
	computeSpineRanges(items, len(spine))
}

func (c *Container) spineIndex() map[string]int {
	names := c.SpineNames()
	m := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := m[n]; !dup {
			m[n] = i
		}
	}
	return m
}

// navName returns the name of the first manifest item with the nav
// property that exists in the container.
func (c *Container) navName() string {
	for _, name := range c.ManifestItemsWithProperty("nav") {
		if c.HasName(name) {
			return name
		}
	}
	return ""
}

// ncxName returns the NCX named by <spine toc="...">, falling back to the
// first NCX in the manifest.
func (c *Container) ncxName() string {
	if spine := c.opfChild("spine"); spine != nil {
		if id := attrValue(spine, "toc"); id != "" {
			if name, ok := c.ManifestIDMap()[id]; ok && c.HasName(name) {
				return name
			}
		}
	}
	for _, name := range c.ManifestItemsOfType(func(mt string) bool { return strings.EqualFold(mt, MediaTypeNCX) }) {
		if c.HasName(name) {
			return name
		}
	}
	return ""
}

func (c *Container) navRoot(nav string) (*etree.Element, error) {
	doc, err := c.ParsedXML(nav)
	if err != nil {
		return nil, fmt.Errorf("polish: parse nav document %s: %w", nav, err)
	}
	return doc.Root(), nil
}

// navList returns the items of the first <nav epub:type=typ> list, or nil.
func (c *Container) navList(root *etree.Element, base, typ string) []TOCItem {
	for _, nav := range findElements(root, "nav") {
		if !hasEpubType(nav, typ) {
			continue
		}
		if ol := findElement(nav, "ol"); ol != nil {
			return c.parseNavOL(ol, base)
		}
	}
	return nil
}

func (c *Container) parseNavOL(ol *etree.Element, base string) []TOCItem {
	items := []TOCItem{}
	for _, li := range ol.ChildElements() {
		if li.Tag == "li" {
			items = append(items, c.parseNavLI(li, base))
		}
	}
	return items
}

// parseNavLI reads the first <a> (or a <span> heading) and a nested <ol>.
func (c *Container) parseNavLI(li *etree.Element, base string) TOCItem {
	item := TOCItem{SpineIndex: -1, SpineEndIndex: -1}
	haveLink := false
	for _, e := range li.ChildElements() {
		switch e.Tag {
		case "a":
			if haveLink {
				continue
			}
			haveLink = true
			item.Title = collapseSpace(textOf(e))
			c.setTarget(&item, attrValue(e, "href"), base)
		case "span":
			if item.Title == "" {
				item.Title = collapseSpace(textOf(e))
			}
		case "ol":
			item.Children = c.parseNavOL(e, base)
		}
	}
	return item
}

func (c *Container) convertNavPoints(parent *etree.Element, base string) []TOCItem {
	var items []TOCItem
	for _, np := range parent.ChildElements() {
		if np.Tag != "navPoint" {
			continue
		}
		item := TOCItem{SpineIndex: -1, SpineEndIndex: -1}
		if label := childElement(np, "navLabel"); label != nil {
			if text := childElement(label, "text"); text != nil {
				item.Title = collapseSpace(textOf(text))
			}
		}
		if content := childElement(np, "content"); content != nil {
			c.setTarget(&item, attrValue(content, "src"), base)
		}
		item.Children = c.convertNavPoints(np, base)
		items = append(items, item)
	}
	return items
}

// setTarget resolves href against base and stores the name and fragment.
// External and unresolvable hrefs leave the item without a target.
func (c *Container) setTarget(item *TOCItem, href, base string) {
	href = strings.TrimSpace(href)
	if href == "" {
		return
	}
	frag := urlFragment(href)
	if strings.HasPrefix(href, "#") {
		item.Name, item.Frag = base, frag
		return
	}
	if name, ok := c.HrefToName(href, base); ok {
		item.Name, item.Frag = name, frag
	}
}

// hasEpubType reports whether e's epub:type attribute contains typ.
func hasEpubType(e *etree.Element, typ string) bool {
	for _, a := range e.Attr {
		if a.Space == "epub" && a.Key == "type" {
			return slices.Contains(strings.Fields(a.Value), typ)
		}
	}
	return false
}

// textOf returns the concatenated text content of e and its descendants.
func textOf(e *etree.Element) string {
	var sb strings.Builder
	for _, tok := range e.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			sb.WriteString(t.Data)
		case *etree.Element:
			sb.WriteString(textOf(t))
		}
	}
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// assignSpineIndices sets SpineIndex on every item whose target is in the
// spine.
func assignSpineIndices(items []TOCItem, spine map[string]int) {
	for i := range items {
		if idx, ok := spine[items[i].Name]; ok && items[i].Name != "" {
			items[i].SpineIndex = idx
		}
		assignSpineIndices(items[i].Children, spine)
	}
}

// computeSpineRanges sets SpineEndIndex so each entry covers
// spine[SpineIndex:SpineEndIndex]. The entry with the highest index runs
// to the end of the spine.
func computeSpineRanges(items []TOCItem, spineLen int) {
	var flat []*TOCItem
	flattenTOCItems(&flat, items)

	var indices []int
	for _, item := range flat {
		if item.SpineIndex >= 0 && !slices.Contains(indices, item.SpineIndex) {
			indices = append(indices, item.SpineIndex)
		}
	}
	slices.Sort(indices)

	for _, item := range flat {
		if item.SpineIndex < 0 {
			item.SpineEndIndex = -1
			continue
		}
		i, _ := slices.BinarySearch(indices, item.SpineIndex)
		if i+1 < len(indices) {
			item.SpineEndIndex = indices[i+1]
		} else {
			item.SpineEndIndex = spineLen
		}
	}
}

func flattenTOCItems(flat *[]*TOCItem, items []TOCItem) {
	for i := range items {
		*flat = append(*flat, &items[i])
		flattenTOCItems(flat, items[i].Children)
	}
}
