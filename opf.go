package polish

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// packageView reads the package metadata straight from the live OPF tree,
// so edits that have not been flushed are visible.
type packageView struct {
	root     *etree.Element
	metadata *etree.Element

	// refines maps an element id (without '#') to the <meta refines>
	// elements that describe it.
	refines map[string][]*etree.Element
}

func newPackageView(root *etree.Element) *packageView {
	pv := &packageView{
		root:     root,
		metadata: findElement(root, "metadata", nsOPF, ""),
		refines:  make(map[string][]*etree.Element),
	}
	if pv.metadata == nil {
		return pv
	}
	for _, m := range findElements(pv.metadata, "meta", nsOPF, "") {
		if ref := strings.TrimSpace(attrValue(m, "refines")); strings.HasPrefix(ref, "#") {
			pv.refines[ref[1:]] = append(pv.refines[ref[1:]], m)
		}
	}
	return pv
}

// packageSnapshot returns a view of the OPF as it currently stands.
func (c *Container) packageSnapshot() (*packageView, error) {
	doc, err := c.opf()
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("polish: %w: OPF has no root element", ErrInvalidBook)
	}
	return newPackageView(root), nil
}

// version returns the package version attribute, "2.0" when absent.
func (pv *packageView) version() string {
	if v := strings.TrimSpace(attrValue(pv.root, "version")); v != "" {
		return v
	}
	return "2.0"
}

func (pv *packageView) uniqueIdentifier() string {
	return strings.TrimSpace(attrValue(pv.root, "unique-identifier"))
}

// dc returns the Dublin Core elements with the given local name.
func (pv *packageView) dc(tag string) []*etree.Element {
	if pv.metadata == nil {
		return nil
	}
	return findElements(pv.metadata, tag, nsDC)
}

// values returns the non-empty trimmed texts of the dc elements named tag.
func (pv *packageView) values(tag string) []string {
	var out []string
	for _, e := range pv.dc(tag) {
		if v := strings.TrimSpace(textOf(e)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// first returns the first non-empty value of tag.
func (pv *packageView) first(tag string) string {
	if vs := pv.values(tag); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// refinement returns the first non-empty value of a meta that refines id
// with the given property.
func (pv *packageView) refinement(id, property string) string {
	if id == "" {
		return ""
	}
	for _, m := range pv.refines[id] {
		if attrValue(m, "property") != property {
			continue
		}
		if v := strings.TrimSpace(textOf(m)); v != "" {
			return v
		}
	}
	return ""
}

// opfAttr returns the value of key whether it is written unprefixed or in
// the OPF namespace (opf:file-as, opf:role, opf:scheme).
func opfAttr(e *etree.Element, key string) string {
	for _, a := range e.Attr {
		if a.Key != key {
			continue
		}
		if a.Space == "" || a.Space == "opf" || a.NamespaceURI() == nsOPF {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
