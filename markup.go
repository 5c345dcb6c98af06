package polish

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

// XML namespaces used by the package, content and META-INF documents.
const (
	nsOPF   = "http://www.idpf.org/2007/opf"
	nsDC    = "http://purl.org/dc/elements/1.1/"
	nsXHTML = "http://www.w3.org/1999/xhtml"
	nsSVG   = "http://www.w3.org/2000/svg"
	nsXLink = "http://www.w3.org/1999/xlink"
	nsNCX   = "http://www.daisy.org/z3986/2005/ncx/"
	nsOCF   = "urn:oasis:names:tc:opendocument:xmlns:container"
	nsEnc   = "http://www.w3.org/2001/04/xmlenc#"
)

// HTML elements that are serialized as self-closing.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// parseXML parses decoded text into a mutable element tree. Named HTML
// entities are accepted because real-world OPF and NCX files use them.
func parseXML(text string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Entity = xml.HTMLEntity
	if err := doc.ReadFromString(stripXMLDeclaration(text)); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("polish: document has no root element")
	}
	return doc, nil
}

// parseHTML parses an (X)HTML content document. Well-formed XHTML is read
// as XML; anything else goes through the HTML5 parser and is converted into
// an equivalent XHTML tree.
func parseHTML(text string) (*etree.Document, error) {
	if doc, err := parseXML(text); err == nil {
		if r := doc.Root(); r.Tag == "html" && r.NamespaceURI() == "" {
			r.CreateAttr("xmlns", nsXHTML)
		}
		return doc, nil
	}
	node, err := html.Parse(strings.NewReader(stripXMLDeclaration(text)))
	if err != nil {
		return nil, fmt.Errorf("polish: parse html: %w", err)
	}
	return htmlToEtree(node), nil
}

// htmlToEtree converts an x/net/html tree into an etree document with
// XHTML, SVG and XLink namespaces declared.
func htmlToEtree(n *html.Node) *etree.Document {
	doc := etree.NewDocument()
	var root *etree.Element
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			root = convertHTMLNode(&doc.Element, c)
		}
	}
	if root == nil {
		root = doc.CreateElement("html")
	}
	if root.SelectAttr("xmlns") == nil {
		root.CreateAttr("xmlns", nsXHTML)
	}
	if hasXLinkAttr(root) && root.SelectAttr("xmlns:xlink") == nil {
		root.CreateAttr("xmlns:xlink", nsXLink)
	}
	return doc
}

func convertHTMLNode(parent *etree.Element, n *html.Node) *etree.Element {
	switch n.Type {
	case html.TextNode:
		parent.CreateText(n.Data)
		return nil
	case html.CommentNode:
		parent.CreateComment(n.Data)
		return nil
	case html.ElementNode:
	default:
		return nil
	}
	e := parent.CreateElement(n.Data)
	if n.Namespace == "svg" && n.Data == "svg" {
		e.CreateAttr("xmlns", nsSVG)
	}
	for _, a := range n.Attr {
		key := a.Key
		if a.Namespace == "xlink" {
			key = "xlink:" + strings.TrimPrefix(key, "xlink:")
		}
		if strings.ContainsAny(key, " \"'<>=/") {
			continue
		}
		e.CreateAttr(key, a.Val)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		convertHTMLNode(e, c)
	}
	return e
}

func hasXLinkAttr(e *etree.Element) bool {
	for _, a := range e.Attr {
		if a.Space == "xlink" {
			return true
		}
	}
	for _, c := range e.ChildElements() {
		if hasXLinkAttr(c) {
			return true
		}
	}
	return false
}

// serializeXML writes doc with a fresh UTF-8 XML declaration. HTML documents
// get explicit end tags on empty non-void elements so browsers do not
// misparse them.
func serializeXML(doc *etree.Document, pretty, isHTML bool) ([]byte, error) {
	for _, t := range append([]etree.Token(nil), doc.Child...) {
		if pi, ok := t.(*etree.ProcInst); ok && pi.Target == "xml" {
			doc.RemoveChild(pi)
		}
	}
	pi := etree.NewProcInst("xml", `version="1.0" encoding="utf-8"`)
	doc.InsertChildAt(0, pi)
	if pretty {
		doc.Indent(2)
	} else if len(doc.Child) > 1 {
		if _, ok := doc.Child[1].(*etree.CharData); !ok {
			doc.InsertChildAt(1, etree.NewText("\n"))
		}
	}
	if isHTML {
		walkElements(doc.Root(), func(e *etree.Element) bool {
			if len(e.Child) == 0 && !voidElements[e.Tag] {
				e.AddChild(etree.NewText(""))
			}
			return true
		})
	}
	doc.WriteSettings.CanonicalEndTags = false
	return doc.WriteToBytes()
}

// walkElements visits e and its descendants in document order. Returning
// false from fn skips the element's children.
func walkElements(e *etree.Element, fn func(*etree.Element) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range e.ChildElements() {
		walkElements(c, fn)
	}
}

// findElements returns the descendants of e (inclusive) with the given local
// tag whose namespace is one of nss. An empty nss matches any namespace.
func findElements(e *etree.Element, tag string, nss ...string) []*etree.Element {
	var out []*etree.Element
	walkElements(e, func(el *etree.Element) bool {
		if el.Tag == tag && inNamespace(el, nss) {
			out = append(out, el)
		}
		return true
	})
	return out
}

// findElement returns the first match of findElements, or nil.
func findElement(e *etree.Element, tag string, nss ...string) *etree.Element {
	var found *etree.Element
	walkElements(e, func(el *etree.Element) bool {
		if found != nil {
			return false
		}
		if el.Tag == tag && inNamespace(el, nss) {
			found = el
			return false
		}
		return true
	})
	return found
}

func inNamespace(e *etree.Element, nss []string) bool {
	if len(nss) == 0 {
		return true
	}
	uri := e.NamespaceURI()
	for _, ns := range nss {
		if uri == ns {
			return true
		}
	}
	return false
}

// childElement returns the first direct child of e with the given tag.
func childElement(e *etree.Element, tag string) *etree.Element {
	for _, c := range e.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// attrValue returns the value of the unprefixed attribute key, or "".
func attrValue(e *etree.Element, key string) string {
	for _, a := range e.Attr {
		if a.Space == "" && a.Key == key {
			return a.Value
		}
	}
	return ""
}

// setAttrValue sets the unprefixed attribute key, creating it if needed.
func setAttrValue(e *etree.Element, key, value string) {
	for i := range e.Attr {
		if e.Attr[i].Space == "" && e.Attr[i].Key == key {
			e.Attr[i].Value = value
			return
		}
	}
	e.CreateAttr(key, value)
}

// removeAttr removes the unprefixed attribute key if present.
func removeAttr(e *etree.Element, key string) {
	for i := range e.Attr {
		if e.Attr[i].Space == "" && e.Attr[i].Key == key {
			e.Attr = append(e.Attr[:i], e.Attr[i+1:]...)
			return
		}
	}
}

// createChild returns a detached element named tag that uses parent's
// namespace prefix.
func createChild(parent *etree.Element, tag string) *etree.Element {
	el := etree.NewElement(tag)
	el.Space = parent.Space
	return el
}

// formatOPF tidies the package document before it is written: metadata
// children each start on their own line, empty calibre metas are dropped
// and the cover meta lists name before content.
func formatOPF(doc *etree.Document) {
	root := doc.Root()
	if md := findElement(root, "metadata", nsOPF, ""); md != nil {
		var keep []etree.Token
		for _, t := range md.Child {
			switch v := t.(type) {
			case *etree.CharData:
				if strings.TrimSpace(v.Data) == "" {
					continue
				}
			case *etree.Element:
				if strings.HasPrefix(attrValue(v, "name"), "calibre:") {
					if c := strings.TrimSpace(attrValue(v, "content")); c == "" || c == "{}" {
						continue
					}
				}
			}
			keep = append(keep, t)
		}
		for len(md.Child) > 0 {
			md.RemoveChildAt(len(md.Child) - 1)
		}
		for _, t := range keep {
			md.AddChild(etree.NewText("\n    "))
			md.AddChild(t)
		}
		if len(keep) > 0 {
			md.AddChild(etree.NewText("\n  "))
		}
	}
	for _, meta := range findElements(root, "meta", nsOPF, "") {
		if attrValue(meta, "name") != "cover" {
			continue
		}
		if v := meta.SelectAttr("content"); v != nil && v.Space == "" {
			content := v.Value
			removeAttr(meta, "content")
			meta.CreateAttr("content", content)
		}
	}
	if root.Space == "" && root.NamespaceURI() == nsOPF {
		walkElements(root, func(e *etree.Element) bool {
			if e.Space == "opf" {
				e.Space = ""
			}
			return true
		})
	}
}
