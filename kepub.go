package polish

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Markup added to content documents by the Kobo conversion.
const (
	koboSpanClass  = "koboSpan"
	koboOuterID    = "book-columns"
	koboInnerID    = "book-inner"
	koboStyleHacks = "kobostylehacks"
	koboStyleCSS   = "div#book-inner { margin-top: 0; margin-bottom: 0; }"
	koboScriptName = "kobo.js"
)

// Text inside these elements is never split into kobo spans.
var koboSkipTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Pre: true, atom.Audio: true,
	atom.Video: true, atom.Svg: true, atom.Math: true, atom.Textarea: true,
	atom.Title: true, atom.Head: true, atom.Noscript: true,
}

// sentenceEnd matches the end of a sentence including trailing closing
// punctuation and whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?…]+['"”’)\]]*\s+`)

// hasKoboMarkup is a cheap pre-check on the raw text of a document.
func hasKoboMarkup(text string) bool {
	return strings.Contains(text, koboSpanClass) ||
		strings.Contains(text, koboOuterID) ||
		strings.Contains(text, koboStyleHacks) ||
		strings.Contains(text, koboScriptName)
}

// transformDocument re-parses the content document name with the HTML5
// parser, applies fn and stores the result if fn reports a change.
func (c *Container) transformDocument(name string, fn func(*goquery.Document) bool) error {
	text, err := c.RawText(name)
	if err != nil {
		return err
	}
	node, err := html.Parse(strings.NewReader(stripXMLDeclaration(text)))
	if err != nil {
		return fmt.Errorf("polish: parse %s: %w", name, err)
	}
	if !fn(goquery.NewDocumentFromNode(node)) {
		return nil
	}
	return c.Replace(name, htmlToEtree(node))
}

// unkepubify strips Kobo markup from every content document so the book
// can be edited as a plain EPUB.
func (c *Container) unkepubify() error {
	for _, name := range c.ManifestItemsOfType(IsDocType) {
		if !c.HasName(name) {
			continue
		}
		text, err := c.RawText(name)
		if err != nil {
			return err
		}
		if !hasKoboMarkup(text) {
			continue
		}
		if err := c.transformDocument(name, unkepubifyDocument); err != nil {
			return err
		}
	}
	return nil
}

// kepubify adds Kobo markup to every content document.
func (c *Container) kepubify() error {
	for _, name := range c.ManifestItemsOfType(IsDocType) {
		if !c.HasName(name) {
			continue
		}
		if err := c.transformDocument(name, kepubifyDocument); err != nil {
			return err
		}
	}
	return nil
}

// commitKEPUB writes a KEPUB archive. Editing happens on plain EPUB markup,
// so the book is cloned, the clone converted and the clone committed.
func (c *Container) commitKEPUB(outPath string) error {
	tdir, err := os.MkdirTemp(c.tempDir, "polish-kepub-")
	if err != nil {
		return fmt.Errorf("polish: create working directory: %w", err)
	}
	defer os.RemoveAll(tdir)
	clone, err := c.cloneAs(tdir, FormatEPUB)
	if err != nil {
		return err
	}
	if err := clone.kepubify(); err != nil {
		return err
	}
	return clone.commitEPUB(outPath, false)
}

// kepubifyDocument wraps sentences in kobo spans, wraps the body content in
// the book-columns and book-inner divs and adds the style hacks. Documents
// that already carry kobo spans are left alone.
func kepubifyDocument(doc *goquery.Document) bool {
	if doc.Find("span." + koboSpanClass).Length() > 0 {
		return false
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return false
	}
	s := &koboSpanner{}
	for _, n := range body.Nodes {
		s.walk(n)
	}
	for _, b := range body.Nodes {
		wrapBodyContent(b)
	}
	head := doc.Find("head").First()
	if head.Length() > 0 && head.Find("style."+koboStyleHacks).Length() == 0 {
		style := newElement(atom.Style, html.Attribute{Key: "type", Val: "text/css"}, html.Attribute{Key: "class", Val: koboStyleHacks})
		style.AppendChild(&html.Node{Type: html.TextNode, Data: koboStyleCSS})
		head.Nodes[0].AppendChild(style)
	}
	return true
}

// wrapBodyContent moves every child of body into the book-columns and
// book-inner divs.
func wrapBodyContent(body *html.Node) {
	outer := newElement(atom.Div, html.Attribute{Key: "id", Val: koboOuterID})
	inner := newElement(atom.Div, html.Attribute{Key: "id", Val: koboInnerID})
	outer.AppendChild(inner)
	for c := body.FirstChild; c != nil; {
		next := c.NextSibling
		body.RemoveChild(c)
		inner.AppendChild(c)
		c = next
	}
	body.AppendChild(outer)
}

func newElement(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

// koboSpanner numbers spans kobo.P.S, where P counts text containers and S
// counts segments within one container.
type koboSpanner struct {
	para, seg  int
	lastParent *html.Node
}

func (s *koboSpanner) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				s.wrapText(c)
			}
		case html.ElementNode:
			switch {
			case koboSkipTags[c.DataAtom]:
			case c.DataAtom == atom.Img:
				s.para++
				s.seg = 0
				s.lastParent = nil
				span := s.newSpan()
				n.InsertBefore(span, c)
				n.RemoveChild(c)
				span.AppendChild(c)
			default:
				s.walk(c)
			}
		}
		c = next
	}
}

func (s *koboSpanner) newSpan() *html.Node {
	s.seg++
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr: []html.Attribute{
			{Key: "class", Val: koboSpanClass},
			{Key: "id", Val: fmt.Sprintf("kobo.%d.%d", s.para, s.seg)},
		},
	}
}

// wrapText replaces the text node t with one span per sentence.
func (s *koboSpanner) wrapText(t *html.Node) {
	parent := t.Parent
	if parent != s.lastParent {
		s.para++
		s.seg = 0
		s.lastParent = parent
	}
	for _, seg := range splitSentences(t.Data) {
		span := s.newSpan()
		span.AppendChild(&html.Node{Type: html.TextNode, Data: seg})
		parent.InsertBefore(span, t)
	}
	parent.RemoveChild(t)
}

// splitSentences splits text after each sentence end, keeping the
// whitespace with the preceding sentence.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if m[1] < len(text) {
			out = append(out, text[start:m[1]])
			start = m[1]
		}
	}
	return append(out, text[start:])
}

// unkepubifyDocument removes everything kepubifyDocument adds, plus the
// Kobo reader script. It reports whether anything changed.
func unkepubifyDocument(doc *goquery.Document) bool {
	changed := false
	unwrap := func(sel *goquery.Selection) {
		sel.Each(func(_ int, s *goquery.Selection) {
			changed = true
			if s.Contents().Length() == 0 {
				s.Remove()
				return
			}
			s.Contents().Unwrap()
		})
	}
	unwrap(doc.Find("span." + koboSpanClass))
	unwrap(doc.Find("div#" + koboInnerID))
	unwrap(doc.Find("div#" + koboOuterID))

	extra := doc.Find("style." + koboStyleHacks + ", style#" + koboStyleHacks + `, script[src$="` + koboScriptName + `"]`)
	if extra.Length() > 0 {
		changed = true
		extra.Remove()
	}
	if changed {
		for _, n := range doc.Nodes {
			mergeTextNodes(n)
		}
	}
	return changed
}

// mergeTextNodes joins adjacent text nodes left behind by unwrapping.
func mergeTextNodes(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		for c.Type == html.TextNode && c.NextSibling != nil && c.NextSibling.Type == html.TextNode {
			next := c.NextSibling
			c.Data += next.Data
			n.RemoveChild(next)
		}
		if c.Type == html.ElementNode {
			mergeTextNodes(c)
		}
	}
}
