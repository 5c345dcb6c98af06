package polish

import (
	"strings"

	"github.com/beevik/etree"
)

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

// precedingWhitespace returns the whitespace text token directly before e,
// or nil.
func precedingWhitespace(e *etree.Element) *etree.CharData {
	p := e.Parent()
	if p == nil {
		return nil
	}
	idx := e.Index()
	if idx <= 0 {
		return nil
	}
	if cd, ok := p.Child[idx-1].(*etree.CharData); ok && isBlank(cd.Data) {
		return cd
	}
	return nil
}

// insertIntoXML inserts item as the index-th child element of parent
// (appending when index is negative or past the end), copying the
// indentation of its siblings.
func insertIntoXML(parent, item *etree.Element, index int) {
	elems := parent.ChildElements()
	if index < 0 || index > len(elems) {
		index = len(elems)
	}
	if len(elems) == 0 {
		outer := ""
		if ws := precedingWhitespace(parent); ws != nil {
			outer = ws.Data
		}
		for i := len(parent.Child) - 1; i >= 0; i-- {
			if cd, ok := parent.Child[i].(*etree.CharData); ok && isBlank(cd.Data) {
				parent.RemoveChildAt(i)
			}
		}
		if outer != "" {
			parent.AddChild(etree.NewText(outer + "  "))
		}
		parent.AddChild(item)
		if outer != "" {
			parent.AddChild(etree.NewText(outer))
		}
		return
	}

	indent := ""
	if ws := precedingWhitespace(elems[0]); ws != nil {
		indent = ws.Data
	}
	if index < len(elems) {
		pos := elems[index].Index()
		parent.InsertChildAt(pos, item)
		if indent != "" {
			parent.InsertChildAt(pos+1, etree.NewText(indent))
		}
		return
	}
	n := len(parent.Child)
	if cd, ok := parent.Child[n-1].(*etree.CharData); ok && isBlank(cd.Data) {
		parent.InsertChildAt(n-1, item)
		if indent != "" {
			parent.InsertChildAt(n-1, etree.NewText(indent))
		}
		return
	}
	if indent != "" {
		parent.AddChild(etree.NewText(indent))
	}
	parent.AddChild(item)
}

// removeFromXML detaches item from its parent together with the
// whitespace that precedes it.
func removeFromXML(item *etree.Element) {
	p := item.Parent()
	if p == nil {
		return
	}
	if ws := precedingWhitespace(item); ws != nil {
		p.RemoveChild(ws)
	}
	p.RemoveChild(item)
}
