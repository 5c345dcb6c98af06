package polish

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// Metadata returns a read-only view of the package metadata, reflecting
// unsaved edits to the OPF.
func (c *Container) Metadata() (Metadata, error) {
	pv, err := c.packageSnapshot()
	if err != nil {
		return Metadata{}, err
	}
	return extractMetadata(pv), nil
}

func extractMetadata(pv *packageView) Metadata {
	return Metadata{
		Version:          pv.version(),
		Titles:           pv.titles(),
		Authors:          pv.authors(),
		Language:         pv.values("language"),
		Identifiers:      pv.identifiers(),
		UniqueIdentifier: pv.uniqueIdentifierValue(),
		Publisher:        pv.first("publisher"),
		Date:             pv.first("date"),
		Modified:         pv.modified(),
		Description:      pv.first("description"),
		Subjects:         pv.values("subject"),
		Rights:           pv.first("rights"),
		Source:           pv.first("source"),
	}
}

// titles returns the dc:title values. When any title carries a display-seq
// refinement, sequenced titles come first in sequence order and the rest
// keep document order after them.
func (pv *packageView) titles() []string {
	type entry struct {
		value string
		seq   int
	}
	var entries []entry
	sequenced := false
	for _, e := range pv.dc("title") {
		v := strings.TrimSpace(textOf(e))
		if v == "" {
			continue
		}
		ent := entry{value: v}
		if n, err := strconv.Atoi(pv.refinement(attrValue(e, "id"), "display-seq")); err == nil && n > 0 {
			ent.seq = n
			sequenced = true
		}
		entries = append(entries, ent)
	}
	if len(entries) == 0 {
		return nil
	}
	if sequenced {
		slices.SortStableFunc(entries, func(a, b entry) int {
			switch {
			case a.seq == 0 && b.seq == 0:
				return 0
			case a.seq == 0:
				return 1
			case b.seq == 0:
				return -1
			}
			return cmp.Compare(a.seq, b.seq)
		})
	}
	out := make([]string, len(entries))
	for i, ent := range entries {
		out[i] = ent.value
	}
	return out
}

// authors returns the dc:creator entries. EPUB 2 books carry file-as and
// role as opf: attributes; EPUB 3 books refine the creator by id instead.
func (pv *packageView) authors() []Author {
	var out []Author
	for _, e := range pv.dc("creator") {
		name := strings.TrimSpace(textOf(e))
		if name == "" {
			continue
		}
		id := attrValue(e, "id")
		out = append(out, Author{
			Name:   name,
			FileAs: cmp.Or(opfAttr(e, "file-as"), pv.refinement(id, "file-as")),
			Role:   cmp.Or(opfAttr(e, "role"), pv.refinement(id, "role")),
		})
	}
	return out
}

func (pv *packageView) identifiers() []Identifier {
	var out []Identifier
	for _, e := range pv.dc("identifier") {
		v := strings.TrimSpace(textOf(e))
		if v == "" {
			continue
		}
		id := attrValue(e, "id")
		out = append(out, Identifier{
			Value:  v,
			Scheme: cmp.Or(opfAttr(e, "scheme"), pv.refinement(id, "identifier-type")),
			ID:     id,
		})
	}
	return out
}

// modified returns the package-level dcterms:modified value.
func (pv *packageView) modified() string {
	if pv.metadata == nil {
		return ""
	}
	for _, m := range findElements(pv.metadata, "meta", nsOPF, "") {
		if attrValue(m, "property") == "dcterms:modified" && attrValue(m, "refines") == "" {
			return strings.TrimSpace(textOf(m))
		}
	}
	return ""
}

// uniqueIdentifierValue returns the text of the identifier named by the
// package's unique-identifier attribute.
func (pv *packageView) uniqueIdentifierValue() string {
	uid := pv.uniqueIdentifier()
	if uid == "" {
		return ""
	}
	for _, e := range pv.dc("identifier") {
		if attrValue(e, "id") == uid {
			return strings.TrimSpace(textOf(e))
		}
	}
	return ""
}
