package check

import (
	"fmt"

	"github.com/simp-lee/polish"
)

// Manifest cross-checks the package document against the files of the
// book: every manifest item must resolve to an existing file, every spine
// entry to a content document, and every file must be manifested unless
// the format allows otherwise.
func Manifest(c *polish.Container) []Problem {
	opf := c.OPFName()
	var out []Problem
	add := func(level Level, name, format string, args ...any) {
		out = append(out, Problem{Check: "manifest", Level: level, Name: name, Message: fmt.Sprintf(format, args...)})
	}

	manifested := make(map[string]bool)
	for _, item := range c.ManifestItems() {
		switch {
		case item.Name == "":
			add(LevelError, opf, "manifest item %q has a non-local href %q", item.ID, item.Href)
		case !c.HasName(item.Name):
			add(LevelError, opf, "manifest item %q points to missing file %s", item.ID, item.Name)
		default:
			manifested[item.Name] = true
		}
		if item.ID == "" {
			add(LevelError, opf, "manifest item for %q has no id", item.Href)
		}
	}

	idMap := c.ManifestIDMap()
	types := c.ManifestTypeMap()
	for _, ref := range c.SpineIDRefs() {
		name, ok := idMap[ref]
		if !ok {
			add(LevelError, opf, "spine item %q is not in the manifest", ref)
			continue
		}
		if !polish.IsDocType(types[name]) {
			add(LevelError, opf, "spine item %s is not a content document (%s)", name, types[name])
		}
	}

	for _, name := range c.Names() {
		if name == opf || manifested[name] || c.OKToBeUnmanifested(name) {
			continue
		}
		add(LevelWarn, name, "file is not listed in the manifest")
	}
	return out
}
