package polish

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// AddOptions controls AddFile.
type AddOptions struct {
	// MediaType overrides the type guessed from the file extension.
	MediaType string

	// SpineIndex is the position of the new spine itemref for content
	// documents. Nil appends.
	SpineIndex *int

	// ModifyNameIfNeeded picks a unique name instead of failing with
	// ErrNameConflict when the name or its href is taken.
	ModifyNameIfNeeded bool

	// SuggestedID is the preferred manifest id.
	SuggestedID string
}

func (c *Container) opfChild(tag string) *etree.Element {
	root := c.opfRoot()
	if root == nil {
		return nil
	}
	return findElement(root, tag, nsOPF, "")
}

// manifestItemElements returns the <item> elements of the manifest.
func (c *Container) manifestItemElements() []*etree.Element {
	m := c.opfChild("manifest")
	if m == nil {
		return nil
	}
	var out []*etree.Element
	for _, e := range m.ChildElements() {
		if e.Tag == "item" {
			out = append(out, e)
		}
	}
	return out
}

func (c *Container) itemFromElement(e *etree.Element) ManifestItem {
	href := attrValue(e, "href")
	item := ManifestItem{
		ID:         attrValue(e, "id"),
		Href:       href,
		MediaType:  attrValue(e, "media-type"),
		Properties: strings.Fields(attrValue(e, "properties")),
	}
	if href != "" {
		if name, ok := c.HrefToName(href, c.opfName); ok {
			item.Name = name
		}
	}
	return item
}

// ManifestItems returns the manifest entries in document order.
func (c *Container) ManifestItems() []ManifestItem {
	elems := c.manifestItemElements()
	out := make([]ManifestItem, 0, len(elems))
	for _, e := range elems {
		out = append(out, c.itemFromElement(e))
	}
	return out
}

// ManifestIDMap maps manifest ids to names.
func (c *Container) ManifestIDMap() map[string]string {
	out := make(map[string]string)
	for _, item := range c.ManifestItems() {
		if item.ID != "" && item.Name != "" {
			out[item.ID] = item.Name
		}
	}
	return out
}

// ManifestTypeMap maps manifest names to their declared media types.
func (c *Container) ManifestTypeMap() map[string]string {
	out := make(map[string]string)
	for _, item := range c.ManifestItems() {
		if item.Name != "" && item.MediaType != "" {
			out[item.Name] = item.MediaType
		}
	}
	return out
}

// ManifestHasName reports whether some manifest item resolves to name.
func (c *Container) ManifestHasName(name string) bool {
	for _, item := range c.ManifestItems() {
		if item.Name == name {
			return true
		}
	}
	return false
}

// ManifestItemsOfType returns the names of manifest items whose media type
// satisfies pred.
func (c *Container) ManifestItemsOfType(pred func(mediaType string) bool) []string {
	var out []string
	for _, item := range c.ManifestItems() {
		if item.Name != "" && pred(item.MediaType) {
			out = append(out, item.Name)
		}
	}
	return out
}

// ManifestItemsWithProperty returns the names of manifest items carrying
// the given property, compared case-insensitively.
func (c *Container) ManifestItemsWithProperty(prop string) []string {
	var out []string
	for _, item := range c.ManifestItems() {
		for _, p := range item.Properties {
			if strings.EqualFold(p, prop) && item.Name != "" {
				out = append(out, item.Name)
				break
			}
		}
	}
	return out
}

// AddProperties adds props to the manifest item for name. It reports
// whether such an item exists.
func (c *Container) AddProperties(name string, props ...string) bool {
	if len(props) == 0 {
		return true
	}
	for _, e := range c.manifestItemElements() {
		if n, ok := c.HrefToName(attrValue(e, "href"), c.opfName); !ok || n != name {
			continue
		}
		cur := strings.Fields(attrValue(e, "properties"))
		for _, p := range props {
			if !slices.Contains(cur, p) {
				cur = append(cur, p)
			}
		}
		setAttrValue(e, "properties", strings.Join(cur, " "))
		c.Dirty(c.opfName)
		return true
	}
	return false
}

// ApplyUniqueProperties makes name the only manifest item carrying props.
// An empty name removes the properties from every item. It returns the
// names that lost and gained a property.
func (c *Container) ApplyUniqueProperties(name string, props ...string) (removed, added []string) {
	for _, e := range c.manifestItemElements() {
		iname, _ := c.HrefToName(attrValue(e, "href"), c.opfName)
		cur := strings.Fields(attrValue(e, "properties"))
		for _, prop := range props {
			has := slices.ContainsFunc(cur, func(p string) bool { return strings.EqualFold(p, prop) })
			switch {
			case has && iname != name:
				removed = append(removed, iname)
				cur = slices.DeleteFunc(cur, func(p string) bool { return strings.EqualFold(p, prop) })
			case !has && iname == name:
				added = append(added, iname)
				cur = append(cur, prop)
			default:
				continue
			}
			if len(cur) > 0 {
				setAttrValue(e, "properties", strings.Join(cur, " "))
			} else {
				removeAttr(e, "properties")
			}
		}
	}
	c.Dirty(c.opfName)
	return removed, added
}

// GuideTypeMap maps guide reference types to names.
func (c *Container) GuideTypeMap() map[string]string {
	out := make(map[string]string)
	g := c.opfChild("guide")
	if g == nil {
		return out
	}
	for _, ref := range g.ChildElements() {
		if ref.Tag != "reference" {
			continue
		}
		typ, href := attrValue(ref, "type"), attrValue(ref, "href")
		if typ == "" || href == "" {
			continue
		}
		if name, ok := c.HrefToName(href, c.opfName); ok {
			out[typ] = name
		}
	}
	return out
}

type spineRef struct {
	elem   *etree.Element
	name   string
	linear bool
}

// spineRefs returns the resolvable itemrefs, linear items first.
func (c *Container) spineRefs() []spineRef {
	spine := c.opfChild("spine")
	if spine == nil {
		return nil
	}
	ids := c.ManifestIDMap()
	var linear, nonLinear []spineRef
	for _, e := range spine.ChildElements() {
		if e.Tag != "itemref" {
			continue
		}
		name, ok := ids[attrValue(e, "idref")]
		if !ok || !c.HasName(name) {
			continue
		}
		if v := attrValue(e, "linear"); v == "" || v == "yes" {
			linear = append(linear, spineRef{elem: e, name: name, linear: true})
		} else {
			nonLinear = append(nonLinear, spineRef{elem: e, name: name})
		}
	}
	return append(linear, nonLinear...)
}

// SpineItems returns the reading order: linear items in spine order
// followed by non-linear ones.
func (c *Container) SpineItems() []SpineItem {
	refs := c.spineRefs()
	out := make([]SpineItem, len(refs))
	for i, r := range refs {
		out[i] = SpineItem{Name: r.name, Linear: r.linear}
	}
	return out
}

// SpineNames returns the names of SpineItems.
func (c *Container) SpineNames() []string {
	refs := c.spineRefs()
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.name
	}
	return out
}

// SpineIDRefs returns the idref of every itemref in document order,
// including ones that do not resolve.
func (c *Container) SpineIDRefs() []string {
	spine := c.opfChild("spine")
	if spine == nil {
		return nil
	}
	var out []string
	for _, e := range spine.ChildElements() {
		if e.Tag == "itemref" {
			out = append(out, attrValue(e, "idref"))
		}
	}
	return out
}

// IndexInSpine returns the position of name among the spine itemrefs, or
// -1.
func (c *Container) IndexInSpine(name string) int {
	spine := c.opfChild("spine")
	if spine == nil {
		return -1
	}
	ids := c.ManifestIDMap()
	i := 0
	for _, e := range spine.ChildElements() {
		if e.Tag != "itemref" {
			continue
		}
		if ids[attrValue(e, "idref")] == name {
			return i
		}
		i++
	}
	return -1
}

// SetSpine replaces the spine with items. Every name must have a manifest
// item; otherwise the spine is left untouched and ErrNotInManifest is
// returned.
func (c *Container) SetSpine(items []SpineItem) error {
	spine := c.opfChild("spine")
	if spine == nil {
		return fmt.Errorf("polish: set spine: %w: OPF has no <spine>", ErrInvalidBook)
	}
	byName := make(map[string]string)
	for id, name := range c.ManifestIDMap() {
		byName[name] = id
	}
	for _, it := range items {
		if _, ok := byName[it.Name]; !ok {
			return fmt.Errorf("polish: set spine %s: %w", it.Name, ErrNotInManifest)
		}
	}
	for _, e := range spine.ChildElements() {
		if e.Tag == "itemref" {
			removeFromXML(e)
		}
	}
	for _, it := range items {
		ref := createChild(spine, "itemref")
		ref.CreateAttr("idref", byName[it.Name])
		if !it.Linear {
			ref.CreateAttr("linear", "no")
		}
		insertIntoXML(spine, ref, -1)
	}
	c.Dirty(c.opfName)
	return nil
}

// RemoveFromSpine drops the itemrefs for names. With removeFromBook, names
// no longer referenced by the spine are removed from the book as well.
func (c *Container) RemoveFromSpine(names []string, removeFromBook bool) error {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	nixed := make(map[string]bool)
	for _, r := range c.spineRefs() {
		if drop[r.name] {
			removeFromXML(r.elem)
			nixed[r.name] = true
		}
	}
	if len(nixed) > 0 {
		c.Dirty(c.opfName)
	}
	if !removeFromBook {
		return nil
	}
	for _, n := range c.SpineNames() {
		delete(nixed, n)
	}
	for _, n := range sortedKeys(nixed) {
		if err := c.RemoveItem(n, true); err != nil {
			return err
		}
	}
	return nil
}

// allIDs returns every id attribute value in the OPF.
func (c *Container) allIDs() map[string]bool {
	ids := make(map[string]bool)
	walkElements(c.opfRoot(), func(e *etree.Element) bool {
		if id := attrValue(e, "id"); id != "" {
			ids[id] = true
		}
		return true
	})
	return ids
}

func uniqueID(prefix string, taken map[string]bool) string {
	id := prefix
	for i := 1; taken[id]; i++ {
		id = prefix + strconv.Itoa(i)
	}
	return id
}

// AddNameToManifest adds a manifest item for an existing name and returns
// its id. The id is suggestedID (or "id") with a numeric suffix appended
// until it is unused.
func (c *Container) AddNameToManifest(name, suggestedID string) (string, error) {
	manifest := c.opfChild("manifest")
	if manifest == nil {
		return "", fmt.Errorf("polish: add %s to manifest: %w: OPF has no <manifest>", name, ErrInvalidBook)
	}
	if suggestedID == "" {
		suggestedID = "id"
	}
	id := uniqueID(suggestedID, c.allIDs())
	item := createChild(manifest, "item")
	item.CreateAttr("id", id)
	item.CreateAttr("href", c.NameToHref(name, c.opfName))
	item.CreateAttr("media-type", c.mimeOf(name))
	insertIntoXML(manifest, item, -1)
	c.Dirty(c.opfName)
	return id, nil
}

// GenerateItem adds a manifest item for name, creating an empty file for it
// if none exists. With uniqueHref the name is first made unique.
func (c *Container) GenerateItem(name, idPrefix, mediaType string, uniqueHref bool) (ManifestItem, error) {
	if !validName(name) {
		return ManifestItem{}, fmt.Errorf("polish: generate item %q: %w", name, ErrInvalidName)
	}
	manifest := c.opfChild("manifest")
	if manifest == nil {
		return ManifestItem{}, fmt.Errorf("polish: generate item: %w: OPF has no <manifest>", ErrInvalidBook)
	}
	if idPrefix == "" {
		idPrefix = "id"
	}
	if mediaType == "" {
		mediaType = c.GuessType(name)
	}
	if uniqueHref {
		name = c.MakeNameUnique(name)
	}
	taken := c.allIDs()
	if strings.HasSuffix(idPrefix, "-") {
		taken[idPrefix] = true
	}
	id := uniqueID(idPrefix, taken)
	href := c.NameToHref(name, c.opfName)
	item := createChild(manifest, "item")
	item.CreateAttr("id", id)
	item.CreateAttr("href", href)
	item.CreateAttr("media-type", mediaType)
	insertIntoXML(manifest, item, -1)
	c.Dirty(c.opfName)

	p := c.NameToPath(name)
	c.namePath[name] = p
	c.mimeMap[name] = mediaType
	if _, err := os.Stat(p); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return ManifestItem{}, err
		}
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			return ManifestItem{}, err
		}
	}
	return ManifestItem{ID: id, Href: href, Name: name, MediaType: mediaType}, nil
}

var counterSuffix = regexp.MustCompile(`-\d+$`)

// MakeNameUnique returns name, or name with a "-N" counter inserted before
// the extension, such that it collides with no existing file (ignoring
// case) and no manifest item. An existing counter is replaced rather than
// extended, so names never grow "-1-1".
func (c *Container) MakeNameUnique(name string) string {
	if !c.nameTaken(name) {
		return name
	}
	dir, file := path.Split(name)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if stripped := counterSuffix.ReplaceAllString(base, ""); stripped != "" {
		base = stripped
	}
	for i := 1; ; i++ {
		candidate := dir + base + "-" + strconv.Itoa(i) + ext
		if !c.nameTaken(candidate) {
			return candidate
		}
	}
}

func (c *Container) nameTaken(name string) bool {
	return c.HasNameCaseInsensitive(name) || c.ManifestHasName(name)
}

// manifestHasHref reports whether some manifest item has exactly href.
func (c *Container) manifestHasHref(href string) bool {
	for _, e := range c.manifestItemElements() {
		if attrValue(e, "href") == href {
			return true
		}
	}
	return false
}

// AddFile writes data as a new file and registers it in the manifest (and
// spine, for content documents). It returns the name actually used, which
// differs from name only when opts.ModifyNameIfNeeded resolved a conflict.
func (c *Container) AddFile(name string, data []byte, opts AddOptions) (string, error) {
	return c.AddFileFrom(name, bytes.NewReader(data), opts)
}

// AddFileFrom is AddFile with the content streamed from r.
func (c *Container) AddFileFrom(name string, r io.Reader, opts AddOptions) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("polish: add %q: %w", name, ErrInvalidName)
	}
	href := c.NameToHref(name, c.opfName)
	if c.HasNameCaseInsensitive(name) || c.manifestHasHref(href) {
		if !opts.ModifyNameIfNeeded {
			if c.HasNameCaseInsensitive(name) {
				return "", fmt.Errorf("polish: a file named %s already exists: %w", name, ErrNameConflict)
			}
			return "", fmt.Errorf("polish: a manifest item with href %s already exists: %w", href, ErrNameConflict)
		}
		name = c.MakeNameUnique(name)
	}

	p := c.NameToPath(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("polish: add %s: %w", name, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("polish: add %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return "", fmt.Errorf("polish: add %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("polish: add %s: %w", name, err)
	}

	mt := opts.MediaType
	if mt == "" {
		mt = c.GuessType(name)
	}
	c.namePath[name] = p
	c.mimeMap[name] = mt
	if c.OKToBeUnmanifested(name) {
		return name, nil
	}
	id, err := c.AddNameToManifest(name, opts.SuggestedID)
	if err != nil {
		return "", err
	}
	if IsDocType(mt) {
		if spine := c.opfChild("spine"); spine != nil {
			ref := createChild(spine, "itemref")
			ref.CreateAttr("idref", id)
			index := -1
			if opts.SpineIndex != nil {
				index = *opts.SpineIndex
			}
			insertIntoXML(spine, ref, index)
		}
	}
	return name, nil
}

// RemoveItem removes name from the book: its manifest item, spine
// itemrefs, the cover meta and refining metas pointing at its id,
// optionally guide references, and the file itself. Removing a name that
// does not exist is not an error.
func (c *Container) RemoveItem(name string, removeFromGuide bool) error {
	if c.NamesThatMustNotBeRemoved()[name] {
		return fmt.Errorf("polish: remove %s: %w", name, ErrRemoveNotAllowed)
	}
	if c.format == FormatEPUB || c.format == FormatKEPUB {
		c.forgetObfuscatedFont(name)
	}

	removed := make(map[string]bool)
	for _, e := range c.manifestItemElements() {
		n, ok := c.HrefToName(attrValue(e, "href"), c.opfName)
		if !ok || n != name {
			continue
		}
		if id := attrValue(e, "id"); id != "" {
			removed[id] = true
		}
		removeFromXML(e)
		c.Dirty(c.opfName)
	}
	if len(removed) > 0 {
		c.removeIDReferences(removed)
	}
	if removeFromGuide {
		if g := c.opfChild("guide"); g != nil {
			for _, ref := range g.ChildElements() {
				if n, ok := c.HrefToName(attrValue(ref, "href"), c.opfName); ok && n == name {
					removeFromXML(ref)
					c.Dirty(c.opfName)
				}
			}
		}
	}

	if p, ok := c.namePath[name]; ok {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("polish: remove %s: %w", name, err)
		}
	}
	delete(c.namePath, name)
	delete(c.mimeMap, name)
	delete(c.parsedCache, name)
	delete(c.dirtied, name)
	delete(c.prettyPrint, name)
	return nil
}

// removeIDReferences drops spine, cover and refines references to ids.
func (c *Container) removeIDReferences(ids map[string]bool) {
	root := c.opfRoot()
	if spine := c.opfChild("spine"); spine != nil {
		if toc := attrValue(spine, "toc"); toc != "" && ids[toc] {
			removeAttr(spine, "toc")
		}
		for _, ref := range spine.ChildElements() {
			if ref.Tag == "itemref" && ids[attrValue(ref, "idref")] {
				removeFromXML(ref)
			}
		}
	}
	for _, meta := range findElements(root, "meta", nsOPF, "") {
		if attrValue(meta, "name") == "cover" && ids[attrValue(meta, "content")] {
			removeFromXML(meta)
			continue
		}
		if ref := attrValue(meta, "refines"); strings.HasPrefix(ref, "#") && ids[ref[1:]] {
			removeFromXML(meta)
		}
	}
	c.Dirty(c.opfName)
}

// OPFGetOrCreate returns the first OPF element with the given tag,
// creating it under <package> when missing.
func (c *Container) OPFGetOrCreate(tag string) (*etree.Element, error) {
	root := c.opfRoot()
	if root == nil {
		return nil, fmt.Errorf("polish: %w: OPF not available", ErrInvalidBook)
	}
	if e := findElement(root, tag, nsOPF, ""); e != nil {
		return e, nil
	}
	e := createChild(root, tag)
	insertIntoXML(root, e, -1)
	c.Dirty(c.opfName)
	return e, nil
}

// SetMediaOverlayDurations replaces the media:duration metadata with one
// entry per media overlay id plus a total.
func (c *Container) SetMediaOverlayDurations(durations map[string]float64) error {
	md := c.opfChild("metadata")
	if md == nil {
		return fmt.Errorf("polish: %w: OPF has no <metadata>", ErrInvalidBook)
	}
	for _, meta := range findElements(md, "meta", nsOPF, "") {
		if attrValue(meta, "property") == "media:duration" {
			removeFromXML(meta)
		}
	}
	total := 0.0
	for _, id := range sortedKeys(durations) {
		meta := createChild(md, "meta")
		meta.CreateAttr("property", "media:duration")
		meta.CreateAttr("refines", "#"+id)
		meta.SetText(secondsToTimestamp(durations[id]))
		insertIntoXML(md, meta, -1)
		total += durations[id]
	}
	if len(durations) > 0 {
		meta := createChild(md, "meta")
		meta.CreateAttr("property", "media:duration")
		meta.SetText(secondsToTimestamp(total))
		insertIntoXML(md, meta, -1)
	}
	c.Dirty(c.opfName)
	return nil
}

// secondsToTimestamp formats a duration as HH:MM:SS with an optional
// fractional part.
func secondsToTimestamp(d float64) string {
	whole := math.Floor(d)
	frac := d - whole
	secs := int64(whole)
	ans := fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
	if frac > 0 {
		ans += strings.TrimPrefix(strconv.FormatFloat(frac, 'f', -1, 64), "0")
	}
	return ans
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
