package polish

import (
	"bytes"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CoverName returns the name of the cover image. Strategies are tried in
// priority order:
//  1. EPUB 3 manifest item with properties="cover-image"
//  2. EPUB 2 <meta name="cover" content="ID"/> → manifest lookup
//  3. <guide> reference type="cover" → first image of that page
//  4. Manifest image whose ID or href contains "cover"
//  5. First image of the first spine item
//
// Returns ErrNoCover if no strategy succeeds.
func (c *Container) CoverName() (string, error) {
	items := c.ManifestItems()
	strategies := []func([]ManifestItem) string{
		c.coverFromManifestProperties,
		c.coverFromMetaCover,
		c.coverFromGuide,
		c.coverFromManifestHeuristic,
		c.coverFromFirstSpine,
	}
	for _, find := range strategies {
		if name := find(items); name != "" && c.HasName(name) {
			return name, nil
		}
	}
	return "", ErrNoCover
}

func (c *Container) coverFromManifestProperties(items []ManifestItem) string {
	for _, item := range items {
		if slices.Contains(item.Properties, "cover-image") {
			return item.Name
		}
	}
	return ""
}

// coverFromMetaCover resolves <meta name="cover" content="ID"/>. A non-image
// target is treated as a cover page and its first image is used.
func (c *Container) coverFromMetaCover(items []ManifestItem) string {
	md := c.opfChild("metadata")
	if md == nil {
		return ""
	}
	for _, m := range findElements(md, "meta", nsOPF, "") {
		if !strings.EqualFold(attrValue(m, "name"), "cover") || attrValue(m, "content") == "" {
			continue
		}
		id := attrValue(m, "content")
		for _, item := range items {
			if item.ID != id || item.Name == "" {
				continue
			}
			if isImageMediaType(item.MediaType) {
				return item.Name
			}
			if img := c.firstImageIn(item.Name); img != "" {
				return img
			}
		}
	}
	return ""
}

func (c *Container) coverFromGuide([]ManifestItem) string {
	names := c.GuideTypeMap()
	for typ, name := range names {
		if strings.EqualFold(typ, "cover") {
			if img := c.firstImageIn(name); img != "" {
				return img
			}
		}
	}
	return ""
}

func (c *Container) coverFromManifestHeuristic(items []ManifestItem) string {
	for _, item := range items {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		if containsFold(item.ID, "cover") || containsFold(item.Href, "cover") {
			return item.Name
		}
	}
	return ""
}

func (c *Container) coverFromFirstSpine([]ManifestItem) string {
	spine := c.SpineNames()
	if len(spine) == 0 {
		return ""
	}
	return c.firstImageIn(spine[0])
}

// firstImageIn returns the name of the first <img> or SVG <image> in the
// content document name, or "" if there is none.
func (c *Container) firstImageIn(name string) string {
	if !c.HasName(name) || !IsDocType(c.mimeOf(name)) {
		return ""
	}
	data, err := c.RawData(name)
	if err != nil {
		return ""
	}
	href := findFirstImageInHTML(data)
	if href == "" {
		return ""
	}
	img, ok := c.HrefToName(href, name)
	if !ok {
		return ""
	}
	return img
}

// findFirstImageInHTML returns the raw src of the first <img> element, or
// the href of the first SVG <image>.
func findFirstImageInHTML(htmlData []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlData))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if !hasAttr {
				continue
			}
			a := atom.Lookup(tn)
			if a != atom.Img && a != atom.Image {
				continue
			}
			for {
				key, val, more := tokenizer.TagAttr()
				k := string(key)
				if a == atom.Img && k == "src" && len(val) > 0 {
					return string(val)
				}
				if a == atom.Image && (k == "href" || k == "xlink:href") && len(val) > 0 {
					return string(val)
				}
				if !more {
					break
				}
			}
		}
	}
}

// isImageMediaType returns true if the media type starts with "image/".
func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
