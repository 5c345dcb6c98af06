package polish

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

// containerXML models the META-INF/container.xml file used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

// rootFile represents a single <rootfile> element inside container.xml.
type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// locateOPF reads container.xml under root and returns the filesystem path
// of the package document it declares. Only rootfiles with the OPF media
// type and a full-path are considered; the first one wins.
func locateOPF(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "META-INF", "container.xml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: no META-INF/container.xml in epub", ErrInvalidEPub)
		}
		return "", fmt.Errorf("polish: read container.xml: %w", err)
	}
	text, err := decodeText(stripBOM(data))
	if err != nil {
		return "", fmt.Errorf("%w: decode container.xml: %w", ErrInvalidEPub, err)
	}

	var c containerXML
	dec := xml.NewDecoder(strings.NewReader(stripXMLDeclaration(text)))
	dec.Strict = false
	if err := dec.Decode(&c); err != nil {
		return "", fmt.Errorf("%w: parse container.xml: %w", ErrInvalidEPub, err)
	}

	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" || !strings.EqualFold(strings.TrimSpace(rf.MediaType), MediaTypeOPF) {
			continue
		}
		if unq, err := url.PathUnescape(fullPath); err == nil {
			fullPath = unq
		}
		if !isSafePath(fullPath) {
			return "", fmt.Errorf("%w: unsafe OPF path %q in container.xml", ErrInvalidEPub, fullPath)
		}
		opfPath := filepath.Join(root, filepath.FromSlash(fullPath))
		if _, err := os.Stat(opfPath); err != nil {
			return "", fmt.Errorf("%w: OPF file does not exist at location pointed to by META-INF/container.xml", ErrInvalidEPub)
		}
		return opfPath, nil
	}
	return "", fmt.Errorf("%w: META-INF/container.xml contains no link to OPF file", ErrInvalidEPub)
}

// opfRootfiles returns the <rootfile> elements of the parsed container.xml
// that point at a package document.
func opfRootfiles(doc *etree.Document) []*etree.Element {
	var out []*etree.Element
	for _, rf := range findElements(doc.Root(), "rootfile") {
		if attrValue(rf, "full-path") != "" && strings.EqualFold(attrValue(rf, "media-type"), MediaTypeOPF) {
			out = append(out, rf)
		}
	}
	return out
}

// epubRenamed keeps the OCF files in step with a rename: container.xml
// follows the package document and encryption.xml follows obfuscated
// fonts.
func (c *Container) epubRenamed(oldName, newName string, isOPF bool) error {
	if isOPF {
		doc, err := c.ParsedXML(containerXMLName)
		if err != nil {
			return fmt.Errorf("polish: update container.xml: %w", err)
		}
		for _, rf := range opfRootfiles(doc) {
			// Unquoted: epubcheck rejects percent-encoded full-path values.
			setAttrValue(rf, "full-path", c.opfName)
		}
		c.Dirty(containerXMLName)
	}

	ob, ok := c.obfuscatedFonts[oldName]
	if !ok {
		return nil
	}
	delete(c.obfuscatedFonts, oldName)
	c.obfuscatedFonts[newName] = ob
	doc, err := c.ParsedXML(encryptionXMLName)
	if err != nil {
		return fmt.Errorf("polish: update encryption.xml: %w", err)
	}
	for _, cr := range findElements(doc.Root(), "CipherReference") {
		if n, ok := c.HrefToName(attrValue(cr, "URI"), ""); ok && n == oldName {
			setAttrValue(cr, "URI", c.NameToHref(newName, ""))
			c.Dirty(encryptionXMLName)
		}
	}
	return nil
}
