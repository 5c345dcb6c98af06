package polish

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// Font obfuscation algorithm URIs. These are not DRM: the key is derived
// from the package identifiers.
const (
	idpfObfuscation  = "http://www.idpf.org/2008/embedding"
	adobeObfuscation = "http://ns.adobe.com/pdf/enc#RC"
)

// sinfName is present in Apple FairPlay protected books.
const sinfName = "META-INF/sinf.xml"

// Known DRM namespace prefixes found in KeyInfo child elements or algorithm URIs.
var drmSignatures = []string{
	"http://ns.adobe.com/adept",      // Adobe ADEPT
	"http://readium.org/2014/01/lcp", // Readium LCP
}

var idpfKeyWhitespace = regexp.MustCompile("[ \u0009\u000d\u000a]")

// obfuscation is the algorithm and key a font was obfuscated with.
type obfuscation struct {
	alg string
	key []byte
}

// deobfuscateFont XORs the obfuscated prefix of data with the cycled key.
// The operation is its own inverse.
func deobfuscateFont(key, data []byte, alg string) []byte {
	n := 1040
	if alg == adobeObfuscation {
		n = 1024
	}
	out := slices.Clone(data)
	if len(key) == 0 {
		return out
	}
	for i := 0; i < n && i < len(out); i++ {
		out[i] ^= key[i%len(key)]
	}
	return out
}

// isDRMSignature checks whether s contains any known DRM namespace or identifier.
func isDRMSignature(s string) bool {
	for _, sig := range drmSignatures {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}

// encryptedData pairs an <EncryptedData> element with its algorithm and
// cipher reference URI.
type encryptedData struct {
	elem *etree.Element
	alg  string
	uri  string
}

func encryptionEntries(doc *etree.Document) []encryptedData {
	var out []encryptedData
	for _, em := range findElements(doc.Root(), "EncryptionMethod") {
		alg := attrValue(em, "Algorithm")
		if alg == "" {
			continue
		}
		ed := encryptedData{elem: em.Parent(), alg: alg}
		if ed.elem == nil {
			continue
		}
		if cr := findElement(ed.elem, "CipherReference"); cr != nil {
			ed.uri = attrValue(cr, "URI")
		}
		out = append(out, ed)
	}
	return out
}

// processEncryption rejects DRM-protected books and decrypts obfuscated
// fonts in place, remembering them for re-obfuscation on commit. A missing
// key is reported here rather than when the font is first used.
func (c *Container) processEncryption() error {
	if c.HasName(sinfName) {
		return fmt.Errorf("polish: Apple FairPlay: %w", ErrDRMProtected)
	}
	if !c.HasName(encryptionXMLName) {
		return nil
	}
	doc, err := c.ParsedXML(encryptionXMLName)
	if err != nil {
		return fmt.Errorf("polish: unreadable %s: %w", encryptionXMLName, ErrDRMProtected)
	}

	fonts := make(map[string]string)
	for _, ed := range encryptionEntries(doc) {
		if ed.alg != idpfObfuscation && ed.alg != adobeObfuscation {
			if isDRMSignature(ed.alg) {
				return fmt.Errorf("polish: DRM scheme %s: %w", ed.alg, ErrDRMProtected)
			}
			return fmt.Errorf("polish: unknown encryption algorithm %s: %w", ed.alg, ErrDRMProtected)
		}
		if ed.uri == "" {
			continue
		}
		if name, ok := c.HrefToName(ed.uri, ""); ok && c.HasName(name) {
			fonts[name] = ed.alg
		}
	}
	if len(fonts) == 0 {
		return nil
	}

	idpfKey, adobeKey, keyErr := c.obfuscationKeys()
	for _, name := range sortedKeys(fonts) {
		alg := fonts[name]
		key := idpfKey
		if alg == adobeObfuscation {
			key = adobeKey
		}
		if key == nil {
			if keyErr != nil {
				return fmt.Errorf("polish: font %s: %w: %v", name, ErrObfuscationKeyMissing, keyErr)
			}
			return fmt.Errorf("polish: font %s: %w", name, ErrObfuscationKeyMissing)
		}
		raw, err := c.RawData(name)
		if err != nil {
			return err
		}
		if err := c.writeRaw(name, deobfuscateFont(key, raw, alg)); err != nil {
			return err
		}
		c.obfuscatedFonts[name] = obfuscation{alg: alg, key: key}
	}
	return nil
}

// obfuscationKeys derives the IDPF key (SHA-1 of the unique identifier with
// whitespace removed) and the Adobe key (the bytes of the last UUID
// identifier). keyErr records why an Adobe key candidate was rejected.
func (c *Container) obfuscationKeys() (idpfKey, adobeKey []byte, keyErr error) {
	root := c.opfRoot()
	if root == nil {
		return nil, nil, nil
	}
	uid := ""
	for _, a := range root.Attr {
		if strings.HasSuffix(a.Key, "unique-identifier") {
			uid = a.Value
			break
		}
	}
	if uid != "" {
		walkElements(root, func(e *etree.Element) bool {
			if idpfKey != nil {
				return false
			}
			if attrValue(e, "id") == uid && e.Text() != "" {
				sum := sha1.Sum([]byte(idpfKeyWhitespace.ReplaceAllString(e.Text(), "")))
				idpfKey = sum[:]
				return false
			}
			return true
		})
	}

	md := findElement(root, "metadata")
	if md == nil {
		return idpfKey, nil, nil
	}
	for _, ident := range findElements(md, "identifier") {
		scheme := ""
		for _, a := range ident.Attr {
			if strings.HasSuffix(a.Key, "scheme") {
				scheme = a.Value
			}
		}
		text := ident.Text()
		if !strings.EqualFold(scheme, "uuid") && !strings.HasPrefix(text, "urn:uuid:") {
			continue
		}
		raw := text[strings.LastIndexByte(text, ':')+1:]
		u, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			c.log.Warn("failed to parse obfuscation key", "identifier", text, "error", err)
			adobeKey, keyErr = nil, fmt.Errorf("identifier %q: %w", text, err)
			continue
		}
		adobeKey, keyErr = u[:], nil
	}
	return idpfKey, adobeKey, keyErr
}

// obfuscateFonts re-obfuscates every tracked font on disk and returns the
// plaintext so it can be restored after packaging.
func (c *Container) obfuscateFonts() (map[string][]byte, error) {
	restore := make(map[string][]byte)
	for _, name := range sortedKeys(c.obfuscatedFonts) {
		if !c.HasName(name) {
			continue
		}
		ob := c.obfuscatedFonts[name]
		data, err := c.RawData(name)
		if err != nil {
			return restore, err
		}
		restore[name] = data
		if err := c.writeRaw(name, deobfuscateFont(ob.key, data, ob.alg)); err != nil {
			return restore, err
		}
	}
	return restore, nil
}

// restoreFonts writes back the plaintext returned by obfuscateFonts.
func (c *Container) restoreFonts(restore map[string][]byte) error {
	for _, name := range sortedKeys(restore) {
		if err := c.writeRaw(name, restore[name]); err != nil {
			return err
		}
	}
	return nil
}

// forgetObfuscatedFont stops tracking name and drops its encryption.xml
// entry. Removing encryption.xml itself forgets every font.
func (c *Container) forgetObfuscatedFont(name string) {
	if name == encryptionXMLName {
		clear(c.obfuscatedFonts)
		return
	}
	if _, ok := c.obfuscatedFonts[name]; !ok {
		return
	}
	delete(c.obfuscatedFonts, name)
	doc, err := c.ParsedXML(encryptionXMLName)
	if err != nil {
		return
	}
	for _, ed := range encryptionEntries(doc) {
		if ed.alg != idpfObfuscation && ed.alg != adobeObfuscation {
			continue
		}
		if n, ok := c.HrefToName(ed.uri, ""); ok && n == name {
			removeFromXML(ed.elem)
			c.Dirty(encryptionXMLName)
		}
	}
}
