package polish

import (
	"path"
	"strconv"
	"strings"
)

// Well-known media types.
const (
	MediaTypeOPF   = "application/oebps-package+xml"
	MediaTypeNCX   = "application/x-dtbncx+xml"
	MediaTypeXHTML = "application/xhtml+xml"
	MediaTypeHTML  = "text/html"
	MediaTypeCSS   = "text/css"
	MediaTypeSVG   = "image/svg+xml"
	MediaTypeSMIL  = "application/smil+xml"
	MediaTypeEPUB  = "application/epub+zip"
)

var docTypes = map[string]bool{
	MediaTypeXHTML:             true,
	MediaTypeHTML:              true,
	"text/x-oeb1-document":     true,
	"application/x-dtbook+xml": true,
}

var styleTypes = map[string]bool{
	MediaTypeCSS:      true,
	"text/x-oeb1-css": true,
	"text/x-oeb-css":  true,
}

var extTypes = map[string]string{
	".xhtml": MediaTypeXHTML,
	".xht":   MediaTypeXHTML,
	".html":  MediaTypeHTML,
	".htm":   MediaTypeHTML,
	".css":   MediaTypeCSS,
	".opf":   MediaTypeOPF,
	".ncx":   MediaTypeNCX,
	".svg":   MediaTypeSVG,
	".smil":  MediaTypeSMIL,
	".xml":   "application/xml",
	".xpgt":  "application/adobe-page-template+xml",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".bmp":   "image/bmp",
	".js":    "application/javascript",
	".txt":   "text/plain",
	".pls":   "application/pls+xml",
	".mp3":   "audio/mpeg",
	".m4a":   "audio/mp4",
	".mp4":   "video/mp4",
	".ogg":   "audio/ogg",
	".ttf":   "application/x-font-ttf",
	".otf":   "application/vnd.ms-opentype",
	".woff":  "application/font-woff",
	".woff2": "font/woff2",
}

// EPUB 3 registers proper font/* types for the legacy font media types.
var epub3FontTypes = map[string]string{
	"application/x-font-ttf":      "font/ttf",
	"application/x-font-truetype": "font/ttf",
	"application/vnd.ms-opentype": "font/otf",
	"application/font-sfnt":       "font/otf",
	"application/font-woff":       "font/woff",
}

// GuessType returns the media type implied by the extension of name, adjusted
// for the OPF major version. Unknown extensions map to
// application/octet-stream.
func GuessType(name string, opfMajor int) string {
	mt, ok := extTypes[strings.ToLower(path.Ext(name))]
	if !ok {
		return "application/octet-stream"
	}
	if opfMajor >= 3 {
		if v, ok := epub3FontTypes[mt]; ok {
			return v
		}
	}
	return mt
}

// IsDocType reports whether mt is an HTML/XHTML content document type.
func IsDocType(mt string) bool { return docTypes[normalizeMediaType(mt)] }

// IsStyleType reports whether mt is a stylesheet type.
func IsStyleType(mt string) bool { return styleTypes[normalizeMediaType(mt)] }

// IsXMLType reports whether mt is parsed as generic XML.
func IsXMLType(mt string) bool {
	mt = normalizeMediaType(mt)
	return strings.HasSuffix(mt, "+xml") || strings.HasSuffix(mt, "/xml")
}

// IsFontType reports whether mt is a font media type.
func IsFontType(mt string) bool {
	mt = normalizeMediaType(mt)
	return strings.HasPrefix(mt, "font/") || strings.Contains(mt, "font") || mt == "application/vnd.ms-opentype"
}

func normalizeMediaType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// parseOPFVersion parses a package version attribute into its major and
// minor components. Missing or malformed versions default to 2.0.
func parseOPFVersion(v string) (major, minor int) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 2, 0
	}
	majStr, minStr, _ := strings.Cut(v, ".")
	maj, err := strconv.Atoi(majStr)
	if err != nil || maj < 1 {
		return 2, 0
	}
	mn, _ := strconv.Atoi(minStr)
	return maj, mn
}
