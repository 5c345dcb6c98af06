package polish

import (
	"bytes"
	"fmt"
	"regexp"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"
)

var (
	xmlEncodingPat = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*?encoding\s*=\s*["']([-_.a-zA-Z0-9]+)["']`)
	metaCharsetPat = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([-_.a-zA-Z0-9]+)`)
	cssCharsetPat  = regexp.MustCompile(`^@charset\s+["']([-_.a-zA-Z0-9]+)["']`)
	xmlDeclPat     = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
	prescanLimit   = 2048
	utf16BOMs      = [][]byte{{0xFF, 0xFE}, {0xFE, 0xFF}}
)

// decodeText converts raw file bytes to NFC-normalized UTF-8 text. The
// encoding is taken from a BOM, the XML declaration, a CSS @charset rule or
// an HTML meta charset; undeclared data that is valid UTF-8 is assumed to be UTF-8,
// anything else goes through HTML5 encoding sniffing.
func decodeText(data []byte) (string, error) {
	data = stripBOM(data)
	label := ""
	sniff := false
	for _, bom := range utf16BOMs {
		if bytes.HasPrefix(data, bom) {
			sniff = true
		}
	}
	head := data
	if len(head) > prescanLimit {
		head = head[:prescanLimit]
	}
	if !sniff {
		if m := xmlEncodingPat.FindSubmatch(head); m != nil {
			label = string(m[1])
		} else if m := cssCharsetPat.FindSubmatch(head); m != nil {
			label = string(m[1])
		} else if m := metaCharsetPat.FindSubmatch(head); m != nil {
			label = string(m[1])
		}
	}

	var text []byte
	switch {
	case label != "":
		enc, name := charset.Lookup(label)
		if enc == nil {
			return "", fmt.Errorf("polish: unknown text encoding %q", label)
		}
		if name == "utf-8" {
			text = data
			break
		}
		out, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("polish: decode %s: %w", name, err)
		}
		text = out
	case !sniff && utf8.Valid(data):
		text = data
	default:
		enc, name, _ := charset.DetermineEncoding(data, "")
		out, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("polish: decode %s: %w", name, err)
		}
		text = out
	}
	return norm.NFC.String(string(stripBOM(text))), nil
}

// stripXMLDeclaration removes a leading <?xml ...?> declaration, which no
// longer describes the text once it has been decoded.
func stripXMLDeclaration(s string) string {
	if loc := xmlDeclPat.FindStringIndex(s); loc != nil {
		return s[loc[1]:]
	}
	return s
}
