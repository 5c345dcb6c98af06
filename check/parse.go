package check

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/simp-lee/polish"
)

// Parse reports files that are not well-formed: XML and XHTML documents
// that fail a strict XML parse, stylesheets the CSS tokenizer rejects and
// text that cannot be decoded.
func Parse(_ context.Context, c *polish.Container, name string) ([]Problem, error) {
	mt, _ := c.MimeType(name)
	xmlDoc := polish.IsXMLType(mt)
	css := polish.IsStyleType(mt)
	if !xmlDoc && !css {
		return nil, nil
	}
	text, err := c.RawText(name)
	if err != nil {
		return []Problem{{
			Check: "parse", Level: LevelError, Name: name,
			Message: fmt.Sprintf("cannot decode text: %v", err),
		}}, nil
	}
	if css {
		if err := polish.ParseStylesheet(text).Err(); err != nil {
			return []Problem{{Check: "parse", Level: LevelWarn, Name: name, Message: err.Error()}}, nil
		}
		return nil, nil
	}
	if line, err := wellFormed(text, polish.IsDocType(mt)); err != nil {
		return []Problem{{Check: "parse", Level: LevelError, Name: name, Line: line, Message: err.Error()}}, nil
	}
	return nil, nil
}

// wellFormed runs a strict XML parse over text. HTML named entities are
// accepted in content documents.
func wellFormed(text string, html bool) (int, error) {
	d := xml.NewDecoder(strings.NewReader(text))
	d.Strict = true
	if html {
		d.Entity = xml.HTMLEntity
	}
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if err != nil {
			var se *xml.SyntaxError
			if errors.As(err, &se) {
				return se.Line, errors.New(se.Msg)
			}
			line, _ := d.InputPos()
			return line, err
		}
	}
}
