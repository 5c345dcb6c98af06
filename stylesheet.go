package polish

import (
	"fmt"
	"strings"

	"github.com/gorilla/css/scanner"
)

// Stylesheet is a parsed CSS document kept as a token stream so that it can
// be written back unchanged apart from rewritten url() and @import targets.
type Stylesheet struct {
	tokens []cssToken
	rest   string
	err    error
}

// cssToken is a scanner token whose value may have been rewritten.
type cssToken struct {
	tok   scanner.Token
	value string
}

// cssRef is a reference found in a stylesheet: the index of the token that
// carries it and the URL it points at.
type cssRef struct {
	index  int
	url    string
	line   int
	column int
}

// ParseStylesheet tokenizes CSS text. A tokenizer error does not fail the
// parse: the text from the error onward is kept verbatim and reported by Err.
func ParseStylesheet(text string) *Stylesheet {
	s := &Stylesheet{}
	sc := scanner.New(text)
	offset := 0
	for {
		tok := sc.Next()
		if tok.Type == scanner.TokenEOF {
			break
		}
		if tok.Type == scanner.TokenError {
			s.rest = text[offset:]
			s.err = fmt.Errorf("polish: css syntax error at line %d, column %d: %s", tok.Line, tok.Column, tok.Value)
			break
		}
		s.tokens = append(s.tokens, cssToken{tok: *tok, value: tok.Value})
		offset += len(tok.Value)
	}
	return s
}

// Err returns the tokenizer error, if any.
func (s *Stylesheet) Err() error { return s.err }

// String serializes the stylesheet.
func (s *Stylesheet) String() string {
	var b strings.Builder
	for _, t := range s.tokens {
		b.WriteString(t.value)
	}
	b.WriteString(s.rest)
	return b.String()
}

// refs returns every url() and @import reference in document order.
func (s *Stylesheet) refs() []cssRef {
	var out []cssRef
	for i := 0; i < len(s.tokens); i++ {
		t := s.tokens[i]
		switch {
		case t.tok.Type == scanner.TokenURI:
			out = append(out, cssRef{index: i, url: unwrapCSSURL(t.value), line: t.tok.Line, column: t.tok.Column})
		case t.tok.Type == scanner.TokenAtKeyword && strings.EqualFold(t.value, "@import"):
			j := i + 1
			for j < len(s.tokens) && (s.tokens[j].tok.Type == scanner.TokenS || s.tokens[j].tok.Type == scanner.TokenComment) {
				j++
			}
			if j < len(s.tokens) && s.tokens[j].tok.Type == scanner.TokenString {
				st := s.tokens[j]
				out = append(out, cssRef{index: j, url: unquoteCSS(st.value), line: st.tok.Line, column: st.tok.Column})
				i = j
			}
		}
	}
	return out
}

// replaceURLs rewrites every reference through fn and reports whether any
// token changed.
func (s *Stylesheet) replaceURLs(fn func(string) string) bool {
	changed := false
	for _, ref := range s.refs() {
		nu := fn(ref.url)
		if nu == ref.url {
			continue
		}
		t := &s.tokens[ref.index]
		if t.tok.Type == scanner.TokenURI {
			t.value = wrapCSSURL(nu, t.value)
		} else {
			t.value = quoteCSS(nu, t.value)
		}
		changed = true
	}
	return changed
}

// unwrapCSSURL extracts the target of a url(...) token.
func unwrapCSSURL(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 4 && strings.EqualFold(v[:4], "url(") {
		v = v[4:]
	}
	v = strings.TrimSuffix(v, ")")
	return unquoteCSS(strings.TrimSpace(v))
}

func unquoteCSS(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// wrapCSSURL builds a url() token for u, keeping the quote style of the
// token it replaces.
func wrapCSSURL(u, old string) string {
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(old)[4:], ")"))
	if inner != "" && (inner[0] == '"' || inner[0] == '\'') {
		return "url(" + quoteCSS(u, inner) + ")"
	}
	if strings.ContainsAny(u, " \t\n()'\"\\") {
		return `url("` + strings.ReplaceAll(u, `"`, `\"`) + `")`
	}
	return "url(" + u + ")"
}

func quoteCSS(u, old string) string {
	q := byte('"')
	if old != "" && old[0] == '\'' {
		q = '\''
	}
	return string(q) + strings.ReplaceAll(u, string(q), `\`+string(q)) + string(q)
}
