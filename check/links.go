package check

import (
	"context"
	"fmt"
	"net/url"

	"github.com/simp-lee/polish"
)

// Links reports local links in name that do not resolve to a file of the
// book. External and fragment-only links are ignored.
func Links(_ context.Context, c *polish.Container, name string) ([]Problem, error) {
	links, err := c.IterLinks(name, true)
	if err != nil {
		return nil, err
	}
	var out []Problem
	for l := range links {
		u, err := url.Parse(l.URL)
		if err != nil {
			out = append(out, Problem{
				Check: "links", Level: LevelError, Name: name, Line: l.Line, Column: l.Column,
				Message: fmt.Sprintf("malformed link %q", l.URL),
			})
			continue
		}
		if u.Scheme != "" || u.Host != "" || u.Path == "" {
			continue
		}
		target, ok := c.HrefToName(l.URL, name)
		switch {
		case !ok:
			out = append(out, Problem{
				Check: "links", Level: LevelError, Name: name, Line: l.Line, Column: l.Column,
				Message: fmt.Sprintf("link %q points outside the book", l.URL),
			})
		case !c.HasName(target):
			out = append(out, Problem{
				Check: "links", Level: LevelError, Name: name, Line: l.Line, Column: l.Column,
				Message: fmt.Sprintf("link to missing file %s", target),
			})
		}
	}
	return out, nil
}
