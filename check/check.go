// Package check runs read-only validators over the files of a book.
//
// Validators for different files run concurrently on a bounded pool. The
// container is flushed before any validator starts and must not be
// modified until Run returns.
package check

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/simp-lee/polish"
)

// Level is the severity of a Problem.
type Level int

// Problem severities, least severe first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Problem is one finding of a check.
type Problem struct {
	Check   string
	Level   Level
	Name    string
	Line    int
	Column  int
	Message string
}

func (p Problem) String() string {
	loc := p.Name
	if p.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", p.Name, p.Line, p.Column)
	}
	return fmt.Sprintf("%s %s: %s (%s)", p.Level, loc, p.Message, p.Check)
}

// Func checks a single file. It must only read from the container.
type Func func(ctx context.Context, c *polish.Container, name string) ([]Problem, error)

// Run flushes c and then applies fn to every name, at most workers at a
// time (workers <= 0 means one per CPU). Problems are returned sorted by
// name and position once every file is done. The first error or panic
// cancels the remaining files and is returned with its stack attached.
func Run(ctx context.Context, c *polish.Container, names []string, fn Func, workers int) ([]Problem, error) {
	if err := c.Flush(true); err != nil {
		return nil, errors.Wrap(err, "flush before check")
	}
	// Parsing the package document up front keeps the validators away
	// from the parse cache.
	if _, err := c.Parsed(c.OPFName()); err != nil {
		return nil, errors.Wrap(err, "parse OPF")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		mu       sync.Mutex
		problems []Problem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, name := range names {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = errors.Errorf("check %s panicked: %v\n%s", name, p, debug.Stack())
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := fn(gctx, c, name)
			if err != nil {
				return errors.Wrapf(err, "check %s", name)
			}
			mu.Lock()
			problems = append(problems, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sortProblems(problems)
	return problems, nil
}

// Book runs the link, parse and manifest checks over every file of c.
func Book(ctx context.Context, c *polish.Container, workers int) ([]Problem, error) {
	names := c.Names()
	parse, err := Run(ctx, c, names, Parse, workers)
	if err != nil {
		return nil, err
	}
	links, err := Run(ctx, c, names, Links, workers)
	if err != nil {
		return nil, err
	}
	out := slices.Concat(parse, links, Manifest(c))
	sortProblems(out)
	return out, nil
}

func sortProblems(ps []Problem) {
	slices.SortStableFunc(ps, func(a, b Problem) int {
		return cmp.Or(
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(b.Level, a.Level),
			cmp.Compare(a.Check, b.Check),
			cmp.Compare(a.Message, b.Message),
		)
	})
}

// HasErrors reports whether any problem is at LevelError or above.
func HasErrors(ps []Problem) bool {
	return slices.ContainsFunc(ps, func(p Problem) bool { return p.Level >= LevelError })
}
