package polish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/simp-lee/polish/internal/worker"
)

// MobiCodec explodes KF8 books into an OPF tree and rebuilds them. Explode
// returns the path of the OPF it wrote below dest and the fonts (slash
// separated, relative to dest) that were obfuscated in the source.
type MobiCodec interface {
	Explode(ctx context.Context, bookPath, dest string) (opfPath string, obfuscatedFonts []string, err error)
	Rebuild(ctx context.Context, opfPath, outPath string, obfuscatedFonts []string) error
}

// WorkerCodec runs a MobiCodec in a separate process so a crash while
// parsing a hostile book cannot take the caller down.
type WorkerCodec struct {
	// Command is the worker executable and its arguments.
	Command []string
}

// Explode implements MobiCodec.
func (w WorkerCodec) Explode(ctx context.Context, bookPath, dest string) (string, []string, error) {
	res, err := worker.Call(ctx, w.Command, worker.Request{Op: worker.OpExplode, Path: bookPath, Dest: dest})
	if err != nil {
		return "", nil, err
	}
	return res.OPFPath, res.ObfuscatedFonts, nil
}

// Rebuild implements MobiCodec.
func (w WorkerCodec) Rebuild(ctx context.Context, opfPath, outPath string, obfuscatedFonts []string) error {
	_, err := worker.Call(ctx, w.Command, worker.Request{
		Op:              worker.OpRebuild,
		Path:            opfPath,
		Dest:            outPath,
		ObfuscatedFonts: obfuscatedFonts,
	})
	return err
}

// ServeCodec adapts codec to a worker.Handler.
func ServeCodec(codec MobiCodec) worker.Handler {
	return func(ctx context.Context, req worker.Request) (worker.Result, error) {
		switch req.Op {
		case worker.OpExplode:
			opf, fonts, err := codec.Explode(ctx, req.Path, req.Dest)
			if err != nil {
				return worker.Result{}, err
			}
			return worker.Result{OPFPath: opf, ObfuscatedFonts: fonts}, nil
		case worker.OpRebuild:
			return worker.Result{}, codec.Rebuild(ctx, req.Path, req.Dest, req.ObfuscatedFonts)
		}
		return worker.Result{}, fmt.Errorf("unknown operation %q", req.Op)
	}
}

// openAZW3 validates the MOBI headers, explodes the book through the codec
// and builds a container over the exploded tree.
func openAZW3(ctx context.Context, bookPath string, opts Options) (_ *Container, err error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("polish: open %s: %w", bookPath, ErrNoCodec)
	}
	if err := checkEditableMobi(bookPath); err != nil {
		return nil, err
	}
	root, err := os.MkdirTemp(opts.TempDir, "polish-azw3-")
	if err != nil {
		return nil, fmt.Errorf("polish: create working directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(root)
		}
	}()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	log := opts.logger()
	opfPath, fonts, err := opts.Codec.Explode(ctx, bookPath, root)
	if err != nil {
		var werr *worker.Error
		if errors.As(err, &werr) && werr.Traceback != "" {
			log.Error("explode failed", "path", bookPath, "traceback", werr.Traceback)
		} else {
			log.Error("explode failed", "path", bookPath, "error", err)
		}
		return nil, fmt.Errorf("%w: %w: %w", ErrInvalidMobi, ErrExplodeFailed, err)
	}
	if !filepath.IsAbs(opfPath) {
		opfPath = filepath.Join(root, opfPath)
	}

	c, err := newContainer(root, opfPath, FormatAZW3, opts)
	if err != nil {
		return nil, err
	}
	c.ownsRoot = true
	c.bookPath = bookPath
	for _, f := range fonts {
		c.mobiFonts = append(c.mobiFonts, filepath.ToSlash(f))
	}
	slices.Sort(c.mobiFonts)
	return c, nil
}

// commitAZW3 flushes pending edits and rebuilds the book from the OPF.
func (c *Container) commitAZW3(ctx context.Context, outPath string, keepParsed bool) error {
	if err := c.Flush(keepParsed); err != nil {
		return err
	}
	if c.codec == nil {
		return fmt.Errorf("polish: commit %s: %w", c.bookPath, ErrNoCodec)
	}
	if outPath == "" {
		outPath = c.bookPath
	}
	lock, err := acquireBookLock(outPath)
	if err != nil {
		return err
	}
	defer lock.release()
	c.log.Debug("committing book", "format", c.format, "output", outPath)
	return c.codec.Rebuild(ctx, c.namePath[c.opfName], outPath, c.mobiFonts)
}
