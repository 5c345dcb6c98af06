package polish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options configures Open.
type Options struct {
	// Format forces the adapter. Nil selects it from the path: directories
	// are EPUB, .azw3/.mobi are AZW3, .kepub is KEPUB, anything else EPUB.
	Format *Format

	// TempDir is the parent of the working directory. Empty means the
	// system temp directory.
	TempDir string

	// TweakMode marks the container as opened for low-level editing.
	TweakMode bool

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger

	// Codec explodes and rebuilds AZW3 books. Required for FormatAZW3.
	Codec MobiCodec

	// Now supplies timestamps for dcterms:modified and archive entries.
	// Nil means time.Now.
	Now func() time.Time
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Extensions mapped to adapters by FormatForPath.
var (
	azw3Extensions  = map[string]bool{"azw3": true, "mobi": true, "original_azw3": true, "original_mobi": true}
	kepubExtensions = map[string]bool{"kepub": true, "original_kepub": true}
)

// FormatForPath picks the adapter for a book path. Directories are always
// opened as EPUB. Kobo's *.kepub.epub naming counts as KEPUB.
func FormatForPath(path string) Format {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return FormatEPUB
	}
	base := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(base, ".kepub.epub") {
		return FormatKEPUB
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	switch {
	case azw3Extensions[ext]:
		return FormatAZW3
	case kepubExtensions[ext]:
		return FormatKEPUB
	}
	return FormatEPUB
}

// Open opens the book at path for editing. The caller must call Close
// when done.
func Open(path string, opts Options) (*Container, error) {
	return OpenContext(context.Background(), path, opts)
}

// OpenContext is like Open. ctx bounds the AZW3 explode step and is
// checked between unpacking stages; it is not consulted once the book is
// open.
func OpenContext(ctx context.Context, path string, opts Options) (*Container, error) {
	format := FormatForPath(path)
	if opts.Format != nil {
		format = *opts.Format
	}

	var (
		c   *Container
		err error
	)
	switch format {
	case FormatEPUB:
		c, err = openEPUB(ctx, path, FormatEPUB, opts)
	case FormatKEPUB:
		c, err = openKEPUB(ctx, path, opts)
	case FormatAZW3:
		c, err = openAZW3(ctx, path, opts)
	default:
		return nil, fmt.Errorf("polish: open %s: unknown format %d", path, format)
	}
	if err != nil {
		return nil, err
	}
	c.log.Debug("opened book", "path", path, "format", c.format, "root", c.root)
	return c, nil
}

// openKEPUB opens the archive as an EPUB, then strips the Kobo markup so
// the book is edited as plain EPUB.
func openKEPUB(ctx context.Context, path string, opts Options) (*Container, error) {
	c, err := openEPUB(ctx, path, FormatKEPUB, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Flush(true); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.unkepubify(); err != nil {
		c.Close()
		return nil, fmt.Errorf("polish: remove Kobo markup: %w", err)
	}
	return c, nil
}

// Commit writes the book back to outPath, or to the path it was opened
// from when outPath is empty. Parsed objects stay cached if keepParsed is
// set.
func (c *Container) Commit(outPath string, keepParsed bool) error {
	return c.CommitContext(context.Background(), outPath, keepParsed)
}

// CommitContext is like Commit. ctx is only passed to the AZW3 codec.
// Commits are not interruptible: a running EPUB commit always finishes.
func (c *Container) CommitContext(ctx context.Context, outPath string, keepParsed bool) error {
	if c.format == FormatAZW3 {
		return c.commitAZW3(ctx, outPath, keepParsed)
	}
	return c.commitEPUB(outPath, keepParsed)
}
