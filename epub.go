package polish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/beevik/etree"
	"golang.org/x/text/unicode/norm"
)

// Version control metadata skipped when a directory is opened as a book
// and left alone when a directory book is synced back.
var (
	vcsDirs        = map[string]bool{".git": true, ".hg": true, ".svn": true, ".bzr": true}
	vcsIgnoreFiles = map[string]bool{".gitignore": true, ".hgignore": true, ".agignore": true, ".bzrignore": true}
)

// modifiedLayout is the dcterms:modified format required by EPUB 3.
const modifiedLayout = "2006-01-02T15:04:05Z"

// openEPUB unpacks the EPUB (or KEPUB) archive or directory at bookPath
// into a fresh working root and builds a container over it. The working
// root is removed if anything fails.
func openEPUB(ctx context.Context, bookPath string, format Format, opts Options) (_ *Container, err error) {
	fi, err := os.Stat(bookPath)
	if err != nil {
		return nil, fmt.Errorf("polish: open %s: %w", bookPath, err)
	}
	root, err := os.MkdirTemp(opts.TempDir, "polish-epub-")
	if err != nil {
		return nil, fmt.Errorf("polish: create working directory: %w", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(root)
		}
	}()

	log := opts.logger()
	isDir := fi.IsDir()
	if isDir {
		if err := copyBookDir(bookPath, root); err != nil {
			return nil, fmt.Errorf("polish: copy %s: %w", bookPath, err)
		}
	} else if err := extractZip(bookPath, root); err != nil {
		log.Warn("EPUB appears to be invalid ZIP file, trying a more forgiving ZIP parser", "path", bookPath, "error", err)
		if err := resetDir(root); err != nil {
			return nil, err
		}
		if ferr := extractForgiving(bookPath, root); ferr != nil {
			return nil, fmt.Errorf("%w: unreadable archive %s: %w", ErrInvalidEPub, bookPath, errors.Join(err, ferr))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.Remove(filepath.Join(root, "mimetype")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := normalizeFilenames(root); err != nil {
		return nil, fmt.Errorf("polish: normalize filenames: %w", err)
	}

	opfPath, err := locateOPF(root)
	if err != nil {
		return nil, err
	}
	c, err := newContainer(root, opfPath, format, opts)
	if err != nil {
		return nil, err
	}
	c.ownsRoot = true
	c.bookPath = bookPath
	c.isDir = isDir
	if err := c.processEncryption(); err != nil {
		return nil, err
	}
	return c, nil
}

// copyBookDir copies the directory book src into dest, skipping version
// control metadata.
func copyBookDir(src, dest string) error {
	return walkBookDir(src, func(p, rel string, d fs.DirEntry) error {
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

// walkBookDir visits every entry below root except VCS directories and
// ignore files. rel is the slash-free relative path of the entry.
func walkBookDir(root string, fn func(p, rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.IsDir() && vcsDirs[d.Name()] {
			return filepath.SkipDir
		}
		if !d.IsDir() && vcsIgnoreFiles[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return fn(p, rel, d)
	})
}

func resetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// normalizeFilenames renames every file below root to its NFC form. The
// rename goes through a temporary name so case-preserving filesystems that
// treat both forms as equal still pick up the new spelling.
func normalizeFilenames(root string) error {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range paths {
		n := norm.NFC.String(p)
		if n == p {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(n), 0o755); err != nil {
			return err
		}
		tmp := p + "suff1x"
		if err := os.Rename(p, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, n); err != nil {
			return err
		}
	}
	return nil
}

// updateModifiedTimestamp sets the single dcterms:modified meta of an
// EPUB 3 package to the current time.
func (c *Container) updateModifiedTimestamp() error {
	md := c.opfChild("metadata")
	if md == nil {
		return fmt.Errorf("%w: OPF has no <metadata>", ErrInvalidEPub)
	}
	stamp := c.now().UTC().Format(modifiedLayout)
	var found *etree.Element
	for _, m := range findElements(md, "meta", nsOPF, "") {
		if attrValue(m, "property") != "dcterms:modified" {
			continue
		}
		if found == nil {
			found = m
			continue
		}
		removeFromXML(m)
	}
	if found == nil {
		found = createChild(md, "meta")
		found.CreateAttr("property", "dcterms:modified")
		insertIntoXML(md, found, -1)
	}
	found.SetText(stamp)
	c.Dirty(c.opfName)
	return nil
}

// commitEPUB writes the book to outPath: the package timestamp is bumped
// for EPUB 3, pending edits are flushed, fonts are re-obfuscated for the
// duration of packaging and the result is either synced back into the
// source directory or rebuilt as a ZIP archive.
func (c *Container) commitEPUB(outPath string, keepParsed bool) (err error) {
	if c.opfMajor() == 3 {
		if err := c.updateModifiedTimestamp(); err != nil {
			return err
		}
	}
	if err := c.Flush(keepParsed); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(c.root, "META-INF", "container.xml")); err != nil {
		return fmt.Errorf("%w: no META-INF/container.xml in EPUB, the working directory may have been modified by another program", ErrInvalidEPub)
	}
	if outPath == "" {
		outPath = c.bookPath
	}
	if c.format == FormatKEPUB && !c.isDir {
		return c.commitKEPUB(outPath)
	}

	restore, err := c.obfuscateFonts()
	defer func() {
		if rerr := c.restoreFonts(restore); err == nil {
			err = rerr
		}
	}()
	if err != nil {
		return err
	}

	c.log.Debug("committing book", "format", c.format, "output", outPath)
	if c.isDir && isDirTarget(outPath, c.bookPath) {
		return c.syncDir(outPath)
	}
	lock, err := acquireBookLock(outPath)
	if err != nil {
		return err
	}
	defer lock.release()
	return rebuildZip(c.root, outPath, c.now())
}

// isDirTarget reports whether a directory book commits to outPath as a
// directory rather than as an archive.
func isDirTarget(outPath, bookPath string) bool {
	if outPath == bookPath {
		return true
	}
	fi, err := os.Stat(outPath)
	return err == nil && fi.IsDir()
}

// syncDir mirrors the working root into the directory book at dest:
// files that no longer exist are deleted, then everything is copied over.
// VCS metadata in dest is left untouched.
func (c *Container) syncDir(dest string) error {
	var stale []string
	err := walkBookDir(dest, func(p, rel string, d fs.DirEntry) error {
		if d.IsDir() || rel == "mimetype" {
			return nil
		}
		if _, err := os.Stat(filepath.Join(c.root, rel)); errors.Is(err, fs.ErrNotExist) {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, p := range stale {
		c.log.Debug("removing deleted file from book directory", "path", p)
		if err := os.Remove(p); err != nil {
			return err
		}
		// Only empty directories go; a non-empty one is expected.
		_ = os.Remove(filepath.Dir(p))
	}

	return filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

// CompareTo reports how the files of c differ from those of other. It
// returns nil when both containers hold the same names with the same
// bytes. Used to verify that a commit round trip is lossless.
func (c *Container) CompareTo(other *Container) error {
	if err := c.Flush(true); err != nil {
		return err
	}
	if err := other.Flush(true); err != nil {
		return err
	}
	mine, theirs := c.Names(), other.Names()
	if !slices.Equal(mine, theirs) {
		return errors.New("set of files is not the same")
	}
	var mismatched []error
	for _, name := range mine {
		a, err := os.ReadFile(c.namePath[name])
		if err != nil {
			return err
		}
		b, err := os.ReadFile(other.namePath[name])
		if err != nil {
			return err
		}
		if !slices.Equal(a, b) {
			mismatched = append(mismatched, fmt.Errorf("the file %s is not the same", name))
		}
	}
	return errors.Join(mismatched...)
}
