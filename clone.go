package polish

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// CloneData describes a committed snapshot of a container whose files have
// been hard-linked into Root. It is consumed by CloneContainer.
type CloneData struct {
	// Root is the directory holding the cloned files.
	Root string

	format          Format
	opfName         string
	bookPath        string
	isDir           bool
	tweakMode       bool
	mimeMap         map[string]string
	prettyPrint     map[string]bool
	obfuscatedFonts map[string]obfuscation
	mobiFonts       []string
}

// CloneData flushes every pending change, then duplicates the root into
// destDir (which must exist) using hard links, falling back to copies where
// linking fails. Both the container and any container built from the
// returned data decouple a multiply-linked file before writing to it, so
// edits on either side never leak into the other.
func (c *Container) CloneData(destDir string) (*CloneData, error) {
	if err := c.Flush(false); err != nil {
		return nil, err
	}
	dest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(dest); err == nil {
		dest = resolved
	}
	c.cloned = true
	if err := cloneDir(c.root, dest); err != nil {
		return nil, fmt.Errorf("polish: clone %s: %w", c.root, err)
	}
	return &CloneData{
		Root:            dest,
		format:          c.format,
		opfName:         c.opfName,
		bookPath:        c.bookPath,
		isDir:           c.isDir,
		tweakMode:       c.tweakMode,
		mimeMap:         maps.Clone(c.mimeMap),
		prettyPrint:     maps.Clone(c.prettyPrint),
		obfuscatedFonts: maps.Clone(c.obfuscatedFonts),
		mobiFonts:       slices.Clone(c.mobiFonts),
	}, nil
}

// CloneContainer returns a new container over a hard-linked copy of c in
// destDir. The clone does not own destDir.
func CloneContainer(c *Container, destDir string) (*Container, error) {
	return c.cloneAs(destDir, c.format)
}

// cloneAs clones c and builds the new container with the given format.
func (c *Container) cloneAs(destDir string, format Format) (*Container, error) {
	cd, err := c.CloneData(destDir)
	if err != nil {
		return nil, err
	}
	cd.format = format
	return c.fromCloneData(cd), nil
}

func (c *Container) fromCloneData(cd *CloneData) *Container {
	nc := &Container{
		format:          cd.format,
		root:            cd.Root,
		opfName:         cd.opfName,
		bookPath:        cd.bookPath,
		isDir:           cd.isDir,
		tweakMode:       cd.tweakMode,
		namePath:        make(map[string]string, len(c.namePath)),
		mimeMap:         cd.mimeMap,
		parsedCache:     make(map[string]any),
		dirtied:         make(map[string]bool),
		prettyPrint:     cd.prettyPrint,
		hrefCache:       make(map[[2]string]hrefResult),
		obfuscatedFonts: cd.obfuscatedFonts,
		mobiFonts:       cd.mobiFonts,
		cloned:          true,
		codec:           c.codec,
		log:             c.log,
		now:             c.now,
		tempDir:         c.tempDir,
	}
	for name := range c.namePath {
		nc.namePath[name] = NameToPath(name, cd.Root)
	}
	return nc
}

// cloneDir mirrors the tree under src into dest using hard links for files.
func cloneDir(src, dest string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.Link(p, target); err != nil {
			return copyFile(p, target)
		}
		return nil
	})
}
