package polish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Rename moves the file oldName to newName. Links inside the moved file
// are rebased when its directory changes; links in other files are not
// touched (use RenameFiles for that). Renaming to an existing name is only
// allowed when the names differ by case alone.
func (c *Container) Rename(oldName, newName string) error {
	if !validName(newName) {
		return fmt.Errorf("polish: rename to %q: %w", newName, ErrInvalidName)
	}
	if !c.HasName(oldName) {
		return fmt.Errorf("polish: rename %s: %w", oldName, ErrFileNotFound)
	}
	if c.NamesThatMustNotBeChanged()[oldName] {
		return fmt.Errorf("polish: rename %s: %w", oldName, ErrRenameNotAllowed)
	}
	if c.Exists(newName) && (newName == oldName || !strings.EqualFold(newName, oldName)) {
		return fmt.Errorf("polish: cannot rename %s to %s: %w", oldName, newName, ErrNameConflict)
	}
	newPath := c.NameToPath(newName)
	base := filepath.Dir(newPath)
	if fi, err := os.Stat(base); err == nil && !fi.IsDir() {
		return fmt.Errorf("polish: cannot rename %s to %s, %s is a file: %w", oldName, newName, base, ErrNameConflict)
	}

	if err := c.CommitItem(oldName, false); err != nil {
		return err
	}
	oldPath := c.namePath[oldName]
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("polish: rename %s: %w", oldName, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("polish: rename %s: %w", oldName, err)
	}
	c.pruneEmptyDirs(filepath.Dir(oldPath))

	delete(c.namePath, oldName)
	c.namePath[newName] = newPath
	if mt, ok := c.mimeMap[oldName]; ok {
		delete(c.mimeMap, oldName)
		c.mimeMap[newName] = mt
	}
	if c.prettyPrint[oldName] {
		delete(c.prettyPrint, oldName)
		c.prettyPrint[newName] = true
	}
	isOPF := oldName == c.opfName
	if isOPF {
		c.opfName = newName
	}

	if filepath.Dir(oldPath) != filepath.Dir(newPath) && c.hasLinks(newName) {
		if _, err := c.ReplaceLinks(newName, NewLinkRebaser(c, oldName, newName)); err != nil {
			return err
		}
		c.Dirty(newName)
	}

	if c.format == FormatEPUB || c.format == FormatKEPUB {
		return c.epubRenamed(oldName, newName, isOPF)
	}
	return nil
}

// pruneEmptyDirs removes dir and its parents up to the root while they are
// empty.
func (c *Container) pruneEmptyDirs(dir string) {
	for {
		rel, err := filepath.Rel(c.root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
