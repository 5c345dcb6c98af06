// Package polish provides an editable view of an e-book as a directory of
// named files, for EPUB 2 and EPUB 3, Kobo KEPUB and Amazon AZW3 books.
//
// A book is unpacked into a working directory on [Open]. Every file is then
// addressed by its name: the slash-separated path relative to that root,
// NFC-normalized and case preserving. Edits happen in the working copy and
// are packaged again by [Container.Commit].
//
// # Opening a book
//
// The adapter is chosen from the path unless [Options.Format] forces one.
// Directories are treated as already unpacked EPUBs and are edited in place
// of a private copy:
//
//	c, err := polish.Open("book.epub", polish.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
// AZW3 books need a [MobiCodec]; [WorkerCodec] runs it in a separate
// process so a crashing converter cannot take the editor down.
//
// # Parsed files
//
// [Container.Parsed] returns a cached tree for each file: an etree
// document for XML and XHTML, a [Stylesheet] for CSS. Callers mutate the
// tree and mark the name with [Container.Dirty]; the tree is serialized
// back on [Container.Flush], [Container.CommitItem] or commit. Raw access
// through [Container.RawData] and [Container.OpenFile] flushes the file
// first.
//
// # Manifest, spine and links
//
// The OPF is the single source of truth for the manifest and reading
// order. [Container.AddFile], [Container.RemoveItem] and
// [Container.SetSpine] keep it consistent. [Container.IterLinks] reports
// every reference in a file with its position, and [Container.Rename]
// and [Container.RenameFiles] rewrite all references in the book,
// including the NCX, nav document and encryption.xml.
//
// # Read-only views
//
// [Container.Metadata], [Container.TOC] and [Container.CoverName] reflect
// unsaved edits without writing them to disk.
//
// # Cloning
//
// [CloneContainer] hard-links the working copy into a new directory. The
// copies share data until one side writes a file; writes through the
// container replace the shared file first, so neither copy observes the
// other's edits.
//
// # Error handling
//
// The package defines sentinel errors for common failure cases:
//   - [ErrInvalidBook] and its variants [ErrInvalidEPub], [ErrInvalidMobi]
//   - [ErrDRMProtected] for encrypted books
//   - [ErrNameConflict], [ErrInvalidName] and [ErrRenameNotAllowed] for
//     rejected names
//   - [ErrExplodeFailed] when the AZW3 converter fails
//   - [ErrNoCover] when no cover image could be detected
package polish
