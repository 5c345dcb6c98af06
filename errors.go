package polish

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the polish package.
var (
	// ErrInvalidBook indicates a structural problem that prevents the book
	// from being opened at all (missing OPF, unparseable package document).
	ErrInvalidBook = errors.New("polish: invalid book")

	// ErrInvalidEPub indicates the EPUB packaging is broken
	// (e.g., missing META-INF/container.xml or no OPF rootfile).
	ErrInvalidEPub = fmt.Errorf("%w: invalid ePub file", ErrInvalidBook)

	// ErrInvalidMobi indicates an unsupported or corrupt MOBI/AZW3 file
	// (Topaz, no KF8 section, joint KF8+Mobi6).
	ErrInvalidMobi = fmt.Errorf("%w: invalid MOBI file", ErrInvalidBook)

	// ErrDRMProtected indicates the book is encrypted with real DRM or
	// declares an obfuscation algorithm that is not recognized.
	ErrDRMProtected = errors.New("polish: book is DRM protected")

	// ErrObfuscationKeyMissing indicates obfuscated fonts are present but
	// no key could be derived from the package identifiers.
	ErrObfuscationKeyMissing = fmt.Errorf("%w: font obfuscation key missing", ErrInvalidEPub)

	// ErrNameConflict indicates the target name is already taken.
	ErrNameConflict = errors.New("polish: name already exists")

	// ErrInvalidName indicates a name that escapes the root or is empty.
	ErrInvalidName = errors.New("polish: invalid name")

	// ErrRenameNotAllowed indicates the format forbids changing the name.
	ErrRenameNotAllowed = errors.New("polish: renaming not allowed")

	// ErrRemoveNotAllowed indicates the file is required by the format.
	ErrRemoveNotAllowed = errors.New("polish: removal not allowed")

	// ErrFileNotFound indicates the requested name does not exist
	// in the container.
	ErrFileNotFound = errors.New("polish: file not found in container")

	// ErrNotInManifest indicates a name that has no manifest item.
	ErrNotInManifest = errors.New("polish: name not in manifest")

	// ErrExplodeFailed indicates the MOBI exploder worker failed.
	ErrExplodeFailed = errors.New("polish: failed to explode MOBI")

	// ErrNoCodec indicates an AZW3 operation was requested without a MobiCodec.
	ErrNoCodec = errors.New("polish: no MOBI codec configured")

	// ErrBookLocked indicates another process is writing the same output file.
	ErrBookLocked = errors.New("polish: output file is locked")

	// ErrNoCover indicates no cover image could be detected
	// using any of the supported strategies.
	ErrNoCover = errors.New("polish: no cover image found")
)
