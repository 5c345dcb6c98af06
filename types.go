package polish

// Format identifies the packaging rules a Container applies.
type Format int

// Supported book formats.
const (
	FormatEPUB Format = iota
	FormatKEPUB
	FormatAZW3
)

// String returns the lowercase format name.
func (f Format) String() string {
	switch f {
	case FormatEPUB:
		return "epub"
	case FormatKEPUB:
		return "kepub"
	case FormatAZW3:
		return "azw3"
	}
	return "unknown"
}

// ManifestItem is a single <item> of the OPF manifest.
type ManifestItem struct {
	// ID is the item's id attribute.
	ID string

	// Href is the raw href attribute, relative to the OPF.
	Href string

	// Name is the container name the href resolves to. Empty when the href
	// is not a local reference.
	Name string

	// MediaType is the media-type attribute.
	MediaType string

	// Properties holds the space-separated properties attribute values.
	Properties []string
}

// SpineItem is one entry of the reading order.
type SpineItem struct {
	// Name is the container name of the content document.
	Name string

	// Linear is false for itemrefs with linear="no".
	Linear bool
}

// Link is a reference discovered inside a file.
type Link struct {
	// URL is the raw link value as written in the file.
	URL string

	// Line is the 1-based line the link occurs on, 0 when line numbers
	// were not requested or are unavailable.
	Line int

	// Column is the 1-based column of the element or token carrying the link.
	Column int
}

// Metadata holds the Dublin Core and other metadata extracted from the OPF file.
type Metadata struct {
	// Version is the package version attribute (e.g., "2.0", "3.0").
	Version string

	// Titles contains all dc:title values. The first entry is the primary title.
	Titles []string

	// Authors contains all dc:creator entries with their roles and file-as values.
	Authors []Author

	// Language contains all dc:language values (BCP 47 tags, e.g., "en", "zh-CN").
	Language []string

	// Identifiers contains all dc:identifier entries (ISBN, UUID, URI, etc.).
	Identifiers []Identifier

	// UniqueIdentifier is the value of the identifier named by the package's
	// unique-identifier attribute.
	UniqueIdentifier string

	// Publisher is the dc:publisher value.
	Publisher string

	// Date is the dc:date value (publication date as raw string).
	Date string

	// Modified is the dcterms:modified value of EPUB 3 packages.
	Modified string

	// Description is the dc:description value.
	Description string

	// Subjects contains all dc:subject values.
	Subjects []string

	// Rights is the dc:rights value.
	Rights string

	// Source is the dc:source value.
	Source string
}

// Author represents a dc:creator entry with optional file-as and role attributes.
type Author struct {
	// Name is the display name of the author (dc:creator text content).
	Name string

	// FileAs is the opf:file-as attribute value (e.g., "Dickens, Charles").
	FileAs string

	// Role is the opf:role attribute value (e.g., "aut", "edt", "trl").
	Role string
}

// Identifier represents a dc:identifier entry.
type Identifier struct {
	// Value is the identifier text content (e.g., ISBN, UUID, URI).
	Value string

	// Scheme is the opf:scheme attribute value (e.g., "ISBN", "UUID").
	Scheme string

	// ID is the xml id attribute of this identifier element.
	ID string
}

// TOCItem is one entry of the table of contents or landmarks.
type TOCItem struct {
	// Title is the entry label with whitespace collapsed.
	Title string

	// Name is the container name the entry points to, "" for headings
	// without a target or for external links.
	Name string

	// Frag is the escaped fragment of the target, without the '#'.
	Frag string

	// SpineIndex is the position of Name in SpineNames, -1 if absent.
	SpineIndex int

	// SpineEndIndex bounds the spine range covered by the entry; -1 when
	// SpineIndex is -1.
	SpineEndIndex int

	Children []TOCItem
}
