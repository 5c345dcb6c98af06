package polish

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/beevik/etree"
)

func TestParsed_Types(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	tests := []struct {
		name string
		want string
	}{
		{"OEBPS/text/chap1.xhtml", "*etree.Document"},
		{"OEBPS/toc.ncx", "*etree.Document"},
		{"OEBPS/styles/main.css", "*polish.Stylesheet"},
		{"OEBPS/images/cover.jpg", "[]uint8"},
	}
	for _, tt := range tests {
		obj, err := c.Parsed(tt.name)
		if err != nil {
			t.Fatalf("Parsed(%s) error: %v", tt.name, err)
		}
		if got := typeName(obj); got != tt.want {
			t.Errorf("Parsed(%s) type = %s, want %s", tt.name, got, tt.want)
		}
	}

	if _, err := c.Parsed("OEBPS/none.xhtml"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
	if _, err := c.ParsedCSS("OEBPS/text/chap1.xhtml"); err == nil {
		t.Error("ParsedCSS() on a content document succeeded")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *etree.Document:
		return "*etree.Document"
	case *Stylesheet:
		return "*polish.Stylesheet"
	case []byte:
		return "[]uint8"
	}
	return "unknown"
}

func TestParsed_Cached(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	a, _ := c.ParsedXML("OEBPS/text/chap1.xhtml")
	b, _ := c.ParsedXML("OEBPS/text/chap1.xhtml")
	if a != b {
		t.Error("Parsed() did not return the cached object")
	}
}

func TestDirtyAndFlush(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	doc, err := c.ParsedXML("OEBPS/text/chap2.xhtml")
	if err != nil {
		t.Fatal(err)
	}
	doc.FindElement("//h1").SetText("Deux")
	if got := readName(t, c, "OEBPS/text/chap2.xhtml"); got != testChap2 {
		t.Error("undirtied change written to disk")
	}

	c.Dirty("OEBPS/text/chap2.xhtml")
	c.Dirty("OEBPS/styles/main.css")
	if got := c.DirtyNames(); strings.Join(got, ",") != "OEBPS/styles/main.css,OEBPS/text/chap2.xhtml" {
		t.Errorf("DirtyNames() = %v", got)
	}
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	if len(c.DirtyNames()) != 0 {
		t.Error("dirty set not cleared by Flush()")
	}
	if got := readName(t, c, "OEBPS/text/chap2.xhtml"); !strings.Contains(got, `<h1 id="s1">Deux</h1>`) {
		t.Errorf("flushed document:\n%s", got)
	}
	if got := readName(t, c, "OEBPS/styles/main.css"); got != testCSS {
		t.Errorf("stylesheet changed by a no-op round trip: %q", got)
	}
}

func TestCommitItem_KeepParsed(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	const name = "OEBPS/text/chap1.xhtml"
	first, _ := c.ParsedXML(name)
	c.Dirty(name)
	if err := c.CommitItem(name, true); err != nil {
		t.Fatal(err)
	}
	if again, _ := c.ParsedXML(name); again != first {
		t.Error("keepParsed dropped the cached object")
	}
	if err := c.CommitItem(name, false); err != nil {
		t.Fatal(err)
	}
	if again, _ := c.ParsedXML(name); again == first {
		t.Error("cached object kept without keepParsed")
	}
}

func TestCommitItem_WriteFailureKeepsEdit(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	const name = "OEBPS/text/chap1.xhtml"
	doc, err := c.ParsedXML(name)
	if err != nil {
		t.Fatal(err)
	}
	doc.FindElement("//title").SetText("Edited")
	c.Dirty(name)

	// A directory in place of the file makes the write fail.
	p := c.NameToPath(name)
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := c.CommitItem(name, false); err == nil {
		t.Fatal("CommitItem() succeeded writing over a directory")
	}
	if !c.IsDirty(name) {
		t.Error("failed commit cleared the dirty flag")
	}
	if again, _ := c.ParsedXML(name); again != doc {
		t.Error("failed commit dropped the cached object")
	}

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if err := c.CommitItem(name, false); err != nil {
		t.Fatalf("CommitItem() error after retry: %v", err)
	}
	if c.IsDirty(name) {
		t.Error("dirty flag kept after a successful commit")
	}
	if got := readName(t, c, name); !strings.Contains(got, "<title>Edited</title>") {
		t.Errorf("edit not written:\n%s", got)
	}
}

func TestReplace(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	if err := c.Replace("OEBPS/styles/main.css", ParseStylesheet("p { margin: 0 }")); err != nil {
		t.Fatal(err)
	}
	if !c.IsDirty("OEBPS/styles/main.css") {
		t.Error("Replace() did not mark the file dirty")
	}
	if got := readName(t, c, "OEBPS/styles/main.css"); got != "p { margin: 0 }" {
		t.Errorf("content = %q", got)
	}

	if err := c.Replace("OEBPS/styles/main.css", "plain string"); err == nil {
		t.Error("Replace() accepted an unsupported type")
	}
	if err := c.Replace("OEBPS/none.css", []byte("x")); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestSetPrettyPrint(t *testing.T) {
	const name = "OEBPS/data.xml"
	c := openTestBook(t, withFiles(minimalEPubFiles(), name, `<root><a>x</a><b/></root>`))
	if _, err := c.ParsedXML(name); err != nil {
		t.Fatal(err)
	}
	c.SetPrettyPrint(name, true)
	c.Dirty(name)
	got := readName(t, c, name)
	if !strings.Contains(got, "\n  <a>x</a>\n  <b/>\n") {
		t.Errorf("pretty printed:\n%s", got)
	}

	c.SetPrettyPrint(name, false)
	if err := c.Replace(name, mustParseXML(t, `<root><a>x</a></root>`)); err != nil {
		t.Fatal(err)
	}
	if got := readName(t, c, name); strings.Contains(got, "  <a>") {
		t.Errorf("indented without pretty print:\n%s", got)
	}
}

func mustParseXML(t *testing.T, text string) *etree.Document {
	t.Helper()
	doc, err := parseXML(text)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestParseHTML_TagSoup(t *testing.T) {
	doc, err := parseHTML(`<html><body><p>One<p>Two<br></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Root().SelectAttrValue("xmlns", ""); got != nsXHTML {
		t.Errorf("xmlns = %q", got)
	}
	if n := len(doc.FindElements("//p")); n != 2 {
		t.Errorf("found %d paragraphs, want 2", n)
	}
}

func TestRawText_Encodings(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"latin-1 declaration", "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><p>caf\xe9</p>", "café"},
		{"utf-8 BOM", "\xef\xbb\xbf<p>naïve</p>", "<p>naïve</p>"},
		{"css charset", "@charset \"windows-1252\";\np::after { content: \"\x93q\x94\" }", "“q”"},
		{"decomposed", "<p>e\u0301</p>", "<p>\u00e9</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeText([]byte(tt.data))
			if err != nil {
				t.Fatalf("decodeText() error: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("decodeText() = %q, want it to contain %q", got, tt.want)
			}
		})
	}

	if _, err := decodeText([]byte(`<?xml version="1.0" encoding="x-no-such-charset"?><p/>`)); err == nil {
		t.Error("unknown encoding accepted")
	}
}

func TestFileSize(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	size, err := c.FileSize("OEBPS/styles/main.css")
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(testCSS)) {
		t.Errorf("FileSize() = %d, want %d", size, len(testCSS))
	}
}
