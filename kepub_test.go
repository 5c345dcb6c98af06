package polish

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const koboChap1 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Chapter 1</title><style type="text/css" class="kobostylehacks">div#book-inner { margin-top: 0; margin-bottom: 0; }</style></head>
<body><div id="book-columns"><div id="book-inner"><p><span class="koboSpan" id="kobo.1.1">First sentence. </span><span class="koboSpan" id="kobo.1.2">Second one.</span></p></div></div></body>
</html>`

func buildTestKEPUBFile(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "book.kepub")
	if err := os.WriteFile(p, buildTestEPubBytes(t, files), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestKEPUB_RoundTrip(t *testing.T) {
	path := buildTestKEPUBFile(t, withFiles(minimalEPubFiles(), "OEBPS/text/chap1.xhtml", koboChap1))
	c, err := Open(path, testOptions(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()
	if c.Format() != FormatKEPUB {
		t.Fatalf("Format() = %v", c.Format())
	}

	plain := readName(t, c, "OEBPS/text/chap1.xhtml")
	if hasKoboMarkup(plain) {
		t.Fatalf("Kobo markup survived open:\n%s", plain)
	}
	if !strings.Contains(plain, "<p>First sentence. Second one.</p>") {
		t.Errorf("text not merged back:\n%s", plain)
	}
	if got := readName(t, c, "OEBPS/text/chap2.xhtml"); got != testChap2 {
		t.Error("document without Kobo markup was rewritten on open")
	}

	out := filepath.Join(t.TempDir(), "out.kepub")
	if err := c.Commit(out, false); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	_, content := readZipEntries(t, out)
	chap1 := string(content["OEBPS/text/chap1.xhtml"])
	for _, want := range []string{
		`<div id="book-columns"><div id="book-inner">`,
		`<span class="koboSpan" id="kobo.1.1">First sentence. </span><span class="koboSpan" id="kobo.1.2">Second one.</span>`,
		`class="kobostylehacks"`,
	} {
		if !strings.Contains(chap1, want) {
			t.Errorf("committed chap1 missing %s:\n%s", want, chap1)
		}
	}
	if chap2 := string(content["OEBPS/text/chap2.xhtml"]); !strings.Contains(chap2, `id="kobo.1.1">Two</span>`) {
		t.Errorf("chap2 not kepubified:\n%s", chap2)
	}

	if hasKoboMarkup(readName(t, c, "OEBPS/text/chap1.xhtml")) {
		t.Error("commit added Kobo markup to the working copy")
	}
}

func TestKepubifyDocument(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><head><title>T</title></head><body><h1>Title</h1><p>One. Two? <b>Bold</b></p><p><img src="a.png"/></p><script>var x = "no. spans."</script></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	if !kepubifyDocument(doc) {
		t.Fatal("kepubifyDocument() reported no change")
	}
	ids := doc.Find("span.koboSpan").Map(func(_ int, s *goquery.Selection) string {
		id, _ := s.Attr("id")
		return id
	})
	want := []string{"kobo.1.1", "kobo.2.1", "kobo.2.2", "kobo.3.1", "kobo.4.1"}
	if !slices.Equal(ids, want) {
		t.Errorf("span ids = %v, want %v", ids, want)
	}
	if doc.Find("script span").Length() != 0 {
		t.Error("script content was split")
	}
	if doc.Find("body > div#book-columns > div#book-inner > h1").Length() != 1 {
		t.Error("body content not wrapped")
	}
	if kepubifyDocument(doc) {
		t.Error("second kepubifyDocument() changed the document")
	}

	if !unkepubifyDocument(doc) {
		t.Fatal("unkepubifyDocument() reported no change")
	}
	if doc.Find("span.koboSpan, div#book-inner, style.kobostylehacks").Length() != 0 {
		t.Error("Kobo markup left behind")
	}
	if got := doc.Find("p").First().Text(); got != "One. Two? Bold" {
		t.Errorf("paragraph text = %q", got)
	}
	if doc.Find("p img").Length() != 1 {
		t.Error("image lost when unwrapping")
	}
}

func TestKepubifyDocument_IndentedBody(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<html>\n<head>\n<title>T</title>\n</head>\n<body>\n  <p>One.</p>\n  <p>Two.</p>\n</body>\n</html>"))
	if err != nil {
		t.Fatal(err)
	}
	if !kepubifyDocument(doc) {
		t.Fatal("kepubifyDocument() reported no change")
	}
	if n := doc.Find("body").Children().Length(); n != 1 {
		t.Errorf("body has %d element children, want 1", n)
	}
	if got := doc.Find("body > div#book-columns > div#book-inner > p").Length(); got != 2 {
		t.Errorf("wrapped paragraphs = %d, want 2", got)
	}
	if got := doc.Find("head > style.kobostylehacks").Length(); got != 1 {
		t.Errorf("style hacks = %d, want 1", got)
	}
	if got := doc.Find("span.koboSpan").Length(); got != 2 {
		t.Errorf("kobo spans = %d, want 2", got)
	}
}

func TestKEPUB_CommitIndentedBook(t *testing.T) {
	c, err := Open(buildTestKEPUBFile(t, minimalEPubFiles()), testOptions(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()

	out := filepath.Join(t.TempDir(), "out.kepub")
	if err := c.Commit(out, false); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	_, content := readZipEntries(t, out)
	for _, name := range []string{"OEBPS/text/chap1.xhtml", "OEBPS/text/chap2.xhtml"} {
		if doc := string(content[name]); !strings.Contains(doc, `<div id="book-columns"><div id="book-inner">`) {
			t.Errorf("%s not wrapped:\n%s", name, doc)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"One. Two! Three?", []string{"One. ", "Two! ", "Three?"}},
		{"Hello", []string{"Hello"}},
		{"End. ", []string{"End. "}},
		{`He said "Hi." Then left.`, []string{`He said "Hi." `, "Then left."}},
		{"Wait\u2026 what?", []string{"Wait\u2026 ", "what?"}},
		{"", []string{""}},
	}
	for _, tt := range tests {
		if got := splitSentences(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
