package polish

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// fixedNow is the clock used by test containers so commits are
// reproducible.
var fixedNow = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func containerXMLFor(opfPath string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + opfPath + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`
}

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:12345678-1234-1234-1234-123456789012</dc:identifier>
    <dc:title>Test Book</dc:title>
    <dc:creator id="author">Jane Doe</dc:creator>
    <dc:language>en</dc:language>
    <meta property="dcterms:modified">2020-01-01T00:00:00Z</meta>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="chap1" href="text/chap1.xhtml" media-type="application/xhtml+xml"/>
    <item id="chap2" href="text/chap2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="styles/main.css" media-type="text/css"/>
    <item id="cover" href="images/cover.jpg" media-type="image/jpeg" properties="cover-image"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="chap1"/>
    <itemref idref="chap2"/>
  </spine>
</package>`

const testNav = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Contents</title></head>
<body>
<nav epub:type="toc"><ol>
<li><a href="text/chap1.xhtml">Chapter 1</a></li>
<li><a href="text/chap2.xhtml#s1">Chapter 2</a></li>
</ol></nav>
</body>
</html>`

const testNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="p1" playOrder="1"><navLabel><text>Chapter 1</text></navLabel><content src="text/chap1.xhtml"/></navPoint>
    <navPoint id="p2" playOrder="2"><navLabel><text>Chapter 2</text></navLabel><content src="text/chap2.xhtml#s1"/></navPoint>
  </navMap>
</ncx>`

const testChap1 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title>Chapter 1</title>
<link rel="stylesheet" type="text/css" href="../styles/main.css"/>
</head>
<body>
<p><img src="../images/cover.jpg" alt="cover"/></p>
<p>First chapter. <a href="chap2.xhtml#s1">Next</a></p>
</body>
</html>`

const testChap2 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Chapter 2</title></head>
<body>
<h1 id="s1">Two</h1>
<p style="background: url(../images/cover.jpg)">Back to <a href="chap1.xhtml">one</a>.</p>
</body>
</html>`

const testCSS = `body { margin: 0 }
.cover { background: url("../images/cover.jpg") no-repeat }
`

// minimalEPubFiles returns a small but complete EPUB 3 book.
func minimalEPubFiles() map[string]string {
	return map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": containerXMLFor("OEBPS/content.opf"),
		"OEBPS/content.opf":      testOPF,
		"OEBPS/nav.xhtml":        testNav,
		"OEBPS/toc.ncx":          testNCX,
		"OEBPS/text/chap1.xhtml": testChap1,
		"OEBPS/text/chap2.xhtml": testChap2,
		"OEBPS/styles/main.css":  testCSS,
		"OEBPS/images/cover.jpg": "\xff\xd8\xff\xe0fake-jpeg",
	}
}

// withFiles returns a copy of base with the given entries replaced.
// An empty value deletes the entry.
func withFiles(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			delete(out, kv[i])
		} else {
			out[kv[i]] = kv[i+1]
		}
	}
	return out
}

// sortedFileNames returns the names of files with mimetype first and the
// rest sorted, so archives built from the same map are identical.
func sortedFileNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		if name != "mimetype" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if _, ok := files["mimetype"]; ok {
		names = append([]string{"mimetype"}, names...)
	}
	return names
}

// buildTestEPubBytes creates an EPUB (ZIP) archive in memory. The mimetype
// entry, if present, is written first and stored uncompressed.
func buildTestEPubBytes(t testing.TB, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range sortedFileNames(files) {
		method := zip.Deflate
		if name == "mimetype" {
			method = zip.Store
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("buildTestEPubBytes: create %s: %v", name, err)
		}
		if _, err := io.WriteString(fw, files[name]); err != nil {
			t.Fatalf("buildTestEPubBytes: write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestEPubBytes: close writer: %v", err)
	}
	return buf.Bytes()
}

// buildTestEPubFile writes an EPUB archive to a temporary file and returns
// its path.
func buildTestEPubFile(t testing.TB, files map[string]string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestEPubBytes(t, files), 0o644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

// buildTestBookDir writes files as an unpacked book directory and returns
// its path.
func buildTestBookDir(t testing.TB, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "book")
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("buildTestBookDir: mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("buildTestBookDir: write %s: %v", name, err)
		}
	}
	return dir
}

func testOptions(t testing.TB) Options {
	return Options{TempDir: t.TempDir(), Now: fixedClock}
}

// openTestBook opens files as an EPUB archive. The container is closed
// when the test ends.
func openTestBook(t testing.TB, files map[string]string) *Container {
	t.Helper()
	c, err := Open(buildTestEPubFile(t, files), testOptions(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// readName returns the on-disk content of name after flushing.
func readName(t testing.TB, c *Container, name string) string {
	t.Helper()
	data, err := c.RawData(name)
	if err != nil {
		t.Fatalf("RawData(%q) error: %v", name, err)
	}
	return string(data)
}

// readZipEntries returns the entries of the archive at path in order.
func readZipEntries(t testing.TB, path string) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("zip.OpenReader(%q) error: %v", path, err)
	}
	defer zr.Close()
	var order []string
	content := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		order = append(order, f.Name)
		content[f.Name] = data
	}
	return order, content
}
