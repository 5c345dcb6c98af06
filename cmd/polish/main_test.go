package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simp-lee/polish/internal/worker"
)

var bookFiles = map[string]string{
	"mimetype": "application/epub+zip",
	"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`,
	"OEBPS/content.opf": `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:identifier id="uid">urn:uuid:0b4f9c3e-8a51-4e0f-9d2c-7f1a6b3c5d2e</dc:identifier>
    <dc:title>Command Book</dc:title>
    <dc:creator opf:role="aut">Ann Author</dc:creator>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`,
	"OEBPS/text/ch1.xhtml": `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>One</title></head>
<body><p><a href="ch2.xhtml">next</a></p></body></html>`,
	"OEBPS/text/ch2.xhtml": `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>Two</title></head>
<body><p><a href="ch1.xhtml">back</a></p></body></html>`,
}

func writeBook(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range bookFiles {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	cfg := "temp_dir = " + quoteTOML(t.TempDir()) + "\n[logging]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func quoteTOML(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestListCommand(t *testing.T) {
	book := writeBook(t)

	out, err := runCommand(t, "", "ls", book)
	require.NoError(t, err)
	assert.Contains(t, out, "OEBPS/text/ch1.xhtml")
	assert.Contains(t, out, "application/xhtml+xml")
	assert.Contains(t, out, "META-INF/container.xml")
}

func TestInfoCommand(t *testing.T) {
	book := writeBook(t)

	out, err := runCommand(t, "", "info", book)
	require.NoError(t, err)
	assert.Contains(t, out, "Command Book")
	assert.Contains(t, out, "Ann Author")
	assert.Contains(t, out, "2 documents")
}

func TestTOCCommand(t *testing.T) {
	book := writeBook(t)

	out, err := runCommand(t, "", "toc", book)
	require.NoError(t, err)
	assert.Contains(t, out, "No entries")

	ncx := `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1"><navMap>
<navPoint id="n1" playOrder="1"><navLabel><text>Opening</text></navLabel><content src="text/ch2.xhtml#top"/></navPoint>
</navMap></ncx>`
	require.NoError(t, os.WriteFile(filepath.Join(book, "OEBPS", "toc.ncx"), []byte(ncx), 0o644))
	opfPath := filepath.Join(book, "OEBPS", "content.opf")
	opf, err := os.ReadFile(opfPath)
	require.NoError(t, err)
	opf = bytes.Replace(opf, []byte("<manifest>"),
		[]byte(`<manifest><item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`), 1)
	require.NoError(t, os.WriteFile(opfPath, opf, 0o644))

	out, err = runCommand(t, "", "toc", book)
	require.NoError(t, err)
	assert.Contains(t, out, "Opening")
	assert.Contains(t, out, "OEBPS/text/ch2.xhtml#top")
}

func TestCheckCommandClean(t *testing.T) {
	book := writeBook(t)

	out, err := runCommand(t, "", "check", "-j", "2", book)
	require.NoError(t, err)
	assert.Contains(t, out, "No problems found")
}

func TestMoveCommandUpdatesLinks(t *testing.T) {
	book := writeBook(t)

	_, err := runCommand(t, "", "mv", book, "OEBPS/text/ch2.xhtml=OEBPS/text/part2.xhtml")
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(book, "OEBPS", "text", "ch2.xhtml"))
	ch1, err := os.ReadFile(filepath.Join(book, "OEBPS", "text", "ch1.xhtml"))
	require.NoError(t, err)
	assert.Contains(t, string(ch1), `href="part2.xhtml"`)
	opf, err := os.ReadFile(filepath.Join(book, "OEBPS", "content.opf"))
	require.NoError(t, err)
	assert.Contains(t, string(opf), `href="text/part2.xhtml"`)

	out, err := runCommand(t, "", "check", book)
	require.NoError(t, err)
	assert.Contains(t, out, "No problems found")
}

func TestMoveCommandRejectsBadArgument(t *testing.T) {
	book := writeBook(t)

	_, err := runCommand(t, "", "mv", book, "OEBPS/text/ch2.xhtml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want old=new")
}

func TestAddAndRemoveCommands(t *testing.T) {
	book := writeBook(t)
	src := filepath.Join(t.TempDir(), "notes.css")
	require.NoError(t, os.WriteFile(src, []byte("p { margin: 0 }"), 0o644))

	out, err := runCommand(t, "", "add", book, src)
	require.NoError(t, err)
	assert.Equal(t, "OEBPS/notes.css", strings.TrimSpace(out))
	assert.FileExists(t, filepath.Join(book, "OEBPS", "notes.css"))

	_, err = runCommand(t, "", "rm", book, "OEBPS/notes.css")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(book, "OEBPS", "notes.css"))
	opf, err := os.ReadFile(filepath.Join(book, "OEBPS", "content.opf"))
	require.NoError(t, err)
	assert.NotContains(t, string(opf), "notes.css")
}

func TestRemoveCommandRefusesOPF(t *testing.T) {
	book := writeBook(t)

	_, err := runCommand(t, "", "rm", book, "OEBPS/content.opf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "removal not allowed")
}

func TestRoundtripCommandWritesArchive(t *testing.T) {
	book := writeBook(t)
	out := filepath.Join(t.TempDir(), "book.epub")

	_, err := runCommand(t, "", "roundtrip", book, out)
	require.NoError(t, err)
	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()
	require.NotEmpty(t, zr.File)
	assert.Equal(t, "mimetype", zr.File[0].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "OEBPS/text/ch1.xhtml")
}

func TestWorkerCommandWithoutCodec(t *testing.T) {
	req, err := json.Marshal(worker.Request{Op: worker.OpExplode, Path: "book.azw3", Dest: t.TempDir()})
	require.NoError(t, err)

	out, err := runCommand(t, string(req), "worker")
	require.NoError(t, err)

	var res worker.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res.Error, "no MOBI codec")
}
