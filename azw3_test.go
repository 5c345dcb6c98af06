package polish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/simp-lee/polish/internal/worker"
)

const azw3OPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">calibre:1</dc:identifier>
    <dc:title>Kindle Book</dc:title>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="p0" href="text/part0000.html" media-type="application/xhtml+xml"/>
    <item id="f0" href="fonts/a.ttf" media-type="application/x-font-ttf"/>
  </manifest>
  <spine>
    <itemref idref="p0"/>
  </spine>
</package>`

// fakeCodec explodes every book into a fixed OPF tree and records rebuilds.
type fakeCodec struct {
	explodeErr error
	exploded   int

	rebuiltOPF   string
	rebuiltOut   string
	rebuiltFonts []string
	rebuiltText  string
}

func (f *fakeCodec) Explode(_ context.Context, _, dest string) (string, []string, error) {
	f.exploded++
	if f.explodeErr != nil {
		return "", nil, f.explodeErr
	}
	files := map[string]string{
		"content.opf":        azw3OPF,
		"text/part0000.html": `<html xmlns="http://www.w3.org/1999/xhtml"><head><title>x</title></head><body><p>Kindle</p></body></html>`,
		"fonts/a.ttf":        "\x00\x01\x00\x00font",
	}
	for name, content := range files {
		p := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", nil, err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return "", nil, err
		}
	}
	return "content.opf", []string{"fonts/a.ttf"}, nil
}

func (f *fakeCodec) Rebuild(_ context.Context, opfPath, outPath string, fonts []string) error {
	f.rebuiltOPF, f.rebuiltOut, f.rebuiltFonts = opfPath, outPath, fonts
	data, err := os.ReadFile(filepath.Join(filepath.Dir(opfPath), "text", "part0000.html"))
	f.rebuiltText = string(data)
	return err
}

func openTestAZW3(t *testing.T, codec MobiCodec) (*Container, error) {
	t.Helper()
	opts := testOptions(t)
	opts.Codec = codec
	c, err := Open(writeMobi(t, buildMobi(mobiLayout{version: 8})), opts)
	if err == nil {
		t.Cleanup(func() { c.Close() })
	}
	return c, err
}

func TestAZW3_OpenAndCommit(t *testing.T) {
	codec := &fakeCodec{}
	c, err := openTestAZW3(t, codec)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if c.Format() != FormatAZW3 || c.OPFName() != "content.opf" {
		t.Fatalf("format = %v, opf = %q", c.Format(), c.OPFName())
	}
	if got := c.BookTypeForDisplay(); got != "AZW3" {
		t.Errorf("BookTypeForDisplay() = %q", got)
	}
	if got := c.SpineNames(); !slices.Equal(got, []string{"text/part0000.html"}) {
		t.Errorf("SpineNames() = %v", got)
	}

	doc, err := c.ParsedXML("text/part0000.html")
	if err != nil {
		t.Fatal(err)
	}
	doc.FindElement("//p").SetText("Edited")
	c.Dirty("text/part0000.html")

	out := filepath.Join(t.TempDir(), "out.azw3")
	if err := c.Commit(out, false); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if codec.rebuiltOPF != c.NameToPath("content.opf") || codec.rebuiltOut != out {
		t.Errorf("Rebuild(%q, %q)", codec.rebuiltOPF, codec.rebuiltOut)
	}
	if !slices.Equal(codec.rebuiltFonts, []string{"fonts/a.ttf"}) {
		t.Errorf("fonts = %v", codec.rebuiltFonts)
	}
	if !strings.Contains(codec.rebuiltText, "Edited") {
		t.Error("pending edits were not flushed before the rebuild")
	}
}

func TestAZW3_NamesAreFixed(t *testing.T) {
	c, err := openTestAZW3(t, &fakeCodec{})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Rename("text/part0000.html", "text/chapter.html")
	if !errors.Is(err, ErrRenameNotAllowed) {
		t.Errorf("err = %v, want ErrRenameNotAllowed", err)
	}
}

func TestAZW3_NoCodec(t *testing.T) {
	_, err := openTestAZW3(t, nil)
	if !errors.Is(err, ErrNoCodec) {
		t.Fatalf("err = %v, want ErrNoCodec", err)
	}
}

func TestAZW3_ExplodeFailure(t *testing.T) {
	tmp := t.TempDir()
	codec := &fakeCodec{explodeErr: &worker.Error{Op: worker.OpExplode, Message: "bad record", Traceback: "goroutine 1"}}
	opts := Options{TempDir: tmp, Codec: codec}
	_, err := Open(writeMobi(t, buildMobi(mobiLayout{version: 8})), opts)
	if !errors.Is(err, ErrInvalidMobi) || !errors.Is(err, ErrExplodeFailed) {
		t.Fatalf("err = %v, want ErrInvalidMobi and ErrExplodeFailed", err)
	}
	var werr *worker.Error
	if !errors.As(err, &werr) || werr.Traceback != "goroutine 1" {
		t.Errorf("worker error not preserved: %v", err)
	}
	if entries, _ := os.ReadDir(tmp); len(entries) != 0 {
		t.Errorf("working directory left behind: %v", entries)
	}
}

func TestAZW3_RejectedBeforeExplode(t *testing.T) {
	tests := []struct {
		name   string
		layout mobiLayout
		want   error
	}{
		{"MOBI6", mobiLayout{version: 6}, ErrInvalidMobi},
		{"encrypted", mobiLayout{version: 8, encryption: 1}, ErrDRMProtected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &fakeCodec{}
			opts := testOptions(t)
			opts.Codec = codec
			_, err := Open(writeMobi(t, buildMobi(tt.layout)), opts)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if codec.exploded != 0 {
				t.Error("codec called for a book that cannot be edited")
			}
		})
	}
}

func TestServeCodec(t *testing.T) {
	codec := &fakeCodec{}
	handle := ServeCodec(codec)
	dest := t.TempDir()

	res, err := handle(context.Background(), worker.Request{Op: worker.OpExplode, Path: "in.azw3", Dest: dest})
	if err != nil {
		t.Fatalf("explode: %v", err)
	}
	if res.OPFPath != "content.opf" || !slices.Equal(res.ObfuscatedFonts, []string{"fonts/a.ttf"}) {
		t.Errorf("result = %+v", res)
	}

	opf := filepath.Join(dest, "content.opf")
	if _, err := handle(context.Background(), worker.Request{Op: worker.OpRebuild, Path: opf, Dest: "out.azw3"}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if codec.rebuiltOPF != opf || codec.rebuiltOut != "out.azw3" {
		t.Errorf("Rebuild(%q, %q)", codec.rebuiltOPF, codec.rebuiltOut)
	}

	if _, err := handle(context.Background(), worker.Request{Op: "shrink"}); err == nil {
		t.Error("unknown operation accepted")
	}
}
