package polish

import (
	"errors"
	"os"
	"slices"
	"strings"
	"testing"
)

func TestManifestItems(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	items := c.ManifestItems()
	if len(items) != 6 {
		t.Fatalf("len(ManifestItems()) = %d, want 6", len(items))
	}
	if items[2].ID != "chap1" || items[2].Name != "OEBPS/text/chap1.xhtml" || items[2].Href != "text/chap1.xhtml" {
		t.Errorf("items[2] = %+v", items[2])
	}
	if !slices.Equal(items[0].Properties, []string{"nav"}) {
		t.Errorf("nav properties = %v", items[0].Properties)
	}
	if got := c.ManifestIDMap()["css"]; got != "OEBPS/styles/main.css" {
		t.Errorf("ManifestIDMap()[css] = %q", got)
	}
	if got := c.ManifestTypeMap()["OEBPS/images/cover.jpg"]; got != "image/jpeg" {
		t.Errorf("ManifestTypeMap()[cover] = %q", got)
	}
	if !c.ManifestHasName("OEBPS/nav.xhtml") || c.ManifestHasName("META-INF/container.xml") {
		t.Error("ManifestHasName() wrong")
	}
	if got := c.ManifestItemsWithProperty("COVER-IMAGE"); !slices.Equal(got, []string{"OEBPS/images/cover.jpg"}) {
		t.Errorf("ManifestItemsWithProperty() = %v", got)
	}
}

func TestSpine(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	want := []string{"OEBPS/text/chap1.xhtml", "OEBPS/text/chap2.xhtml"}
	if got := c.SpineNames(); !slices.Equal(got, want) {
		t.Fatalf("SpineNames() = %v, want %v", got, want)
	}
	if got := c.IndexInSpine("OEBPS/text/chap2.xhtml"); got != 1 {
		t.Errorf("IndexInSpine(chap2) = %d", got)
	}
	if got := c.IndexInSpine("OEBPS/styles/main.css"); got != -1 {
		t.Errorf("IndexInSpine(css) = %d", got)
	}

	err := c.SetSpine([]SpineItem{{Name: "OEBPS/text/chap2.xhtml", Linear: true}, {Name: "OEBPS/missing.xhtml"}})
	if !errors.Is(err, ErrNotInManifest) {
		t.Fatalf("err = %v, want ErrNotInManifest", err)
	}
	if got := c.SpineNames(); !slices.Equal(got, want) {
		t.Errorf("failed SetSpine() changed the spine: %v", got)
	}

	if err := c.SetSpine([]SpineItem{
		{Name: "OEBPS/text/chap1.xhtml"},
		{Name: "OEBPS/text/chap2.xhtml", Linear: true},
	}); err != nil {
		t.Fatal(err)
	}
	items := c.SpineItems()
	if items[0].Name != "OEBPS/text/chap2.xhtml" || !items[0].Linear || items[1].Linear {
		t.Errorf("SpineItems() = %+v, want linear items first", items)
	}
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	if opf := readName(t, c, "OEBPS/content.opf"); !strings.Contains(opf, `<itemref idref="chap1" linear="no"/>`) {
		t.Errorf("OPF spine:\n%s", opf)
	}
}

func TestRemoveFromSpine(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	if err := c.RemoveFromSpine([]string{"OEBPS/text/chap2.xhtml"}, false); err != nil {
		t.Fatal(err)
	}
	if got := c.SpineNames(); !slices.Equal(got, []string{"OEBPS/text/chap1.xhtml"}) {
		t.Errorf("SpineNames() = %v", got)
	}
	if !c.HasName("OEBPS/text/chap2.xhtml") {
		t.Error("file removed without removeFromBook")
	}

	if err := c.RemoveFromSpine([]string{"OEBPS/text/chap1.xhtml"}, true); err != nil {
		t.Fatal(err)
	}
	if c.HasName("OEBPS/text/chap1.xhtml") || c.ManifestHasName("OEBPS/text/chap1.xhtml") {
		t.Error("chap1 still in the book")
	}
}

func TestAddFile(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())

	name, err := c.AddFile("OEBPS/text/chap3.xhtml", []byte(testChap2), AddOptions{})
	if err != nil {
		t.Fatalf("AddFile() error: %v", err)
	}
	if name != "OEBPS/text/chap3.xhtml" {
		t.Errorf("name = %q", name)
	}
	if got, _ := c.MimeType(name); got != "application/xhtml+xml" {
		t.Errorf("MimeType() = %q", got)
	}
	if got := c.SpineNames(); got[len(got)-1] != name {
		t.Errorf("content document not appended to spine: %v", got)
	}
	if got := c.ManifestIDMap()["id"]; got != name {
		t.Errorf("manifest id for new file = %q", got)
	}

	zero := 0
	name, err = c.AddFile("OEBPS/text/front.xhtml", []byte(testChap2), AddOptions{SpineIndex: &zero, SuggestedID: "chap1"})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.SpineNames()[0]; got != name {
		t.Errorf("spine[0] = %q, want %q", got, name)
	}
	if got := c.ManifestIDMap()["chap11"]; got != name {
		t.Errorf("suggested id not made unique: %v", c.ManifestIDMap())
	}

	name, err = c.AddFile("OEBPS/images/pic.png", []byte("png"), AddOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if c.IndexInSpine(name) != -1 {
		t.Error("images must not be added to the spine")
	}
}

func TestAddFile_Conflicts(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())

	if _, err := c.AddFile("OEBPS/text/chap1.xhtml", nil, AddOptions{}); !errors.Is(err, ErrNameConflict) {
		t.Errorf("err = %v, want ErrNameConflict", err)
	}
	if _, err := c.AddFile("OEBPS/TEXT/CHAP1.xhtml", nil, AddOptions{}); !errors.Is(err, ErrNameConflict) {
		t.Errorf("case-insensitive conflict: err = %v, want ErrNameConflict", err)
	}
	if _, err := c.AddFile("../evil.xhtml", nil, AddOptions{}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}

	first, err := c.AddFile("OEBPS/text/chap1.xhtml", nil, AddOptions{ModifyNameIfNeeded: true})
	if err != nil {
		t.Fatal(err)
	}
	if first != "OEBPS/text/chap1-1.xhtml" {
		t.Errorf("first = %q", first)
	}
	second, err := c.AddFile(first, nil, AddOptions{ModifyNameIfNeeded: true})
	if err != nil {
		t.Fatal(err)
	}
	if second != "OEBPS/text/chap1-2.xhtml" {
		t.Errorf("second = %q, want chap1-2 rather than a nested counter", second)
	}
}

func TestRemoveItem(t *testing.T) {
	opf := strings.Replace(testOPF, `</metadata>`, `<meta name="cover" content="cover"/>
    <meta refines="#cover" property="file-as">x</meta>
  </metadata>
  `, 1)
	opf = strings.Replace(opf, `</package>`, `<guide><reference type="cover" href="images/cover.jpg" title="Cover"/></guide>
</package>`, 1)
	c := openTestBook(t, withFiles(minimalEPubFiles(), "OEBPS/content.opf", opf))
	if got := c.GuideTypeMap()["cover"]; got != "OEBPS/images/cover.jpg" {
		t.Fatalf("GuideTypeMap()[cover] = %q", got)
	}

	if err := c.RemoveItem("OEBPS/images/cover.jpg", true); err != nil {
		t.Fatalf("RemoveItem() error: %v", err)
	}
	if c.HasName("OEBPS/images/cover.jpg") {
		t.Error("file still present")
	}
	if _, err := os.Stat(c.NameToPath("OEBPS/images/cover.jpg")); !os.IsNotExist(err) {
		t.Error("file still on disk")
	}
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	got := readName(t, c, "OEBPS/content.opf")
	for _, gone := range []string{`images/cover.jpg`, `name="cover"`, `refines="#cover"`, `<reference`} {
		if strings.Contains(got, gone) {
			t.Errorf("OPF still contains %s:\n%s", gone, got)
		}
	}

	if err := c.RemoveItem("OEBPS/nothing.xhtml", true); err != nil {
		t.Errorf("removing a missing name: %v", err)
	}
}

func TestRemoveItem_SpineAndTOC(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	if err := c.RemoveItem("OEBPS/toc.ncx", false); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveItem("OEBPS/text/chap1.xhtml", false); err != nil {
		t.Fatal(err)
	}
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	opf := readName(t, c, "OEBPS/content.opf")
	if strings.Contains(opf, `toc="ncx"`) || strings.Contains(opf, `idref="chap1"`) {
		t.Errorf("dangling references left:\n%s", opf)
	}
}

func TestRemoveItem_NotAllowed(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	for _, name := range []string{"OEBPS/content.opf", "META-INF/container.xml"} {
		if err := c.RemoveItem(name, true); !errors.Is(err, ErrRemoveNotAllowed) {
			t.Errorf("RemoveItem(%s) = %v, want ErrRemoveNotAllowed", name, err)
		}
	}
}

func TestApplyUniqueProperties(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	removed, added := c.ApplyUniqueProperties("OEBPS/text/chap1.xhtml", "cover-image")
	if !slices.Equal(removed, []string{"OEBPS/images/cover.jpg"}) || !slices.Equal(added, []string{"OEBPS/text/chap1.xhtml"}) {
		t.Errorf("removed = %v, added = %v", removed, added)
	}
	if got := c.ManifestItemsWithProperty("cover-image"); !slices.Equal(got, []string{"OEBPS/text/chap1.xhtml"}) {
		t.Errorf("ManifestItemsWithProperty() = %v", got)
	}

	c.ApplyUniqueProperties("", "cover-image")
	if got := c.ManifestItemsWithProperty("cover-image"); len(got) != 0 {
		t.Errorf("property not cleared: %v", got)
	}
	if !c.AddProperties("OEBPS/text/chap2.xhtml", "scripted", "svg") {
		t.Fatal("AddProperties() = false")
	}
	if c.AddProperties("OEBPS/none.xhtml", "svg") {
		t.Error("AddProperties() on a missing item = true")
	}
}

func TestGenerateItem(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	item, err := c.GenerateItem("OEBPS/text/chap1.xhtml", "chap", "", true)
	if err != nil {
		t.Fatalf("GenerateItem() error: %v", err)
	}
	want := ManifestItem{ID: "chap", Href: "text/chap1-1.xhtml", Name: "OEBPS/text/chap1-1.xhtml", MediaType: "application/xhtml+xml"}
	if item.ID != want.ID || item.Href != want.Href || item.Name != want.Name || item.MediaType != want.MediaType {
		t.Errorf("item = %+v, want %+v", item, want)
	}
	if !c.HasName(item.Name) {
		t.Error("no file created for the generated item")
	}

	item, err = c.GenerateItem("OEBPS/data.bin", "ch", "application/octet-stream", false)
	if err != nil {
		t.Fatal(err)
	}
	if mt, _ := c.MimeType(item.Name); item.ID != "ch" || mt != "application/octet-stream" {
		t.Errorf("item = %+v, media type %q", item, mt)
	}
}

func TestOPFGetOrCreate(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	guide, err := c.OPFGetOrCreate("guide")
	if err != nil {
		t.Fatal(err)
	}
	again, err := c.OPFGetOrCreate("guide")
	if err != nil {
		t.Fatal(err)
	}
	if guide != again {
		t.Error("second call created another element")
	}
	if !c.IsDirty("OEBPS/content.opf") {
		t.Error("OPF not marked dirty")
	}
}

func TestSetMediaOverlayDurations(t *testing.T) {
	c := openTestBook(t, minimalEPubFiles())
	if err := c.SetMediaOverlayDurations(map[string]float64{"mo1": 1.5, "mo2": 2}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMediaOverlayDurations(map[string]float64{"mo1": 1.5, "mo2": 2}); err != nil {
		t.Fatal(err)
	}
	if err := c.Flush(true); err != nil {
		t.Fatal(err)
	}
	opf := readName(t, c, "OEBPS/content.opf")
	for _, want := range []string{
		`<meta property="media:duration" refines="#mo1">00:00:01.5</meta>`,
		`<meta property="media:duration" refines="#mo2">00:00:02</meta>`,
		`<meta property="media:duration">00:00:03.5</meta>`,
	} {
		if strings.Count(opf, want) != 1 {
			t.Errorf("want exactly one %s in:\n%s", want, opf)
		}
	}
}

func TestSecondsToTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{3661.25, "01:01:01.25"},
		{7200.5, "02:00:00.5"},
	}
	for _, tt := range tests {
		if got := secondsToTimestamp(tt.in); got != tt.want {
			t.Errorf("secondsToTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
