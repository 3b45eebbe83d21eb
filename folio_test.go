package folio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/internal/pdftest"
)

// twoPageFile returns a document whose first page has one image and whose
// second page points at a missing XObject dictionary. startxref is taken
// from the table unless override is non-negative.
func twoPageFile(override int64) []byte {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, 0, "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	b.Object(3, 0, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] /Resources << /XObject << /Im1 6 0 R >> >> >>")
	b.Object(4, 0, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] /Resources << /XObject 9 0 R >> >>")
	b.Object(5, 0, "<< /Title (Two Pages) /Producer (folio) >>")
	b.Stream(6, "/Type /XObject /Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceGray /BitsPerComponent 8",
		[]byte{0, 64, 128, 255})
	x := b.XRef(1, 2, 3, 4, 5, 6)
	b.Trailer("/Size 7 /Root 1 0 R /Info 5 0 R")
	if override >= 0 {
		x = override
	}
	b.StartXRef(x)
	return b.Bytes()
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func fromBytes(data []byte) *Loader {
	return FromReaderAt(bytes.NewReader(data), int64(len(data)))
}

// TestLoaderImmutability tests that configuration methods do not modify the receiver
func TestLoaderImmutability(t *testing.T) {
	base := Open("doc.pdf")
	withPages := base.Pages(1, 2)
	withPassword := withPages.Password("secret").Strict()

	if base.options.pages != nil {
		t.Errorf("base pages = %v, want nil", base.options.pages)
	}
	if len(withPages.options.pages) != 2 || withPages.options.password != "" || withPages.options.strict {
		t.Errorf("withPages options = %+v", withPages.options)
	}
	if withPassword.options.password != "secret" || !withPassword.options.strict {
		t.Errorf("withPassword options = %+v", withPassword.options)
	}

	withPages.options.pages[0] = 99
	if withPassword.options.pages[0] != 1 {
		t.Error("clone shares the page slice")
	}
}

// TestLoaderPageCount tests a terminal operation on a file path
func TestLoaderPageCount(t *testing.T) {
	path := writeFile(t, twoPageFile(-1))
	n, err := Open(path).PageCount()
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("PageCount = %d, want 2", n)
	}
}

// TestLoaderMetadata tests information dictionary decoding
func TestLoaderMetadata(t *testing.T) {
	meta, err := fromBytes(twoPageFile(-1)).Metadata()
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta["Title"] != "Two Pages" || meta["Producer"] != "folio" {
		t.Errorf("Metadata = %v", meta)
	}
}

// TestLoaderImages tests page selection and per-page warnings
func TestLoaderImages(t *testing.T) {
	tests := []struct {
		name         string
		loader       func(*Loader) *Loader
		wantImages   int
		wantWarnings []int
	}{
		{"all pages", func(l *Loader) *Loader { return l }, 1, []int{2}},
		{"first page", func(l *Loader) *Loader { return l.Pages(1) }, 1, nil},
		{"second page", func(l *Loader) *Loader { return l.PageRange(2, 2) }, 0, []int{2}},
		{"duplicates", func(l *Loader) *Loader { return l.Pages(1, 1) }, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images, warnings, err := tt.loader(fromBytes(twoPageFile(-1))).Images()
			if err != nil {
				t.Fatalf("Images failed: %v", err)
			}
			if len(images) != tt.wantImages {
				t.Errorf("got %d images, want %d", len(images), tt.wantImages)
			}
			if len(warnings) != len(tt.wantWarnings) {
				t.Fatalf("warnings = %v", warnings)
			}
			for i, w := range warnings {
				if w.Page != tt.wantWarnings[i] {
					t.Errorf("warning %d on page %d, want %d", i, w.Page, tt.wantWarnings[i])
				}
			}
		})
	}

	images := MustWarn(fromBytes(twoPageFile(-1)).Pages(1).Images())
	if images[0].Name != "Im1" || !bytes.Equal(images[0].Data, []byte{0, 64, 128, 255}) {
		t.Errorf("image = %+v", images[0])
	}
}

// TestLoaderPageOutOfRange tests page validation
func TestLoaderPageOutOfRange(t *testing.T) {
	for _, p := range []int{0, 3, -1} {
		_, _, err := fromBytes(twoPageFile(-1)).Pages(p).Images()
		if err == nil || !strings.Contains(err.Error(), "out of range") {
			t.Errorf("page %d: expected out of range error, got %v", p, err)
		}
	}
}

// TestLoaderRecoveredWarning tests the document-level warning after a scan
func TestLoaderRecoveredWarning(t *testing.T) {
	_, warnings, err := fromBytes(twoPageFile(5)).Pages(1).Images()
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Page != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	if !strings.Contains(FormatWarnings(warnings), "recovered") {
		t.Errorf("FormatWarnings = %q", FormatWarnings(warnings))
	}
}

// TestLoaderOptionErrors tests that invalid options fail at the terminal operation
func TestLoaderOptionErrors(t *testing.T) {
	tests := []struct {
		name   string
		loader *Loader
	}{
		{"header window", fromBytes(twoPageFile(-1)).HeaderWindow(0)},
		{"revisions", fromBytes(twoPageFile(-1)).MaxRevisions(-2).Password("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.loader.Load(); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := (&Loader{}).Load(); err == nil {
		t.Error("expected error for a loader without a source")
	}
}

// TestLoaderNotPDF tests that load errors surface unchanged
func TestLoaderNotPDF(t *testing.T) {
	_, err := fromBytes([]byte("plain text, no objects here")).PageCount()
	if err == nil {
		t.Fatal("expected error")
	}
	path := filepath.Join(t.TempDir(), "missing.pdf")
	if _, err := Open(path).Load(); !errors.Is(err, core.ErrIO) {
		t.Errorf("expected ErrIO, got %v", err)
	}
}

// TestFromDocument tests that terminal operations leave a supplied document open
func TestFromDocument(t *testing.T) {
	doc, err := fromBytes(twoPageFile(-1)).Load()
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	if n := Must(FromDocument(doc).PageCount()); n != 2 {
		t.Errorf("PageCount = %d", n)
	}
	if _, err := doc.ResolveReference(doc.RootRef()); err != nil {
		t.Errorf("document was closed by the loader: %v", err)
	}
}

// TestMust tests that Must panics on error
func TestMust(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Must(Open(filepath.Join(t.TempDir(), "missing.pdf")).PageCount())
}

// TestWarningString tests warning formatting
func TestWarningString(t *testing.T) {
	tests := []struct {
		w    Warning
		want string
	}{
		{Warning{Message: "damaged"}, "damaged"},
		{Warning{Page: 3, Message: "bad image"}, "page 3: bad image"},
	}
	for _, tt := range tests {
		if got := tt.w.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if got := FormatWarnings([]Warning{{Message: "a"}, {Page: 1, Message: "b"}}); got != "a\npage 1: b" {
		t.Errorf("FormatWarnings = %q", got)
	}
}
