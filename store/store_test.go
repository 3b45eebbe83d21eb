package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/internal/pdftest"
	"github.com/tsawler/folio/security"
	"github.com/tsawler/folio/xref"
)

// open loads the revision at the last startxref of b into a fresh store.
func open(t *testing.T, b *pdftest.Builder, xrefAt int64) *Store {
	t.Helper()
	r, size := b.Reader()
	chain := xref.NewChain(core.NewSource(r, size))
	if _, err := chain.Load(xrefAt); err != nil {
		t.Fatalf("loading xref: %v", err)
	}
	return New(chain)
}

// TestResolveUsed tests resolving objects by file offset
func TestResolveUsed(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Stream(2, "/Subtype /Form", []byte("0 0 m 1 1 l S"))
	x := b.XRef(1, 2)
	b.Trailer("/Size 3 /Root 1 0 R").StartXRef(x)

	st := open(t, b, x)
	ctx := context.Background()

	obj, err := st.Resolve(ctx, core.Reference{Number: 1})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	d, ok := obj.(core.Dict)
	if !ok {
		t.Fatalf("expected Dict, got %T", obj)
	}
	if typ, _ := d.GetName("Type"); typ != "Catalog" {
		t.Errorf("Type = %v", typ)
	}

	first, err := st.Resolve(ctx, core.Reference{Number: 2})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := st.Resolve(ctx, core.Reference{Number: 2})
	if first.(*core.Stream) != second.(*core.Stream) {
		t.Error("cached stream should be returned by identity")
	}
	if string(first.(*core.Stream).Data) != "0 0 m 1 1 l S" {
		t.Errorf("stream data = %q", first.(*core.Stream).Data)
	}

	if got := st.Stats().Resolved; got != 2 {
		t.Errorf("Resolved = %d, want 2", got)
	}

	obj, err = st.GetObject(1)
	if err != nil || obj.(core.Dict) == nil {
		t.Errorf("GetObject(1) = %v, %v", obj, err)
	}
	if v, _ := st.Deref(ctx, core.Int(5)); v != core.Int(5) {
		t.Errorf("Deref of a direct object changed it: %v", v)
	}
}

// TestResolveFree tests that free and missing entries never materialize
func TestResolveFree(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(3, 0, "(deleted but still in the file)")
	x := b.Len()
	b.Raw("xref\n0 4\n0000000000 65535 f\r\n")
	b.Raw(fmt.Sprintf("%010d 00000 n\r\n", b.Offset(1)))
	b.Raw("0000000000 00000 f\r\n")
	b.Raw(fmt.Sprintf("%010d 00001 f\r\n", b.Offset(3)))
	b.Trailer("/Size 4 /Root 1 0 R").StartXRef(x)

	st := open(t, b, x)
	for _, num := range []int{0, 2, 3, 99} {
		_, err := st.Resolve(context.Background(), core.Reference{Number: num})
		if !errors.Is(err, core.ErrUnresolvedReference) {
			t.Errorf("object %d: expected ErrUnresolvedReference, got %v", num, err)
		}
	}
}

// TestResolveDeleted tests that an object freed by an incremental update
// stays deleted although the original revision still defines it
func TestResolveDeleted(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(3, 0, "(original three)")
	x1 := b.XRef(1, 3)
	b.Trailer("/Size 4 /Root 1 0 R").StartXRef(x1)

	x2 := b.Len()
	b.Raw("xref\n0 1\n0000000000 65535 f\r\n3 1\n0000000000 00001 f\r\n")
	b.Trailer(fmt.Sprintf("/Size 4 /Root 1 0 R /Prev %d", x1)).StartXRef(x2)

	st := open(t, b, x2)
	if _, err := st.Resolve(context.Background(), core.Reference{Number: 3}); !errors.Is(err, core.ErrUnresolvedReference) {
		t.Errorf("deleted object: expected ErrUnresolvedReference, got %v", err)
	}
	if _, err := st.Resolve(context.Background(), core.Reference{Number: 1}); err != nil {
		t.Errorf("catalog: %v", err)
	}
}

// TestResolveCorrupt tests entries that point at something other than an object
func TestResolveCorrupt(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	junk := b.Len()
	b.Raw("this is not an object\n")
	x := b.XRefWith(map[int]int64{2: junk, 3: 1 << 30}, 1, 2, 3)
	b.Trailer("/Size 4 /Root 1 0 R").StartXRef(x)

	st := open(t, b, x)
	for _, num := range []int{2, 3} {
		_, err := st.Resolve(context.Background(), core.Reference{Number: num})
		if !errors.Is(err, core.ErrCorruptObject) {
			t.Errorf("object %d: expected ErrCorruptObject, got %v", num, err)
		}
	}
	// Failures are not cached; a good object still resolves
	if _, err := st.Resolve(context.Background(), core.Reference{Number: 1}); err != nil {
		t.Error(err)
	}
}

// TestHeaderMismatch tests that a lying object header is tolerated
func TestHeaderMismatch(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(8, 0, "(eight)")
	x := b.XRefWith(map[int]int64{5: b.Offset(8)}, 1, 5)
	b.Trailer("/Size 9 /Root 1 0 R").StartXRef(x)

	st := open(t, b, x)
	obj, err := st.Resolve(context.Background(), core.Reference{Number: 5})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if obj != core.String("eight") {
		t.Errorf("got %v", obj)
	}
}

// TestIndirectLength tests streams whose /Length is an indirect object
func TestIndirectLength(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(4, 0, "<< /Length 9 0 R >>\nstream\nhello endstream world\nendstream")
	b.Object(5, 0, "<< /Length 5 0 R >>\nstream\nself\nendstream")
	b.Object(9, 0, "21")
	x := b.XRef(1, 4, 5, 9)
	b.Trailer("/Size 10 /Root 1 0 R").StartXRef(x)

	st := open(t, b, x)
	obj, err := st.Resolve(context.Background(), core.Reference{Number: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(obj.(*core.Stream).Data); got != "hello endstream world" {
		t.Errorf("data = %q", got)
	}

	// A self-referential length falls back to scanning for endstream
	obj, err = st.Resolve(context.Background(), core.Reference{Number: 5})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(obj.(*core.Stream).Data); got != "self" {
		t.Errorf("data = %q", got)
	}
}

// TestCompressedLength tests /Length entries that live in object streams
func TestCompressedLength(t *testing.T) {
	b := pdftest.New("1.5")
	// Object stream 9 holds the catalog and its own /Length, object 10
	data := "1 0 10 21 " + "<< /Type /Catalog >>\n" + "34\n"
	if len(data) != 34 {
		t.Fatalf("fixture length = %d", len(data))
	}
	b.Object(9, 0, "<< /Type /ObjStm /N 2 /First 10 /Length 10 0 R >>\nstream\n"+data+"\nendstream")
	payload := "endstream" + strings.Repeat("a", 25)
	b.Object(4, 0, "<< /Length 10 0 R >>\nstream\n"+payload+"\nendstream")
	x := b.XRefStream(20, [3]int{1, 2, 1}, []pdftest.Entry{
		b.Used(9), b.Used(4), pdftest.Compressed(1, 9, 0), pdftest.Compressed(10, 9, 1),
	}, "/Root 1 0 R")
	b.StartXRef(x)

	st := open(t, b, x)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	obj, err := st.Resolve(ctx, core.Reference{Number: 1})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if typ, _ := obj.(core.Dict).GetName("Type"); typ != "Catalog" {
		t.Errorf("Type = %v", typ)
	}
	if obj, err := st.Resolve(ctx, core.Reference{Number: 10}); err != nil || obj != core.Int(34) {
		t.Errorf("object 10 = %v, %v", obj, err)
	}

	// With the container loaded, the length is read from it
	obj, err = st.Resolve(ctx, core.Reference{Number: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(obj.(*core.Stream).Data); got != payload {
		t.Errorf("data = %q, want %q", got, payload)
	}
}

func objectStreamFile(n int) (*pdftest.Builder, int64) {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog >>")
	subs := make([]pdftest.Sub, n)
	entries := []pdftest.Entry{b.Used(1)}
	for i := range subs {
		subs[i] = pdftest.Sub{Num: 100 + i, Body: fmt.Sprintf("<< /Index %d >>", i)}
	}
	b.ObjectStream(50, subs)
	entries = append(entries, b.Used(50))
	for i := range subs {
		entries = append(entries, pdftest.Compressed(100+i, 50, i))
	}
	x := b.XRefStream(200, [3]int{1, 2, 1}, entries, "/Root 1 0 R")
	b.StartXRef(x)
	return b, x
}

// TestConcurrentCompressed tests that one container is decoded once for many readers
func TestConcurrentCompressed(t *testing.T) {
	b, x := objectStreamFile(50)
	st := open(t, b, x)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := st.Resolve(context.Background(), core.Reference{Number: 100 + i})
			if err != nil {
				failures.Add(1)
				return
			}
			if idx, _ := obj.(core.Dict).GetInt("Index"); int(idx) != i {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("%d resolutions failed", n)
	}
	if got := st.Stats().ObjectStreamDecodes; got != 1 {
		t.Errorf("ObjectStreamDecodes = %d, want 1", got)
	}
}

// TestConcurrentSameReference tests that concurrent callers share one object
func TestConcurrentSameReference(t *testing.T) {
	b, x := objectStreamFile(3)
	st := open(t, b, x)

	results := make([]core.Object, 20)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = st.Resolve(context.Background(), core.Reference{Number: 101})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		d, ok := r.(core.Dict)
		if !ok {
			t.Fatalf("result %d is %T", i, r)
		}
		if fmt.Sprintf("%p", d) != fmt.Sprintf("%p", results[0].(core.Dict)) {
			t.Errorf("result %d is a different map", i)
		}
	}
	if got := st.Stats().Resolved; got != 2 {
		t.Errorf("Resolved = %d, want 2 (container and object)", got)
	}
}

// TestCompressedWrongIndex tests recovery from a bad object stream index
func TestCompressedWrongIndex(t *testing.T) {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.ObjectStream(6, []pdftest.Sub{{Num: 20, Body: "(twenty)"}, {Num: 21, Body: "(twenty-one)"}})
	x := b.XRefStream(7, [3]int{1, 2, 1}, []pdftest.Entry{
		b.Used(1), b.Used(6),
		pdftest.Compressed(20, 6, 1),
		pdftest.Compressed(21, 6, 5),
		pdftest.Compressed(22, 6, 0),
	}, "/Root 1 0 R")
	b.StartXRef(x)

	st := open(t, b, x)
	tests := []struct {
		num  int
		want core.Object
	}{
		{20, core.String("twenty")},
		{21, core.String("twenty-one")},
	}
	for _, tt := range tests {
		obj, err := st.Resolve(context.Background(), core.Reference{Number: tt.num})
		if err != nil {
			t.Errorf("object %d: %v", tt.num, err)
			continue
		}
		if obj != tt.want {
			t.Errorf("object %d = %v, want %v", tt.num, obj, tt.want)
		}
	}

	if _, err := st.Resolve(context.Background(), core.Reference{Number: 22}); !errors.Is(err, core.ErrCorruptObject) {
		t.Errorf("object absent from its container: expected ErrCorruptObject, got %v", err)
	}
}

// TestResolveCancelled tests that a cancelled call leaves the store usable
func TestResolveCancelled(t *testing.T) {
	b, x := objectStreamFile(2)
	st := open(t, b, x)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Resolve(ctx, core.Reference{Number: 100}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if st.Stats().Resolved != 0 {
		t.Error("cancelled call should not have loaded anything")
	}

	if _, err := st.Resolve(context.Background(), core.Reference{Number: 100}); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}

// TestSecurity tests decryption of strings and streams
func TestSecurity(t *testing.T) {
	id := []byte("fedcba9876543210")
	enc := pdftest.NewRC4Encryption("", "owner", id, -4)

	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(2, 0, "<< /Title "+pdftest.Hex(enc.Encrypt(2, 0, []byte("Secret Title")))+" >>")
	b.Stream(3, "", enc.Encrypt(3, 0, []byte("BT ET")))
	b.Object(4, 0, enc.Dict())
	x := b.XRef(1, 2, 3, 4)
	b.Trailer(fmt.Sprintf("/Size 5 /Root 1 0 R /Encrypt 4 0 R /ID [%s %s]", pdftest.Hex(id), pdftest.Hex(id))).StartXRef(x)

	st := open(t, b, x)
	ctx := context.Background()
	encRef := core.Reference{Number: 4}

	raw, err := st.Resolve(ctx, encRef)
	if err != nil {
		t.Fatal(err)
	}
	h, err := security.NewStandard(raw.(core.Dict), core.String(id), "")
	if err != nil {
		t.Fatalf("NewStandard failed: %v", err)
	}
	st.SetSecurity(h, &encRef)

	info, err := st.Resolve(ctx, core.Reference{Number: 2})
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := info.(core.Dict).GetString("Title"); title != "Secret Title" {
		t.Errorf("Title = %q", title)
	}

	content, err := st.Resolve(ctx, core.Reference{Number: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(content.(*core.Stream).Data); got != "BT ET" {
		t.Errorf("stream = %q", got)
	}

	encrypt, _ := st.Resolve(ctx, encRef)
	if o, _ := encrypt.(core.Dict).GetString("O"); string(o) != string(enc.O) {
		t.Error("the /Encrypt dictionary must not be decrypted")
	}
}

// TestImageCache tests that image decoding runs once per reference
func TestImageCache(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Stream(2, "/Type /XObject /Subtype /Image /Width 1 /Height 1", []byte{0xff})
	b.Object(3, 0, "(not an image)")
	x := b.XRef(1, 2, 3)
	b.Trailer("/Size 4 /Root 1 0 R").StartXRef(x)

	st := open(t, b, x)
	var calls atomic.Int32
	decode := func(s *core.Stream) ([]byte, error) {
		calls.Add(1)
		return append([]byte("px:"), s.Data...), nil
	}

	for i := 0; i < 3; i++ {
		data, err := st.Image(context.Background(), core.Reference{Number: 2}, decode)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "px:\xff" {
			t.Errorf("data = %q", data)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("decode called %d times", calls.Load())
	}
	if st.Stats().Images != 1 {
		t.Errorf("Images = %d", st.Stats().Images)
	}

	if _, err := st.Image(context.Background(), core.Reference{Number: 3}, decode); err == nil {
		t.Error("expected error for a non-stream image")
	}
}

// TestClose tests that a closed store refuses work
func TestClose(t *testing.T) {
	b, x := objectStreamFile(1)
	st := open(t, b, x)
	if _, err := st.Resolve(context.Background(), core.Reference{Number: 100}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := st.Resolve(context.Background(), core.Reference{Number: 100}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
