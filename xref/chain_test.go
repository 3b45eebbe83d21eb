package xref

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/internal/pdftest"
)

func chainFor(b *pdftest.Builder, opts ...Option) *Chain {
	r, size := b.Reader()
	return NewChain(core.NewSource(r, size), opts...)
}

// TestLoadClassic tests loading a single classic revision
func TestLoadClassic(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(2, 0, "(info)")
	x := b.XRef(1, 2)
	b.Trailer("/Size 3 /Root 1 0 R /Info 2 0 R").StartXRef(x)

	c := chainFor(b)
	h, err := c.Load(x)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Head() != h {
		t.Errorf("Head = %d, want %d", c.Head(), h)
	}

	rev := c.Revision(h)
	if rev.IsStream() {
		t.Error("classic revision reported as stream")
	}
	if root, ok := rev.Root(); !ok || root != (core.Reference{Number: 1}) {
		t.Errorf("Root = %v, %v", root, ok)
	}
	if info, ok := rev.Info(); !ok || info.Number != 2 {
		t.Errorf("Info = %v, %v", info, ok)
	}
	if rev.Size() != 3 {
		t.Errorf("Size = %d", rev.Size())
	}
	if id := rev.ID(); id[0] != "" || id[1] != "" {
		t.Errorf("missing ID should read as two empty strings, got %q", id)
	}
	if rev.Encrypt() != nil {
		t.Error("Encrypt should be nil")
	}

	if c.PrimaryXRef(h) == nil {
		t.Fatal("PrimaryXRef is nil")
	}
	e, ok := c.Lookup(2)
	if !ok || e.Offset != b.Offset(2) {
		t.Errorf("Lookup(2) = %+v, %v; want offset %d", e, ok, b.Offset(2))
	}
	if _, ok := c.Lookup(0); ok {
		t.Error("free object 0 must not resolve")
	}

	// Loading the same offset again reuses the revision
	again, err := c.Load(x)
	if err != nil || again != h || c.Len() != 1 {
		t.Errorf("reload = %d, %v; Len = %d", again, err, c.Len())
	}
}

// TestLoadNotXRef tests offsets that do not hold a cross-reference section
func TestLoadNotXRef(t *testing.T) {
	b := pdftest.New("1.4")
	obj := b.Object(1, 0, "<< /Type /Catalog >>")
	b.Raw("junk\n")

	c := chainFor(b)
	if _, err := c.Load(obj); !errors.Is(err, ErrNoXRef) {
		t.Errorf("object offset: expected ErrNoXRef, got %v", err)
	}
	if _, err := c.Load(b.Len() + 100); err == nil {
		t.Error("offset past EOF: expected error")
	}
	if c.Len() != 0 || c.Head() != NoHandle {
		t.Error("failed loads must not add revisions")
	}
}

// TestIncrementalUpdate tests lazy /Prev loading and newest-wins lookup
func TestIncrementalUpdate(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(3, 0, "(original three)")
	b.Object(12, 0, "(old twelve)")
	x1 := b.XRef(1, 3, 12)
	b.Trailer("/Size 13 /Root 1 0 R /Info 3 0 R").StartXRef(x1)

	b.Object(12, 0, "(new twelve)")
	x2 := b.XRef(12)
	b.Trailer(fmt.Sprintf("/Size 14 /Root 1 0 R /Prev %d", x1)).StartXRef(x2)

	c := chainFor(b)
	h, err := c.Load(x2)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("previous revision loaded eagerly: Len = %d", c.Len())
	}

	e, ok := c.Lookup(12)
	if !ok || e.Offset != b.Offset(12) {
		t.Errorf("Lookup(12) = %+v, want the update at %d", e, b.Offset(12))
	}
	if c.Len() != 1 {
		t.Error("lookup satisfied by the head should not load older revisions")
	}

	e, ok = c.Lookup(3)
	if !ok || e.Offset != b.Offset(3) {
		t.Errorf("Lookup(3) = %+v, %v", e, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d after falling through to /Prev", c.Len())
	}

	// Newest keys win and absent ones are inherited
	rev := c.Revision(h)
	if rev.Size() != 14 {
		t.Errorf("merged Size = %d, want 14", rev.Size())
	}
	if _, ok := rev.Info(); !ok {
		t.Error("Info should be inherited from the previous revision")
	}
	if got := len(c.Handles()); got != 2 {
		t.Errorf("Handles = %d, want 2", got)
	}
}

// TestPrevLoop tests that a /Prev cycle terminates
func TestPrevLoop(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	x := b.XRef(1)
	b.Trailer(fmt.Sprintf("/Size 2 /Root 1 0 R /Prev %d", x)).StartXRef(x)

	c := chainFor(b)
	if _, err := c.Load(x); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(99); ok {
		t.Error("Lookup(99) should fail")
	}
	c.LoadAll()
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

// TestBrokenPrev tests that an unreadable /Prev is tried once and ignored
func TestBrokenPrev(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	x := b.XRef(1)
	b.Trailer("/Size 2 /Root 1 0 R /Prev 5").StartXRef(x)

	c := chainFor(b)
	if _, err := c.Load(x); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := c.Lookup(7); ok {
			t.Fatal("Lookup(7) should fail")
		}
	}
	if e, ok := c.Lookup(1); !ok || e.Offset != b.Offset(1) {
		t.Errorf("Lookup(1) = %+v, %v", e, ok)
	}
}

// TestMaxRevisions tests the revision limit
func TestMaxRevisions(t *testing.T) {
	b := pdftest.New("1.4")
	b.Object(1, 0, "<< /Type /Catalog >>")
	prev := int64(-1)
	var last int64
	for i := 0; i < 4; i++ {
		last = b.XRef(1)
		if prev >= 0 {
			b.Trailer(fmt.Sprintf("/Size 2 /Root 1 0 R /Prev %d", prev))
		} else {
			b.Trailer("/Size 2 /Root 1 0 R")
		}
		prev = last
	}
	b.StartXRef(last)

	c := chainFor(b, WithMaxRevisions(2))
	if _, err := c.Load(last); err != nil {
		t.Fatal(err)
	}
	c.LoadAll()
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

// TestXRefStreamRevision tests a stream-only revision with two /Index subsections
func TestXRefStreamRevision(t *testing.T) {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.ObjectStream(5, []pdftest.Sub{{Num: 10, Body: "(ten)"}, {Num: 11, Body: "(eleven)"}})
	x := b.XRefStream(20, [3]int{1, 2, 1}, []pdftest.Entry{
		b.Used(1),
		b.Used(5),
		pdftest.Compressed(10, 5, 0),
		pdftest.Compressed(11, 5, 1),
	}, "/Root 1 0 R")
	b.StartXRef(x)

	c := chainFor(b)
	h, err := c.Load(x)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !c.Revision(h).IsStream() {
		t.Error("expected a stream revision")
	}
	if root, ok := c.Revision(h).Root(); !ok || root.Number != 1 {
		t.Errorf("Root = %v", root)
	}

	tests := []struct {
		num  int
		kind core.EntryKind
	}{
		{1, core.EntryUsed},
		{5, core.EntryUsed},
		{10, core.EntryCompressed},
		{11, core.EntryCompressed},
	}
	for _, tt := range tests {
		e, ok := c.Lookup(tt.num)
		if !ok || e.Kind != tt.kind {
			t.Errorf("Lookup(%d) = %+v, %v; want %v", tt.num, e, ok, tt.kind)
		}
	}
	if e, _ := c.Lookup(11); e.Stream != 5 || e.Index != 1 {
		t.Errorf("object 11 at stream %d index %d", e.Stream, e.Index)
	}
	if _, ok := c.Lookup(3); ok {
		t.Error("object 3 is not declared")
	}
}

// TestHybridPeer tests the /XRefStm peer of a hybrid file
func TestHybridPeer(t *testing.T) {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.ObjectStream(4, []pdftest.Sub{{Num: 8, Body: "42"}})
	stm := b.XRefStream(9, [3]int{1, 2, 1}, []pdftest.Entry{pdftest.Compressed(8, 4, 0)}, "")
	x := b.XRef(1, 4)
	b.Trailer(fmt.Sprintf("/Size 10 /Root 1 0 R /XRefStm %d", stm)).StartXRef(x)

	c := chainFor(b)
	if _, err := c.Load(x); err != nil {
		t.Fatal(err)
	}
	e, ok := c.Lookup(8)
	if !ok || e.Kind != core.EntryCompressed || e.Stream != 4 {
		t.Errorf("Lookup(8) = %+v, %v", e, ok)
	}
	// The classic table still answers first
	if e, _ := c.Lookup(1); e.Kind != core.EntryUsed {
		t.Errorf("Lookup(1) = %+v", e)
	}
}

// TestCrossReferencePrecedence tests that a later compressed definition beats an earlier used one
func TestCrossReferencePrecedence(t *testing.T) {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.Object(7, 0, "(classic seven)")
	x1 := b.XRef(1, 7)
	b.Trailer("/Size 8 /Root 1 0 R").StartXRef(x1)

	b.ObjectStream(30, []pdftest.Sub{{Num: 7, Body: "(compressed seven)"}})
	x2 := b.XRefStream(31, [3]int{1, 2, 1}, []pdftest.Entry{
		b.Used(30),
		pdftest.Compressed(7, 30, 0),
	}, fmt.Sprintf("/Root 1 0 R /Prev %d", x1))
	b.StartXRef(x2)

	c := chainFor(b)
	if _, err := c.Load(x2); err != nil {
		t.Fatal(err)
	}
	e, ok := c.Lookup(7)
	if !ok || e.Kind != core.EntryCompressed || e.Stream != 30 {
		t.Errorf("Lookup(7) = %+v, %v; want the later compressed entry", e, ok)
	}
	if e, ok := c.Lookup(1); !ok || e.Kind != core.EntryUsed {
		t.Errorf("Lookup(1) = %+v, %v", e, ok)
	}
}

// TestMergePrecedence tests that "this" keeps its keys and merging twice changes nothing
func TestMergePrecedence(t *testing.T) {
	c := NewChain(core.NewSource(nil, 0))
	older := c.Add(core.NewXRefTable(true), core.Dict{"Size": core.Int(5), "Info": core.Reference{Number: 2}})
	newer := c.Add(core.NewXRefTable(true), core.Dict{"Size": core.Int(9)})

	c.MergeWithNext(older, newer)
	c.MergeWithNext(older, newer)

	if c.Head() != newer {
		t.Errorf("Head = %d, want %d", c.Head(), newer)
	}
	trailer := c.Trailer()
	if size, _ := trailer.GetInt("Size"); size != 9 {
		t.Errorf("Size = %d, want the newer 9", size)
	}
	if _, ok := trailer.GetReference("Info"); !ok {
		t.Error("Info should be copied from the older revision")
	}
	if got := c.Handles(); len(got) != 2 || got[0] != newer || got[1] != older {
		t.Errorf("Handles = %v", got)
	}

	// The other direction keeps the receiver's keys
	d := NewChain(core.NewSource(nil, 0))
	a := d.Add(core.NewXRefTable(true), core.Dict{"Size": core.Int(20)})
	p := d.Add(core.NewXRefTable(true), core.Dict{"Size": core.Int(1), "Root": core.Reference{Number: 1}})
	d.MergeWithPrevious(a, p)
	d.MergeWithPrevious(a, p)
	if size, _ := d.Revision(a).Dict().GetInt("Size"); size != 20 {
		t.Errorf("Size = %d, want 20", size)
	}
	if _, ok := d.Revision(a).Root(); !ok {
		t.Error("Root should be copied")
	}
	if len(d.Handles()) != 2 {
		t.Errorf("Handles = %v", d.Handles())
	}
}

// TestMergeSplicesAtEnd tests that a merged previous revision goes after existing ones
func TestMergeSplicesAtEnd(t *testing.T) {
	c := NewChain(core.NewSource(nil, 0))
	h0 := c.Add(core.NewXRefTable(true), nil)
	h1 := c.Add(core.NewXRefTable(true), nil)
	h2 := c.Add(core.NewXRefTable(true), nil)

	c.MergeWithPrevious(h0, h1)
	c.MergeWithPrevious(h0, h2)
	// A loop back to the head is ignored
	c.MergeWithPrevious(h2, h0)

	got := c.Handles()
	want := []Handle{h0, h1, h2}
	if len(got) != len(want) {
		t.Fatalf("Handles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Handles = %v, want %v", got, want)
		}
	}
}

// TestFreeEntriesDelete tests that a free entry in a newer revision hides
// older definitions of the same number
func TestFreeEntriesDelete(t *testing.T) {
	c := NewChain(core.NewSource(nil, 0))
	old := core.NewXRefTable(true)
	old.AddUsed(4, 100, 0)
	old.AddUsed(5, 200, 0)
	old.AddUsed(7, 300, 0)
	newer := core.NewXRefTable(true)
	newer.AddFree(4, 0, 1)
	newer.AddFree(6, 0, 1)
	newer.AddFree(7, 0, 65535)

	ho := c.Add(old, nil)
	hn := c.Add(newer, nil)
	c.MergeWithNext(ho, hn)

	tests := []struct {
		num    int
		want   bool
		offset int64
	}{
		{4, false, 0},  // deleted in the update
		{5, true, 200}, // untouched by the update
		{6, false, 0},  // free everywhere
		{7, true, 300}, // placeholder head does not delete
	}
	for _, tt := range tests {
		e, ok := c.Lookup(tt.num)
		if ok != tt.want || e.Offset != tt.offset {
			t.Errorf("Lookup(%d) = %+v, %v", tt.num, e, ok)
		}
	}
}

// TestHybridFreeEntries tests that a classic table's free entry defers to
// the /XRefStm peer of the same revision
func TestHybridFreeEntries(t *testing.T) {
	b := pdftest.New("1.5")
	b.Object(1, 0, "<< /Type /Catalog >>")
	b.ObjectStream(4, []pdftest.Sub{{Num: 2, Body: "42"}})
	stm := b.XRefStream(9, [3]int{1, 2, 1}, []pdftest.Entry{pdftest.Compressed(2, 4, 0)}, "")
	x := b.Len()
	b.Raw("xref\n0 3\n0000000000 65535 f\r\n")
	b.Raw(fmt.Sprintf("%010d 00000 n\r\n", b.Offset(1)))
	b.Raw("0000000000 00000 f\r\n")
	b.Trailer(fmt.Sprintf("/Size 10 /Root 1 0 R /XRefStm %d", stm)).StartXRef(x)

	c := chainFor(b)
	if _, err := c.Load(x); err != nil {
		t.Fatal(err)
	}
	if e, ok := c.Lookup(2); !ok || e.Kind != core.EntryCompressed || e.Stream != 4 {
		t.Errorf("Lookup(2) = %+v, %v", e, ok)
	}
}
