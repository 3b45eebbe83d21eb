package core

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// EntryKind distinguishes the three cross-reference entry variants.
type EntryKind int

const (
	// EntryFree marks an unused object number.
	EntryFree EntryKind = iota
	// EntryUsed locates an object's "N G obj" header by file offset.
	EntryUsed
	// EntryCompressed locates an object by index inside an object stream.
	EntryCompressed
)

func (k EntryKind) String() string {
	switch k {
	case EntryFree:
		return "free"
	case EntryUsed:
		return "used"
	case EntryCompressed:
		return "compressed"
	default:
		return "unknown"
	}
}

// XRefEntry is one cross-reference record. Which fields are meaningful
// depends on Kind:
//
//	EntryFree:       NextFree, Generation
//	EntryUsed:       Offset, Generation
//	EntryCompressed: Stream, Index
type XRefEntry struct {
	Kind       EntryKind
	Offset     int64 // file-declared offset; add Source.Base before seeking
	Generation int
	NextFree   int
	Stream     int // object number of the containing object stream
	Index      int // position within the object stream
}

// XRefTable maps object numbers to cross-reference entries for one revision.
// It is safe for concurrent use.
type XRefTable struct {
	mu      sync.RWMutex
	entries map[int]XRefEntry

	// IsTable is true for a classic "xref" table and false for a
	// cross-reference stream.
	IsTable bool
}

// NewXRefTable creates an empty table of the given variant.
func NewXRefTable(isTable bool) *XRefTable {
	return &XRefTable{
		entries: make(map[int]XRefEntry),
		IsTable: isTable,
	}
}

// AddUsed records an in-use object at a file-declared offset.
func (x *XRefTable) AddUsed(objNum int, offset int64, generation int) {
	x.set(objNum, XRefEntry{Kind: EntryUsed, Offset: offset, Generation: generation})
}

// AddFree records a free entry. Free entries are kept for inspection only
// and are never returned by Get.
func (x *XRefTable) AddFree(objNum, nextFree, generation int) {
	x.set(objNum, XRefEntry{Kind: EntryFree, NextFree: nextFree, Generation: generation})
}

// AddCompressed records an object stored at index inside object stream stream.
func (x *XRefTable) AddCompressed(objNum, stream, index int) {
	x.set(objNum, XRefEntry{Kind: EntryCompressed, Stream: stream, Index: index})
}

func (x *XRefTable) set(objNum int, e XRefEntry) {
	x.mu.Lock()
	x.entries[objNum] = e
	x.mu.Unlock()
}

// Get returns the entry for an object number. Free entries report false.
func (x *XRefTable) Get(objNum int) (XRefEntry, bool) {
	x.mu.RLock()
	e, ok := x.entries[objNum]
	x.mu.RUnlock()
	if !ok || e.Kind == EntryFree {
		return XRefEntry{}, false
	}
	return e, true
}

// Entry returns the raw entry for an object number, including free ones.
func (x *XRefTable) Entry(objNum int) (XRefEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[objNum]
	return e, ok
}

// Has reports whether the table holds a non-free entry for objNum.
func (x *XRefTable) Has(objNum int) bool {
	_, ok := x.Get(objNum)
	return ok
}

// Size returns the number of entries in the table, free ones included.
func (x *XRefTable) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// ObjectNumbers returns the sorted object numbers of all non-free entries.
func (x *XRefTable) ObjectNumbers() []int {
	x.mu.RLock()
	nums := make([]int, 0, len(x.entries))
	for n, e := range x.entries {
		if e.Kind != EntryFree {
			nums = append(nums, n)
		}
	}
	x.mu.RUnlock()
	sort.Ints(nums)
	return nums
}

// ParseXRefSection parses a classic cross-reference section starting at the
// "xref" keyword, followed by its trailer dictionary.
//
// Records are nominally fixed-width 20-byte lines ("oooooooooo ggggg n\r\n");
// they are read token by token so that 19- and 21-byte variants written by
// sloppy producers are accepted.
func ParseXRefSection(p *Parser) (*XRefTable, Dict, error) {
	if err := p.ExpectKeyword("xref"); err != nil {
		return nil, nil, err
	}

	table := NewXRefTable(true)
	for {
		tok, err := p.Token()
		if err != nil {
			return nil, nil, err
		}
		if tok.is("trailer") {
			break
		}
		if tok.Type == TokenEOF {
			return nil, nil, truncated(tok.Pos, "xref table missing trailer")
		}

		start, err := p.ParseInt()
		if err != nil {
			return nil, nil, fmt.Errorf("xref subsection header: %w", err)
		}
		count, err := p.ParseInt()
		if err != nil {
			return nil, nil, fmt.Errorf("xref subsection header: %w", err)
		}
		if start < 0 || count < 0 {
			return nil, nil, malformed(tok.Pos, "invalid xref subsection %d %d", start, count)
		}
		if err := parseSubsection(p, table, int(start), int(count)); err != nil {
			return nil, nil, err
		}
	}

	p.Advance() // trailer
	obj, err := p.ParseObject()
	if err != nil {
		return nil, nil, fmt.Errorf("trailer dictionary: %w", err)
	}
	dict, ok := obj.(Dict)
	if !ok {
		return nil, nil, fmt.Errorf("%w: trailer is %T, not a dictionary", ErrMalformedSyntax, obj)
	}
	return table, dict, nil
}

func parseSubsection(p *Parser, table *XRefTable, start, count int) error {
	objNum := start
	for i := 0; i < count; i++ {
		offset, err := p.ParseInt()
		if err != nil {
			return fmt.Errorf("xref entry %d: %w", objNum, err)
		}
		gen, err := p.ParseInt()
		if err != nil {
			return fmt.Errorf("xref entry %d: %w", objNum, err)
		}
		tok, err := p.Token()
		if err != nil {
			return err
		}
		if tok.Type != TokenKeyword || (string(tok.Value) != "n" && string(tok.Value) != "f") {
			return malformed(tok.Pos, "invalid xref entry type %q", tok.Value)
		}
		p.Advance()

		if string(tok.Value) == "f" {
			// The conventional head of the free list sometimes opens a
			// subsection that does not start at zero. It is absorbed
			// without being recorded against start.
			if i == 0 && start != 0 && offset == 0 && gen == 65535 {
				objNum++
				continue
			}
			table.AddFree(objNum, int(offset), int(gen))
		} else {
			table.AddUsed(objNum, offset, int(gen))
		}
		objNum++
	}
	return nil
}

// XRefStreamError reports a cross-reference stream whose data ended before all
// declared records were read. Entries read before the truncation are kept.
type XRefStreamError struct {
	Want, Got int64
}

func (e *XRefStreamError) Error() string {
	return fmt.Sprintf("xref stream truncated: read %d of %d records", e.Got, e.Want)
}

// AddStreamEntries decodes cross-reference stream records from data using the
// /W, /Index and /Size entries of dict. Partial records at the end of data are
// not added; the returned *XRefStreamError is informational.
func (x *XRefTable) AddStreamEntries(dict Dict, data []byte) error {
	widthArr, ok := dict.GetArray("W")
	if !ok || len(widthArr) < 3 {
		return fmt.Errorf("%w: xref stream /W must have three entries", ErrMalformedSyntax)
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		v, ok := widthArr.GetInt(i)
		if !ok || v < 0 || v > 8 {
			return fmt.Errorf("%w: invalid xref stream field width %v", ErrMalformedSyntax, widthArr.Get(i))
		}
		w[i] = int(v)
	}
	recLen := w[0] + w[1] + w[2]
	if recLen == 0 {
		return fmt.Errorf("%w: xref stream record width is zero", ErrMalformedSyntax)
	}

	size, _ := dict.GetInt("Size")
	if size < 0 {
		return fmt.Errorf("%w: negative xref stream /Size", ErrMalformedSyntax)
	}
	index := []int64{0, int64(size)}
	if arr, ok := dict.GetArray("Index"); ok && len(arr) >= 2 {
		index = index[:0]
		for i := 0; i+1 < len(arr); i += 2 {
			s, ok1 := arr.GetInt(i)
			n, ok2 := arr.GetInt(i + 1)
			if !ok1 || !ok2 || s < 0 || n < 0 {
				return fmt.Errorf("%w: invalid xref stream /Index", ErrMalformedSyntax)
			}
			index = append(index, int64(s), int64(n))
		}
	}

	// Declared counts are untrusted; only whole records present in data are
	// visited, and the shortfall is counted without iterating over it.
	records := int64(len(data) / recLen)
	var want, got int64
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		want = saturatingAdd(want, count)
		n := count
		if left := records - got; n > left {
			n = left
		}
		for j := int64(0); j < n; j++ {
			rec := data[pos : pos+recLen]
			pos += recLen
			got++

			typ := int64(1)
			if w[0] > 0 {
				typ = readBigEndianInt(rec, w[0])
			}
			f2 := readBigEndianInt(rec[w[0]:], w[1])
			f3 := readBigEndianInt(rec[w[0]+w[1]:], w[2])

			objNum := int(start + j)
			switch typ {
			case 0:
				// Free records are read to keep the cursor aligned but not stored
			case 1:
				x.AddUsed(objNum, f2, int(f3))
			case 2:
				x.AddCompressed(objNum, int(f2), int(f3))
			default:
				// Unknown types are references to the null object
			}
		}
	}

	if got < want {
		return &XRefStreamError{Want: want, Got: got}
	}
	return nil
}

func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// readBigEndianInt reads a width-byte big-endian unsigned integer. A width of
// zero yields zero.
func readBigEndianInt(b []byte, width int) int64 {
	var v int64
	for i := 0; i < width && i < len(b); i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

// ParseXRefStream builds a table from a parsed cross-reference stream object.
// The returned dictionary doubles as the revision's trailer.
func ParseXRefStream(obj *IndirectObject) (*XRefTable, Dict, error) {
	stream, ok := obj.Object.(*Stream)
	if !ok {
		return nil, nil, fmt.Errorf("%w: object %v is not a stream", ErrMalformedSyntax, obj.Ref)
	}
	if typ, _ := stream.Dict.GetName("Type"); typ != "XRef" {
		return nil, nil, fmt.Errorf("%w: object %v is not a cross-reference stream", ErrMalformedSyntax, obj.Ref)
	}
	data, err := stream.Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding xref stream %v: %w", obj.Ref, err)
	}

	table := NewXRefTable(false)
	if err := table.AddStreamEntries(stream.Dict, data); err != nil {
		if _, partial := err.(*XRefStreamError); !partial {
			return nil, nil, err
		}
		return table, stream.Dict, err
	}
	return table, stream.Dict, nil
}
