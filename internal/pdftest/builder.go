// Package pdftest builds small PDF files in memory for tests. The builder
// records where every object lands, so tables and startxref values are
// always consistent with the bytes unless a test corrupts them on purpose.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Builder accumulates a PDF file image.
type Builder struct {
	buf     bytes.Buffer
	offsets map[int]int64
	gens    map[int]int
}

// New starts a file with a %PDF- header for version (e.g. "1.4") and the
// customary binary comment line.
func New(version string) *Builder {
	b := &Builder{
		offsets: make(map[int]int64),
		gens:    make(map[int]int),
	}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

// Len returns the current size, which is also the offset of the next write.
func (b *Builder) Len() int64 {
	return int64(b.buf.Len())
}

// Raw appends s verbatim.
func (b *Builder) Raw(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Object writes "num gen obj body endobj" and returns its offset.
func (b *Builder) Object(num, gen int, body string) int64 {
	off := b.Len()
	fmt.Fprintf(&b.buf, "%d %d obj\n%s\nendobj\n", num, gen, body)
	b.offsets[num] = off
	b.gens[num] = gen
	return off
}

// Stream writes a stream object whose dictionary is dict plus a correct
// /Length, and returns its offset.
func (b *Builder) Stream(num int, dict string, data []byte) int64 {
	off := b.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	b.offsets[num] = off
	b.gens[num] = 0
	return off
}

// Offset returns where object num was last written.
func (b *Builder) Offset(num int) int64 {
	return b.offsets[num]
}

// Sub is one object stored inside an object stream.
type Sub struct {
	Num  int
	Body string
}

// ObjectStream writes a Flate-compressed object stream holding subs and
// returns its offset.
func (b *Builder) ObjectStream(num int, subs []Sub) int64 {
	var header, body strings.Builder
	for _, s := range subs {
		fmt.Fprintf(&header, "%d %d ", s.Num, body.Len())
		body.WriteString(s.Body)
		body.WriteString("\n")
	}
	raw := header.String() + body.String()
	dict := fmt.Sprintf("/Type /ObjStm /N %d /First %d /Filter /FlateDecode", len(subs), header.Len())
	return b.Stream(num, dict, Deflate([]byte(raw)))
}

// XRef writes a classic cross-reference section listing nums at their
// recorded offsets, plus the free head of object 0, and returns the
// section's offset. Contiguous numbers share a subsection.
func (b *Builder) XRef(nums ...int) int64 {
	return b.XRefWith(nil, nums...)
}

// XRefWith is XRef with some offsets overridden, for building tables that
// lie about where objects are.
func (b *Builder) XRefWith(override map[int]int64, nums ...int) int64 {
	off := b.Len()
	sorted := append([]int(nil), nums...)
	sort.Ints(sorted)

	b.buf.WriteString("xref\n")
	if len(sorted) == 0 || sorted[0] != 0 {
		b.buf.WriteString("0 1\n0000000000 65535 f\r\n")
	}
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		fmt.Fprintf(&b.buf, "%d %d\n", sorted[i], j-i+1)
		for _, n := range sorted[i : j+1] {
			pos, ok := override[n]
			if !ok {
				pos = b.offsets[n]
			}
			fmt.Fprintf(&b.buf, "%010d %05d n\r\n", pos, b.gens[n])
		}
		i = j + 1
	}
	return off
}

// Trailer writes "trailer << dict >>".
func (b *Builder) Trailer(dict string) *Builder {
	fmt.Fprintf(&b.buf, "trailer\n<< %s >>\n", dict)
	return b
}

// StartXRef writes the startxref footer.
func (b *Builder) StartXRef(off int64) *Builder {
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", off)
	return b
}

// Entry is one record of a cross-reference stream.
type Entry struct {
	Num  int
	Type int
	F2   int64
	F3   int64
}

// Used is a type 1 entry for an object already written.
func (b *Builder) Used(num int) Entry {
	return Entry{Num: num, Type: 1, F2: b.offsets[num], F3: int64(b.gens[num])}
}

// Compressed is a type 2 entry.
func Compressed(num, stream, index int) Entry {
	return Entry{Num: num, Type: 2, F2: int64(stream), F3: int64(index)}
}

// XRefStream writes a cross-reference stream object num with field widths
// w, deriving /Index from runs of consecutive entry numbers. extra is added
// to the stream dictionary (typically /Root and /Prev). It returns the
// object's offset.
func (b *Builder) XRefStream(num int, w [3]int, entries []Entry, extra string) int64 {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Num < sorted[j].Num })

	var data []byte
	var index []string
	size := 0
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1].Num == sorted[j].Num+1 {
			j++
		}
		index = append(index, fmt.Sprintf("%d %d", sorted[i].Num, j-i+1))
		for _, e := range sorted[i : j+1] {
			data = append(data, field(int64(e.Type), w[0])...)
			data = append(data, field(e.F2, w[1])...)
			data = append(data, field(e.F3, w[2])...)
			if e.Num+1 > size {
				size = e.Num + 1
			}
		}
		i = j + 1
	}
	if num+1 > size {
		size = num + 1
	}

	dict := fmt.Sprintf("/Type /XRef /Size %d /W [%d %d %d] /Index [%s] %s",
		size, w[0], w[1], w[2], strings.Join(index, " "), extra)
	return b.Stream(num, dict, data)
}

func field(v int64, width int) []byte {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// Bytes returns the file image.
func (b *Builder) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// Reader returns the file image and its size, ready for an io.ReaderAt consumer.
func (b *Builder) Reader() (*bytes.Reader, int64) {
	data := b.Bytes()
	return bytes.NewReader(data), int64(len(data))
}

// Deflate zlib-compresses data.
func Deflate(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
