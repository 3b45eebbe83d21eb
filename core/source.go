package core

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const (
	// DefaultHeaderWindow bounds the search for the %PDF- signature.
	DefaultHeaderWindow = 2048

	// startXRefWindow is the initial tail size searched for startxref; the
	// search grows up to maxStartXRefWindow for files with long trailing junk.
	startXRefWindow    = 2048
	maxStartXRefWindow = 64 * 1024
)

// Source is a random-access view of a PDF file image. Every reader gets its
// own section view, so concurrent parsers never share a cursor.
//
// Base is the number of junk bytes found before the %PDF- header. Offsets
// declared inside the file are relative to the header, so Abs adds Base when
// an offset is used, never when it is parsed.
type Source struct {
	r    io.ReaderAt
	size int64
	base int64
}

// NewSource wraps r, which holds size bytes.
func NewSource(r io.ReaderAt, size int64) *Source {
	return &Source{r: r, size: size}
}

// WithBase returns a copy of the source using base as the prefix correction.
func (s *Source) WithBase(base int64) *Source {
	c := *s
	c.base = base
	return &c
}

// Size returns the total number of bytes in the source.
func (s *Source) Size() int64 { return s.size }

// Base returns the prefix-junk correction.
func (s *Source) Base() int64 { return s.base }

// Abs converts a file-declared offset to an absolute position.
func (s *Source) Abs(offset int64) int64 { return offset + s.base }

// Rel converts an absolute position to a file-declared offset.
func (s *Source) Rel(pos int64) int64 { return pos - s.base }

// ReadAt reads from the underlying source.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

// Section returns an independent reader over [pos, size).
func (s *Source) Section(pos int64) *io.SectionReader {
	if pos > s.size {
		pos = s.size
	}
	return io.NewSectionReader(s.r, pos, s.size-pos)
}

// ParserAt returns a parser positioned at absolute position pos.
func (s *Source) ParserAt(pos int64) (*Parser, error) {
	if pos < 0 || pos >= s.size {
		return nil, fmt.Errorf("%w: offset %d outside file of %d bytes", ErrMalformedSyntax, pos, s.size)
	}
	return NewParserAt(s.Section(pos), pos), nil
}

// readRange reads [pos, pos+n) clamped to the source.
func (s *Source) readRange(pos int64, n int64) ([]byte, error) {
	if pos < 0 {
		n += pos
		pos = 0
	}
	if pos+n > s.size {
		n = s.size - pos
	}
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	read, err := s.r.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return nil, ioFailure(err)
	}
	return buf[:read], nil
}

// Header describes the %PDF-x.y signature.
type Header struct {
	Offset int64 // junk bytes preceding the signature
	Major  int
	Minor  int
}

// FindHeader scans the first window bytes for "%PDF-1." or "%PDF-2." and
// returns its offset and version.
func (s *Source) FindHeader(window int) (Header, error) {
	if window <= 0 {
		window = DefaultHeaderWindow
	}
	buf, err := s.readRange(0, int64(window)+16)
	if err != nil {
		return Header{}, err
	}
	if len(buf) > window+16 {
		buf = buf[:window+16]
	}

	for from := 0; from < len(buf); {
		idx := bytes.Index(buf[from:], []byte("%PDF-"))
		if idx < 0 || from+idx > window {
			break
		}
		at := from + idx
		rest := buf[at+5:]
		if len(rest) >= 3 && isDigit(rest[0]) && rest[1] == '.' && isDigit(rest[2]) &&
			(rest[0] == '1' || rest[0] == '2') {
			minorEnd := 2
			for minorEnd < len(rest) && isDigit(rest[minorEnd]) {
				minorEnd++
			}
			minor, _ := strconv.Atoi(string(rest[2:minorEnd]))
			return Header{Offset: int64(at), Major: int(rest[0] - '0'), Minor: minor}, nil
		}
		from = at + 5
	}
	return Header{}, fmt.Errorf("%w: no %%PDF- signature in first %d bytes", ErrMalformedSyntax, window)
}

// FindStartXRef scans backward from the end of the file for the last
// startxref keyword and returns the file-declared offset that follows it.
func (s *Source) FindStartXRef() (int64, error) {
	for window := int64(startXRefWindow); ; window *= 4 {
		if window > s.size {
			window = s.size
		}
		tail, err := s.readRange(s.size-window, window)
		if err != nil {
			return 0, err
		}
		if off, ok := parseStartXRef(tail); ok {
			return off, nil
		}
		if window >= s.size || window >= maxStartXRefWindow {
			break
		}
	}
	return 0, fmt.Errorf("%w: startxref not found", ErrMalformedSyntax)
}

func parseStartXRef(tail []byte) (int64, bool) {
	for end := len(tail); end > 0; {
		idx := bytes.LastIndex(tail[:end], []byte("startxref"))
		if idx < 0 {
			return 0, false
		}
		p := NewParser(bytes.NewReader(tail[idx+len("startxref"):]))
		if v, err := p.ParseInt(); err == nil && v >= 0 {
			return v, true
		}
		end = idx
	}
	return 0, false
}
