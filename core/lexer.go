package core

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// TokenType represents the type of token
type TokenType int

const (
	TokenEOF        TokenType = iota
	TokenKeyword              // true, false, null, obj, endobj, stream, endstream, xref, trailer, ...
	TokenInteger              // 123
	TokenReal                 // 3.14
	TokenString               // (hello)
	TokenHexString            // <48656C6C6F>
	TokenName                 // /Type
	TokenArrayStart           // [
	TokenArrayEnd             // ]
	TokenDictStart            // <<
	TokenDictEnd              // >>
	TokenRef                  // R (after two numbers)
)

var tokenNames = [...]string{
	TokenEOF:        "EOF",
	TokenKeyword:    "Keyword",
	TokenInteger:    "Integer",
	TokenReal:       "Real",
	TokenString:     "String",
	TokenHexString:  "HexString",
	TokenName:       "Name",
	TokenArrayStart: "ArrayStart",
	TokenArrayEnd:   "ArrayEnd",
	TokenDictStart:  "DictStart",
	TokenDictEnd:    "DictEnd",
	TokenRef:        "Ref",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "Unknown"
}

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value []byte
	Pos   int64 // absolute position in the file
}

// Position implements TopLevel.
func (t *Token) Position() int64 { return t.Pos }

func (t *Token) is(kw string) bool {
	return t != nil && t.Type == TokenKeyword && string(t.Value) == kw
}

// Lexer performs lexical analysis of PDF content. Comments are skipped like
// whitespace. Mark and Reset give bounded lookahead over raw bytes: bytes read
// after Mark are recorded and replayed after Reset.
type Lexer struct {
	reader *bufio.Reader
	pos    int64

	marking  bool
	markPos  int64
	recorded []byte
	replay   []byte
}

// NewLexer creates a lexer whose positions start at zero.
func NewLexer(r io.Reader) *Lexer {
	return NewLexerAt(r, 0)
}

// NewLexerAt creates a lexer whose first byte is at absolute position pos.
func NewLexerAt(r io.Reader, pos int64) *Lexer {
	return &Lexer{
		reader: bufio.NewReader(r),
		pos:    pos,
	}
}

// Pos returns the absolute position of the next unread byte.
func (l *Lexer) Pos() int64 {
	return l.pos
}

// Mark starts recording consumed bytes so that Reset can rewind to this point.
// A second Mark discards the previous one.
func (l *Lexer) Mark() {
	l.marking = true
	l.markPos = l.pos
	l.recorded = l.recorded[:0]
}

// Reset rewinds to the last Mark.
func (l *Lexer) Reset() {
	if !l.marking {
		return
	}
	rewind := make([]byte, 0, len(l.recorded)+len(l.replay))
	rewind = append(rewind, l.recorded...)
	l.replay = append(rewind, l.replay...)
	l.pos = l.markPos
	l.Unmark()
}

// Unmark stops recording without rewinding.
func (l *Lexer) Unmark() {
	l.marking = false
	l.recorded = l.recorded[:0]
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() (*Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return nil, err
	}

	b, err := l.peek()
	if err == io.EOF {
		return &Token{Type: TokenEOF, Pos: l.pos}, nil
	}
	if err != nil {
		return nil, err
	}

	switch b {
	case '[':
		l.readByte()
		return &Token{Type: TokenArrayStart, Value: []byte{'['}, Pos: l.pos - 1}, nil
	case ']':
		l.readByte()
		return &Token{Type: TokenArrayEnd, Value: []byte{']'}, Pos: l.pos - 1}, nil
	case '{', '}':
		// PostScript calculator braces; only meaningful inside function streams
		l.readByte()
		return &Token{Type: TokenKeyword, Value: []byte{b}, Pos: l.pos - 1}, nil
	case '(':
		return l.readString()
	case '<':
		next, err := l.peekN(2)
		if err == nil && len(next) == 2 && next[1] == '<' {
			l.readByte()
			l.readByte()
			return &Token{Type: TokenDictStart, Value: []byte{'<', '<'}, Pos: l.pos - 2}, nil
		}
		return l.readHexString()
	case '>':
		next, err := l.peekN(2)
		if err == nil && len(next) == 2 && next[1] == '>' {
			l.readByte()
			l.readByte()
			return &Token{Type: TokenDictEnd, Value: []byte{'>', '>'}, Pos: l.pos - 2}, nil
		}
		pos := l.pos
		l.readByte()
		return nil, malformed(pos, "unexpected '>'")
	case ')':
		pos := l.pos
		l.readByte()
		return nil, malformed(pos, "unbalanced ')'")
	case '/':
		return l.readName()
	}

	if isDigit(b) || b == '-' || b == '+' || b == '.' {
		return l.readNumber()
	}

	return l.readKeyword()
}

// readByte reads a single byte and advances position
func (l *Lexer) readByte() (byte, error) {
	var b byte
	if len(l.replay) > 0 {
		b = l.replay[0]
		l.replay = l.replay[1:]
	} else {
		var err error
		b, err = l.reader.ReadByte()
		if err != nil {
			return 0, l.wrapReadError(err)
		}
	}
	if l.marking {
		l.recorded = append(l.recorded, b)
	}
	l.pos++
	return b, nil
}

// peek looks at the next byte without consuming it
func (l *Lexer) peek() (byte, error) {
	if len(l.replay) > 0 {
		return l.replay[0], nil
	}
	b, err := l.reader.Peek(1)
	if err != nil {
		return 0, l.wrapReadError(err)
	}
	return b[0], nil
}

// peekN looks at the next n bytes without consuming them. Fewer bytes are
// returned together with io.EOF near the end of input.
func (l *Lexer) peekN(n int) ([]byte, error) {
	if len(l.replay) >= n {
		return l.replay[:n], nil
	}
	rest, err := l.reader.Peek(n - len(l.replay))
	if len(l.replay) == 0 {
		return rest, l.wrapReadError(err)
	}
	out := make([]byte, 0, len(l.replay)+len(rest))
	out = append(out, l.replay...)
	out = append(out, rest...)
	return out, l.wrapReadError(err)
}

func (l *Lexer) wrapReadError(err error) error {
	if err == nil || err == io.EOF || errors.Is(err, ErrIO) {
		return err
	}
	if err == bufio.ErrBufferFull {
		return err
	}
	return ioFailure(err)
}

// skipWhitespaceAndComments skips PDF whitespace and % comments.
// PDF whitespace: space (0x20), tab (0x09), LF (0x0A), CR (0x0D), FF (0x0C), null (0x00)
func (l *Lexer) skipWhitespaceAndComments() error {
	for {
		b, err := l.peek()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case isWhitespace(b):
			l.readByte()
		case b == '%':
			if err := l.skipComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// skipComment consumes a comment up to and excluding its end-of-line.
func (l *Lexer) skipComment() error {
	for {
		b, err := l.peek()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if b == '\r' || b == '\n' {
			return nil
		}
		l.readByte()
	}
}

// readString reads a literal string (hello)
func (l *Lexer) readString() (*Token, error) {
	startPos := l.pos
	var buf bytes.Buffer

	l.readByte() // (

	depth := 1
	for depth > 0 {
		b, err := l.readByte()
		if err == io.EOF {
			return nil, truncated(startPos, "unterminated literal string")
		}
		if err != nil {
			return nil, err
		}

		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(b)
			}
		case '\\':
			next, err := l.readByte()
			if err == io.EOF {
				return nil, truncated(startPos, "unterminated literal string")
			}
			if err != nil {
				return nil, err
			}
			switch next {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '(', ')', '\\':
				buf.WriteByte(next)
			case '\r', '\n':
				// Line continuation
				if next == '\r' {
					if p, err := l.peek(); err == nil && p == '\n' {
						l.readByte()
					}
				}
			case '0', '1', '2', '3', '4', '5', '6', '7':
				val := next - '0'
				for i := 0; i < 2; i++ {
					p, err := l.peek()
					if err != nil || !isOctalDigit(p) {
						break
					}
					l.readByte()
					val = val*8 + (p - '0')
				}
				buf.WriteByte(val)
			default:
				buf.WriteByte(next)
			}
		case '\r':
			// An unescaped end-of-line is read as a single LF
			if p, err := l.peek(); err == nil && p == '\n' {
				l.readByte()
			}
			buf.WriteByte('\n')
		default:
			buf.WriteByte(b)
		}
	}

	return &Token{Type: TokenString, Value: buf.Bytes(), Pos: startPos}, nil
}

// readHexString reads a hexadecimal string <48656C6C6F>
func (l *Lexer) readHexString() (*Token, error) {
	startPos := l.pos
	var buf bytes.Buffer

	l.readByte() // <

	for {
		b, err := l.readByte()
		if err == io.EOF {
			return nil, truncated(startPos, "unterminated hex string")
		}
		if err != nil {
			return nil, err
		}
		if b == '>' {
			break
		}
		if isWhitespace(b) {
			continue
		}
		if !isHexDigit(b) {
			return nil, malformed(l.pos-1, "invalid hex digit %q", b)
		}
		buf.WriteByte(b)
	}

	return &Token{Type: TokenHexString, Value: buf.Bytes(), Pos: startPos}, nil
}

// readName reads a name object /Type
func (l *Lexer) readName() (*Token, error) {
	startPos := l.pos
	var buf bytes.Buffer

	l.readByte() // /

	for {
		b, err := l.peek()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		l.readByte()

		if b == '#' {
			hex, err := l.peekN(2)
			if err == nil && len(hex) == 2 && isHexDigit(hex[0]) && isHexDigit(hex[1]) {
				l.readByte()
				l.readByte()
				buf.WriteByte(hexValue(hex[0])<<4 | hexValue(hex[1]))
				continue
			}
			// A bare '#' is kept literally, as older writers emitted it
		}
		buf.WriteByte(b)
	}

	return &Token{Type: TokenName, Value: buf.Bytes(), Pos: startPos}, nil
}

// readNumber reads an integer or real number
func (l *Lexer) readNumber() (*Token, error) {
	startPos := l.pos
	var buf bytes.Buffer
	hasDecimal := false
	hasDigit := false

	for {
		b, err := l.peek()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if b == '.' {
			if hasDecimal {
				break
			}
			hasDecimal = true
		} else if isDigit(b) {
			hasDigit = true
		} else if !(buf.Len() == 0 && (b == '-' || b == '+')) {
			// Some writers emit "--5"; a sign after the first one is dropped below
			if !(b == '-' && !hasDigit && !hasDecimal) {
				break
			}
		}
		l.readByte()
		buf.WriteByte(b)
	}

	value := buf.Bytes()
	if !hasDigit {
		if len(value) == 1 && value[0] == '.' {
			return &Token{Type: TokenReal, Value: []byte("0"), Pos: startPos}, nil
		}
		return nil, malformed(startPos, "invalid number %q", value)
	}
	// Collapse repeated leading signs such as "--5"
	for len(value) > 1 && (value[0] == '-' || value[0] == '+') && (value[1] == '-' || value[1] == '+') {
		value = value[1:]
	}

	tokenType := TokenInteger
	if hasDecimal {
		tokenType = TokenReal
	}

	return &Token{Type: tokenType, Value: value, Pos: startPos}, nil
}

// readKeyword reads a run of regular characters (true, false, null, R, obj, endobj, ...)
func (l *Lexer) readKeyword() (*Token, error) {
	startPos := l.pos
	var buf bytes.Buffer

	for {
		b, err := l.peek()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		l.readByte()
		buf.WriteByte(b)
	}

	value := buf.Bytes()
	if len(value) == 1 && value[0] == 'R' {
		return &Token{Type: TokenRef, Value: value, Pos: startPos}, nil
	}

	return &Token{Type: TokenKeyword, Value: value, Pos: startPos}, nil
}

// Helper functions

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == 0
}

func isDelimiter(b byte) bool {
	return b == '(' || b == ')' || b == '<' || b == '>' || b == '[' || b == ']' ||
		b == '{' || b == '}' || b == '/' || b == '%'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isOctalDigit(b byte) bool {
	return b >= '0' && b <= '7'
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexValue(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	}
	return 0
}

// ReadBytes reads exactly n bytes of raw data. The buffer grows as data
// arrives, so a lying length cannot force a huge allocation up front.
func (l *Lexer) ReadBytes(n int) ([]byte, error) {
	var buf bytes.Buffer
	if n < 64*1024 {
		buf.Grow(n)
	}

	if len(l.replay) > 0 {
		take := n
		if take > len(l.replay) {
			take = len(l.replay)
		}
		buf.Write(l.replay[:take])
		l.replay = l.replay[take:]
	}

	_, err := io.CopyN(&buf, l.reader, int64(n-buf.Len()))
	data := buf.Bytes()
	if l.marking {
		l.recorded = append(l.recorded, data...)
	}
	l.pos += int64(len(data))

	if err == io.EOF {
		return data, truncated(l.pos, "expected %d bytes of stream data, got %d", n, len(data))
	}
	if err != nil {
		return data, l.wrapReadError(err)
	}
	return data, nil
}

// ReadUntilKeyword consumes raw bytes up to and including the keyword and
// returns the bytes before it.
func (l *Lexer) ReadUntilKeyword(keyword string) ([]byte, error) {
	startPos := l.pos
	kw := []byte(keyword)
	var buf bytes.Buffer
	for {
		b, err := l.readByte()
		if err == io.EOF {
			return nil, truncated(startPos, "missing %s", keyword)
		}
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == kw[len(kw)-1] && bytes.HasSuffix(buf.Bytes(), kw) {
			return buf.Bytes()[:buf.Len()-len(kw)], nil
		}
	}
}

// SkipStreamEOL consumes the end-of-line marker that follows the stream
// keyword: LF, CR LF, or (leniently) a lone CR.
func (l *Lexer) SkipStreamEOL() error {
	// Tolerate stray spaces before the EOL
	for {
		b, err := l.peek()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if b != ' ' && b != '\t' {
			break
		}
		l.readByte()
	}
	b, err := l.peek()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	switch b {
	case '\n':
		l.readByte()
	case '\r':
		l.readByte()
		if next, err := l.peek(); err == nil && next == '\n' {
			l.readByte()
		}
	}
	return nil
}

// AtKeyword skips whitespace and reports whether the next bytes spell the
// keyword. Consumes the keyword when it matches.
func (l *Lexer) AtKeyword(keyword string) bool {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return false
	}
	got, _ := l.peekN(len(keyword))
	if string(got) != keyword {
		return false
	}
	for range keyword {
		l.readByte()
	}
	return true
}

// SkipLine discards input up to and including the next end-of-line.
func (l *Lexer) SkipLine() error {
	for {
		b, err := l.readByte()
		if err != nil {
			return err
		}
		if b == '\n' || b == '\r' {
			return nil
		}
	}
}
