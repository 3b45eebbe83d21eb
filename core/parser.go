package core

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ReferenceResolver is an interface for resolving indirect references.
// This allows the parser to resolve indirect stream lengths when needed.
type ReferenceResolver interface {
	ResolveReference(ref Reference) (Object, error)
}

// Parser parses PDF objects using a Lexer for tokenization. It keeps two tokens
// of lookahead, which is enough to tell "N G R" and "N G obj" from plain
// numbers without committing early.
type Parser struct {
	lexer    *Lexer
	cur      *Token
	curErr   error
	peek     *Token
	peekErr  error
	resolver ReferenceResolver
}

// NewParser creates a new PDF parser for the given reader.
func NewParser(r io.Reader) *Parser {
	return NewParserAt(r, 0)
}

// NewParserAt creates a parser whose first byte sits at absolute position pos,
// so that object and stream offsets are reported in file coordinates.
func NewParserAt(r io.Reader, pos int64) *Parser {
	p := &Parser{
		lexer: NewLexerAt(r, pos),
	}
	p.nextToken()
	p.nextToken()
	return p
}

// SetReferenceResolver sets the resolver used for indirect stream lengths.
func (p *Parser) SetReferenceResolver(resolver ReferenceResolver) {
	p.resolver = resolver
}

// Pos returns the position of the current token, or of the next unread byte
// when no token is buffered.
func (p *Parser) Pos() int64 {
	if p.cur != nil {
		return p.cur.Pos
	}
	return p.lexer.Pos()
}

// nextToken shifts the lookahead window by one token.
func (p *Parser) nextToken() {
	p.cur, p.curErr = p.peek, p.peekErr

	// Stream data is binary; parseStream reads it straight from the lexer.
	if p.cur.is("stream") {
		p.peek, p.peekErr = nil, nil
		return
	}

	p.peek, p.peekErr = p.lexer.NextToken()
}

// refill discards the lookahead window and lexes two fresh tokens.
func (p *Parser) refill() {
	p.peek, p.peekErr = p.lexer.NextToken()
	p.nextToken()
}

// current returns the current token or the error that prevented lexing it.
func (p *Parser) current() (*Token, error) {
	if p.cur != nil {
		return p.cur, nil
	}
	if p.curErr != nil {
		return nil, p.curErr
	}
	return nil, truncated(p.lexer.Pos(), "no token")
}

// ParseObject parses and returns the next direct PDF object.
// It returns io.EOF when the input is exhausted.
func (p *Parser) ParseObject() (Object, error) {
	tok, err := p.current()
	if err != nil {
		return nil, err
	}

	switch tok.Type {
	case TokenEOF:
		return nil, io.EOF

	case TokenKeyword:
		switch string(tok.Value) {
		case "null":
			p.nextToken()
			return Null{}, nil
		case "true":
			p.nextToken()
			return Bool(true), nil
		case "false":
			p.nextToken()
			return Bool(false), nil
		default:
			return nil, malformed(tok.Pos, "unexpected keyword %q", tok.Value)
		}

	case TokenInteger:
		return p.parseNumber()

	case TokenReal:
		val, err := strconv.ParseFloat(string(tok.Value), 64)
		if err != nil {
			return nil, malformed(tok.Pos, "invalid real number %q", tok.Value)
		}
		p.nextToken()
		return Real(val), nil

	case TokenString:
		val := string(tok.Value)
		p.nextToken()
		return String(val), nil

	case TokenHexString:
		p.nextToken()
		return String(decodeHex(tok.Value)), nil

	case TokenName:
		val := string(tok.Value)
		p.nextToken()
		return Name(val), nil

	case TokenArrayStart:
		return p.parseArray()

	case TokenDictStart:
		return p.parseDict()

	default:
		return nil, malformed(tok.Pos, "unexpected %v token", tok.Type)
	}
}

// decodeHex converts the digits of a hex string token to bytes, padding an odd
// final digit with zero.
func decodeHex(digits []byte) []byte {
	out := make([]byte, (len(digits)+1)/2)
	for i, d := range digits {
		v := hexValue(d)
		if i%2 == 0 {
			out[i/2] = v << 4
		} else {
			out[i/2] |= v
		}
	}
	return out
}

// parseNumber parses an integer, real number, or indirect reference.
// Indirect references are detected by lookahead: "num gen R" pattern.
func (p *Parser) parseNumber() (Object, error) {
	first := p.cur
	firstInt, err := strconv.ParseInt(string(first.Value), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(first.Value), 64)
		if ferr != nil {
			return nil, malformed(first.Pos, "invalid number %q", first.Value)
		}
		p.nextToken()
		return Real(f), nil
	}

	if p.peek != nil && p.peek.Type == TokenInteger {
		secondInt, err := strconv.ParseInt(string(p.peek.Value), 10, 64)
		if err == nil {
			p.nextToken() // now at the second integer
			if p.peek != nil && p.peek.Type == TokenRef {
				p.nextToken() // R
				p.nextToken() // past R
				return Reference{
					Number:     int(firstInt),
					Generation: int(secondInt),
				}, nil
			}
			// Not a reference; the second integer stays current
			return Int(firstInt), nil
		}
	}

	p.nextToken()
	return Int(firstInt), nil
}

// parseArray parses a PDF array "[obj1 obj2 ...]".
func (p *Parser) parseArray() (Object, error) {
	start := p.cur.Pos
	p.nextToken()

	arr := Array{}
	for {
		tok, err := p.current()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case TokenArrayEnd:
			p.nextToken()
			return arr, nil
		case TokenEOF:
			return nil, truncated(start, "unterminated array")
		}
		if tok.is("endobj") || tok.is("stream") {
			return nil, malformed(tok.Pos, "unterminated array")
		}

		obj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", len(arr), err)
		}
		arr = append(arr, obj)
	}
}

// parseDict parses a PDF dictionary "<< /Key value ... >>".
func (p *Parser) parseDict() (Object, error) {
	start := p.cur.Pos
	p.nextToken()

	dict := make(Dict)
	for {
		tok, err := p.current()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case TokenDictEnd:
			p.nextToken()
			return dict, nil
		case TokenEOF:
			return nil, truncated(start, "unterminated dictionary")
		case TokenName:
		default:
			return nil, malformed(tok.Pos, "expected name for dictionary key, got %v", tok.Type)
		}
		key := string(tok.Value)
		p.nextToken()

		// A key directly followed by >> has no value; treat it as null
		if next, err := p.current(); err == nil && next.Type == TokenDictEnd {
			continue
		}

		value, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("dictionary value for /%s: %w", key, err)
		}
		// A null value is equivalent to an absent key
		if _, isNull := value.(Null); isNull {
			continue
		}
		dict[key] = value
	}
}

// ParseIndirectObject parses an indirect object definition.
// Format: "num gen obj <object> endobj" or "num gen obj <dict> stream ... endstream endobj"
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	tok, err := p.current()
	if err != nil {
		return nil, err
	}
	if tok.Type == TokenEOF {
		return nil, truncated(tok.Pos, "expected indirect object")
	}
	header := tok.Pos
	num, gen, err := p.parseObjectHeader()
	if err != nil {
		return nil, err
	}
	return p.parseIndirectBody(num, gen, header)
}

func (p *Parser) parseObjectHeader() (int, int, error) {
	tok := p.cur
	if tok.Type != TokenInteger {
		return 0, 0, malformed(tok.Pos, "expected object number, got %v", tok.Type)
	}
	num, err := strconv.Atoi(string(tok.Value))
	if err != nil || num < 0 {
		return 0, 0, malformed(tok.Pos, "invalid object number %q", tok.Value)
	}
	p.nextToken()

	tok, err = p.current()
	if err != nil {
		return 0, 0, err
	}
	if tok.Type != TokenInteger {
		return 0, 0, malformed(tok.Pos, "expected generation number, got %v", tok.Type)
	}
	gen, err := strconv.Atoi(string(tok.Value))
	if err != nil || gen < 0 {
		return 0, 0, malformed(tok.Pos, "invalid generation number %q", tok.Value)
	}
	p.nextToken()

	tok, err = p.current()
	if err != nil {
		return 0, 0, err
	}
	if !tok.is("obj") {
		return 0, 0, malformed(tok.Pos, "expected 'obj' keyword, got %q", tok.Value)
	}
	p.nextToken()
	return num, gen, nil
}

func (p *Parser) parseIndirectBody(num, gen int, header int64) (*IndirectObject, error) {
	ref := Reference{Number: num, Generation: gen}

	var obj Object
	tok, err := p.current()
	if err != nil {
		return nil, err
	}
	if tok.is("endobj") {
		// "N G obj endobj" is an empty object, read as null
		obj = Null{}
	} else {
		obj, err = p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("object %v: %w", ref, err)
		}
	}

	if p.cur.is("stream") {
		dict, ok := obj.(Dict)
		if !ok {
			return nil, malformed(p.cur.Pos, "object %v: stream must follow a dictionary", ref)
		}
		stream, err := p.parseStream(dict)
		if err != nil {
			return nil, fmt.Errorf("object %v: %w", ref, err)
		}
		obj = stream
	}

	tok, err = p.current()
	if err != nil {
		return nil, err
	}
	if tok.is("endobj") {
		p.nextToken()
	}
	// A missing endobj is common in damaged files; the object itself parsed fine.

	return &IndirectObject{Ref: ref, Object: obj, Offset: header}, nil
}

// parseStream reads the data following the stream keyword. The declared
// Length is trusted only when it lands on endstream; otherwise the data is
// recovered by scanning forward for the endstream keyword.
func (p *Parser) parseStream(dict Dict) (*Stream, error) {
	if err := p.lexer.SkipStreamEOL(); err != nil {
		return nil, err
	}
	start := p.lexer.Pos()

	var data []byte
	if length, ok := p.streamLength(dict); ok {
		p.lexer.Mark()
		d, err := p.lexer.ReadBytes(length)
		if errors.Is(err, ErrIO) {
			p.lexer.Unmark()
			return nil, err
		}
		if err == nil && p.lexer.AtKeyword("endstream") {
			p.lexer.Unmark()
			data = d
		} else {
			p.lexer.Reset()
		}
	}

	if data == nil {
		d, err := p.lexer.ReadUntilKeyword("endstream")
		if err != nil {
			return nil, err
		}
		data = trimTrailingEOL(d)
	}

	p.refill()

	return &Stream{
		Dict:   dict,
		Data:   data,
		Offset: start,
	}, nil
}

// streamLength returns the declared length when it can be determined without
// guessing.
func (p *Parser) streamLength(dict Dict) (int, bool) {
	switch v := dict.Get("Length").(type) {
	case Int:
		if v >= 0 {
			return int(v), true
		}
	case Reference:
		if p.resolver == nil {
			return 0, false
		}
		resolved, err := p.resolver.ResolveReference(v)
		if err != nil {
			return 0, false
		}
		if n, ok := resolved.(Int); ok && n >= 0 {
			return int(n), true
		}
	}
	return 0, false
}

func trimTrailingEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// ParseTopLevel returns the next item of a sequential scan: an
// *IndirectObject, a *TrailerSection, or a *Token that is not part of either.
// It returns io.EOF at the end of input.
func (p *Parser) ParseTopLevel() (TopLevel, error) {
	tok, err := p.current()
	if err != nil {
		return nil, err
	}

	switch {
	case tok.Type == TokenEOF:
		return nil, io.EOF

	case tok.Type == TokenInteger && p.peek != nil && p.peek.Type == TokenInteger:
		// Could be "N G obj"; needs one more token to decide
		num, nerr := strconv.Atoi(string(tok.Value))
		gen, gerr := strconv.Atoi(string(p.peek.Value))
		p.nextToken()
		if nerr == nil && gerr == nil && num >= 0 && gen >= 0 && p.peek.is("obj") {
			p.nextToken()
			p.nextToken()
			return p.parseIndirectBody(num, gen, tok.Pos)
		}
		return tok, nil

	case tok.is("trailer"):
		p.nextToken()
		obj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("trailer: %w", err)
		}
		dict, ok := obj.(Dict)
		if !ok {
			return nil, malformed(tok.Pos, "trailer is not a dictionary")
		}
		return &TrailerSection{Dict: dict, Pos: tok.Pos}, nil

	case tok.Type == TokenDictStart || tok.Type == TokenArrayStart:
		// Stray direct objects between definitions are parsed and dropped
		if _, err := p.ParseObject(); err != nil {
			return nil, err
		}
		return tok, nil
	}

	p.nextToken()
	return tok, nil
}

// Skip abandons the current lookahead and resumes lexing at the next line,
// used to resynchronize a sequential scan after a syntax error.
func (p *Parser) Skip() error {
	if err := p.lexer.SkipLine(); err != nil {
		if err == io.EOF {
			p.cur, p.curErr = &Token{Type: TokenEOF, Pos: p.lexer.Pos()}, nil
			p.peek, p.peekErr = p.cur, nil
			return nil
		}
		return err
	}
	p.refill()
	return nil
}

// ExpectKeyword consumes the keyword or fails with ErrMalformedSyntax.
func (p *Parser) ExpectKeyword(kw string) error {
	tok, err := p.current()
	if err != nil {
		return err
	}
	if !tok.is(kw) {
		if tok.Type == TokenEOF {
			return truncated(tok.Pos, "expected %q", kw)
		}
		return malformed(tok.Pos, "expected %q, got %q", kw, tok.Value)
	}
	p.nextToken()
	return nil
}

// PeekKeyword reports whether the current token is the keyword.
func (p *Parser) PeekKeyword(kw string) bool {
	return p.cur.is(kw)
}

// ParseInt consumes an integer token.
func (p *Parser) ParseInt() (int64, error) {
	tok, err := p.current()
	if err != nil {
		return 0, err
	}
	if tok.Type != TokenInteger {
		if tok.Type == TokenEOF {
			return 0, truncated(tok.Pos, "expected integer")
		}
		return 0, malformed(tok.Pos, "expected integer, got %v", tok.Type)
	}
	v, err := strconv.ParseInt(string(tok.Value), 10, 64)
	if err != nil {
		return 0, malformed(tok.Pos, "invalid integer %q", tok.Value)
	}
	p.nextToken()
	return v, nil
}

// Token returns the current token without consuming it.
func (p *Parser) Token() (*Token, error) {
	return p.current()
}

// Advance consumes the current token.
func (p *Parser) Advance() {
	p.nextToken()
}
