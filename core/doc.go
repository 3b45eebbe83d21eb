// Package core provides low-level PDF parsing primitives and object types.
//
// This package implements the fundamental building blocks for working with PDF files:
// the object model, the tokenizer and parser, cross-reference sections, object
// streams and stream filters.
//
// # Object Types
//
// PDF objects are represented by a closed set of types satisfying the Object
// interface:
//
//   - [Null] - represents the PDF null object
//   - [Bool] - represents PDF boolean values (true/false)
//   - [Int] - represents PDF integers
//   - [Real] - represents PDF real numbers (floating point)
//   - [String] - represents PDF string objects (literal or hexadecimal)
//   - [Name] - represents PDF name objects (e.g., /Type, /Font)
//   - [Array] - represents PDF arrays
//   - [Dict] - represents PDF dictionaries
//   - [Stream] - a dictionary plus its raw data
//   - [Reference] - an "N G R" reference to an indirect object
//
// # Parsing
//
// The [Lexer] turns raw bytes into tokens and the [Parser] builds objects from
// them. [Parser.ParseIndirectObject] reads an "N G obj ... endobj" definition;
// [Parser.ParseTopLevel] drives a sequential scan of a whole file, returning
// objects, trailer dictionaries and stray tokens in file order.
//
// Errors wrap [ErrMalformedSyntax], [ErrUnexpectedEOF] or [ErrIO] so callers
// can tell damaged input from a failing byte source.
//
// # Byte Sources
//
// A [Source] wraps an io.ReaderAt. Every parser gets its own section reader, so
// parsers never share a cursor. Files with junk before the %PDF- header are
// handled by [Source.WithBase]: declared offsets are corrected when used.
//
// # Cross-Reference Data
//
// [ParseXRefSection] reads a classic table and its trailer; [ParseXRefStream]
// decodes a cross-reference stream. Both produce an [XRefTable] of
// [XRefEntry] values.
//
// # Object Streams
//
// The [ObjectStream] type (PDF 1.5+) handles object streams, which store multiple
// objects in a single compressed stream. The container is decoded once and
// shared by all readers.
//
// # Stream Decoding
//
// [Stream.Decode] applies the /Filter chain. FlateDecode, LZWDecode,
// ASCIIHexDecode, ASCII85Decode, RunLengthDecode and CCITTFaxDecode are
// decoded; image codecs are passed through untouched.
package core
