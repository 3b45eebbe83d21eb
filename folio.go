// Package folio provides a fluent API for opening PDF files and reaching
// their objects, pages and images.
//
// Basic usage:
//
//	doc, err := folio.Open("document.pdf").Load()
//	if err != nil {
//	    // handle error
//	}
//	defer doc.Close()
//
// With options:
//
//	images, warnings, err := folio.Open("scan.pdf").
//	    Password("secret").
//	    Strict().
//	    Pages(1, 2).
//	    Images()
//
// For advanced use cases, the lower-level reader, store and xref packages
// are also available.
package folio

import (
	"io"

	"github.com/tsawler/folio/reader"
)

// Open returns a Loader for the PDF file at filename. Nothing is read until
// a terminal operation such as Load or PageCount runs.
//
// Example:
//
//	n, err := folio.Open("document.pdf").PageCount()
func Open(filename string) *Loader {
	return &Loader{
		filename: filename,
		options:  defaultOptions(),
	}
}

// FromReaderAt returns a Loader for size bytes of r.
func FromReaderAt(r io.ReaderAt, size int64) *Loader {
	return &Loader{
		src:     r,
		size:    size,
		options: defaultOptions(),
	}
}

// FromDocument returns a Loader over an already loaded document. The caller
// remains responsible for closing it; load options have no effect.
func FromDocument(doc *reader.Document) *Loader {
	return &Loader{
		doc:     doc,
		options: defaultOptions(),
	}
}

// Must is a helper that wraps a call to a function returning (T, error)
// and panics if the error is non-nil. It is intended for use in scripts
// or tests where error handling would be cumbersome.
//
// Example:
//
//	count := folio.Must(folio.Open("document.pdf").PageCount())
func Must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

// MustWarn is Must for operations that also return warnings, which are
// discarded.
//
// Example:
//
//	images := folio.MustWarn(folio.Open("document.pdf").Images())
func MustWarn[T any](val T, _ []Warning, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}
