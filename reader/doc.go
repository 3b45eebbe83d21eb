// Package reader loads PDF documents and gives access to their objects.
//
// # Opening PDF Files
//
// Use [Open] to open a PDF file for reading:
//
//	doc, err := reader.Open("document.pdf", reader.WithPassword("secret"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer doc.Close()
//
// Or use [NewReader] with any io.ReaderAt.
//
// # Loading
//
// A document is loaded in one of two ways. Normally the loader skips any
// junk before the %PDF- header, follows startxref to the newest
// cross-reference section and chains older revisions through /Prev. When
// that fails (a bad startxref, a broken table, a catalog that does not
// resolve) the whole file is scanned for objects and trailers instead, and
// [Document.Recovered] reports true. In that mode an object found in the
// file replaces whatever the file's table claimed; [WithStrictRecovery]
// keeps declared entries that still resolve.
//
// Load errors are classified:
//
//   - [ErrNotPDF] - no PDF objects in the input
//   - [ErrNoCatalog] - objects but no usable catalog
//   - security.ErrPasswordRequired, security.ErrUnsupported - encryption
//   - core.ErrIO - the underlying file could not be read
//
// # Document Information
//
// The Document provides access to document structure:
//
//   - Version() - PDF version (e.g., 1.7)
//   - Catalog() - document catalog
//   - Trailer() - merged trailer dictionary
//   - Info(), Metadata() - document information dictionary
//   - PageCount(), Page(i), Walk(ctx, fn) - pages
//   - PageImages(ctx, page) - image XObjects of a page
//
// # Object Resolution
//
// Objects are loaded on first use and cached for the life of the document:
//
//   - ResolveReference(ref) - resolve a reference
//   - ResolveContext(ctx, ref) - the same, abandoning the wait when ctx ends
//   - Resolve(obj) - resolve if indirect, otherwise return as-is
//   - ResolveDeep(obj) - recursively resolve all references
package reader
