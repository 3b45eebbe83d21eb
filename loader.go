package folio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/tsawler/folio/reader"
)

// Warning is a non-fatal problem met while processing a document.
type Warning struct {
	Page    int // 1-indexed; 0 for the whole document
	Message string
}

// String returns the warning as a single line.
func (w Warning) String() string {
	if w.Page == 0 {
		return w.Message
	}
	return fmt.Sprintf("page %d: %s", w.Page, w.Message)
}

// FormatWarnings joins warnings one per line.
func FormatWarnings(warnings []Warning) string {
	lines := make([]string, len(warnings))
	for i, w := range warnings {
		lines[i] = w.String()
	}
	return strings.Join(lines, "\n")
}

// Loader provides a fluent interface for loading a PDF. Each configuration
// method returns a new Loader, so a partially configured Loader can be
// shared and reused.
type Loader struct {
	// Source: exactly one is set
	filename string
	src      io.ReaderAt
	size     int64
	doc      *reader.Document

	// Configuration
	options LoadOptions

	// Accumulated error (fail-fast)
	err error
}

// clone creates a shallow copy of the Loader with a deep copy of options.
func (l *Loader) clone() *Loader {
	return &Loader{
		filename: l.filename,
		src:      l.src,
		size:     l.size,
		doc:      l.doc,
		options:  l.options.clone(),
		err:      l.err,
	}
}

// Password sets the password for an encrypted document. It is tried as
// both the user and the owner password.
//
// Example:
//
//	doc, err := folio.Open("locked.pdf").Password("secret").Load()
func (l *Loader) Password(password string) *Loader {
	newLoader := l.clone()
	newLoader.options.password = password
	return newLoader
}

// Strict refuses to let an object found by a recovery scan replace a
// cross-reference entry that still resolves.
func (l *Loader) Strict() *Loader {
	newLoader := l.clone()
	newLoader.options.strict = true
	return newLoader
}

// Logger sets the logger for recoverable load problems.
func (l *Loader) Logger(logger *slog.Logger) *Loader {
	newLoader := l.clone()
	newLoader.options.logger = logger
	return newLoader
}

// HeaderWindow sets how many leading bytes are searched for the header.
func (l *Loader) HeaderWindow(n int) *Loader {
	newLoader := l.clone()
	if n <= 0 {
		newLoader.err = fmt.Errorf("header window must be positive, got %d", n)
		return newLoader
	}
	newLoader.options.headerWindow = n
	return newLoader
}

// MaxRevisions limits how many incremental updates are followed.
func (l *Loader) MaxRevisions(n int) *Loader {
	newLoader := l.clone()
	if n <= 0 {
		newLoader.err = fmt.Errorf("revision limit must be positive, got %d", n)
		return newLoader
	}
	newLoader.options.maxRevisions = n
	return newLoader
}

// Pages selects pages (1-indexed) for page-level operations.
//
// Example:
//
//	images, _, err := folio.Open("doc.pdf").Pages(1, 3).Images()
func (l *Loader) Pages(pages ...int) *Loader {
	newLoader := l.clone()
	newLoader.options.pages = append(newLoader.options.pages, pages...)
	return newLoader
}

// PageRange selects a range of pages (1-indexed, inclusive).
func (l *Loader) PageRange(start, end int) *Loader {
	newLoader := l.clone()
	for i := start; i <= end; i++ {
		newLoader.options.pages = append(newLoader.options.pages, i)
	}
	return newLoader
}

// Load opens the document. The caller must close it.
func (l *Loader) Load() (*reader.Document, error) {
	return l.LoadContext(context.Background())
}

// LoadContext is Load with a context that bounds loading.
func (l *Loader) LoadContext(ctx context.Context) (*reader.Document, error) {
	if l.err != nil {
		return nil, l.err
	}
	switch {
	case l.doc != nil:
		return l.doc, nil
	case l.src != nil:
		return reader.NewReaderContext(ctx, l.src, l.size, l.options.readerOptions()...)
	case l.filename != "":
		return reader.OpenContext(ctx, l.filename, l.options.readerOptions()...)
	}
	return nil, fmt.Errorf("no document source specified")
}

// with loads the document, runs fn and closes the document unless it was
// supplied by FromDocument.
func (l *Loader) with(ctx context.Context, fn func(doc *reader.Document) error) error {
	doc, err := l.LoadContext(ctx)
	if err != nil {
		return err
	}
	if l.doc == nil {
		defer doc.Close()
	}
	return fn(doc)
}

// PageCount returns the number of pages. This is a terminal operation.
func (l *Loader) PageCount() (int, error) {
	var n int
	err := l.with(context.Background(), func(doc *reader.Document) error {
		var err error
		n, err = doc.PageCount()
		return err
	})
	return n, err
}

// Metadata returns the document information entries decoded to UTF-8.
// This is a terminal operation.
func (l *Loader) Metadata() (map[string]string, error) {
	var meta map[string]string
	err := l.with(context.Background(), func(doc *reader.Document) error {
		var err error
		meta, err = doc.Metadata()
		return err
	})
	return meta, err
}

// Images returns the image XObjects of the selected pages, in page order.
// Pages whose images cannot be read produce warnings. This is a terminal
// operation.
func (l *Loader) Images() ([]reader.PageImage, []Warning, error) {
	return l.ImagesContext(context.Background())
}

// ImagesContext is Images with a context checked between pages.
func (l *Loader) ImagesContext(ctx context.Context) ([]reader.PageImage, []Warning, error) {
	var images []reader.PageImage
	var warnings []Warning
	err := l.with(ctx, func(doc *reader.Document) error {
		warnings = recoveryWarnings(doc)
		indices, err := l.resolvePages(doc)
		if err != nil {
			return err
		}
		for _, i := range indices {
			page, err := doc.Page(i)
			if err != nil {
				warnings = append(warnings, Warning{Page: i + 1, Message: err.Error()})
				continue
			}
			imgs, err := doc.PageImages(ctx, page)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				warnings = append(warnings, Warning{Page: i + 1, Message: err.Error()})
				continue
			}
			images = append(images, imgs...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return images, warnings, nil
}

func recoveryWarnings(doc *reader.Document) []Warning {
	if !doc.Recovered() {
		return nil
	}
	return []Warning{{Message: "cross-reference information is damaged; objects were recovered by scanning the file"}}
}

// resolvePages converts the 1-indexed selection to sorted, unique 0-indexed
// page numbers, or every page when nothing was selected.
func (l *Loader) resolvePages(doc *reader.Document) ([]int, error) {
	pageCount, err := doc.PageCount()
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	if len(l.options.pages) == 0 {
		pageIndices := make([]int, pageCount)
		for i := 0; i < pageCount; i++ {
			pageIndices[i] = i
		}
		return pageIndices, nil
	}

	seen := make(map[int]bool)
	var pageIndices []int
	for _, p := range l.options.pages {
		if p < 1 || p > pageCount {
			return nil, fmt.Errorf("page %d out of range (1-%d)", p, pageCount)
		}
		if !seen[p-1] {
			seen[p-1] = true
			pageIndices = append(pageIndices, p-1)
		}
	}
	sort.Ints(pageIndices)
	return pageIndices, nil
}
