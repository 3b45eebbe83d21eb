package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/pages"
	"github.com/tsawler/folio/resolver"
	"github.com/tsawler/folio/store"
	"github.com/tsawler/folio/xref"
)

// PDFVersion represents a PDF version
type PDFVersion struct {
	Major int
	Minor int
}

// String returns the version as a string (e.g., "1.7")
func (v PDFVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func (v PDFVersion) less(o PDFVersion) bool {
	return v.Major < o.Major || (v.Major == o.Major && v.Minor < o.Minor)
}

// parseVersion parses a /Version name such as "1.7".
func parseVersion(s string) (PDFVersion, bool) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return PDFVersion{}, false
	}
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return PDFVersion{}, false
	}
	return PDFVersion{Major: ma, Minor: mi}, true
}

// Document is an open PDF file: its trailer chain, its object store and its
// catalog. Objects are loaded on first use. Document is safe for concurrent
// use.
type Document struct {
	file      io.Closer
	src       *core.Source
	chain     *xref.Chain
	store     *store.Store
	version   PDFVersion
	rootRef   core.Reference
	catalog   *pages.Catalog
	recovered bool
	logger    *slog.Logger

	treeOnce sync.Once
	tree     *pages.PageTree
	treeErr  error
}

// Ensure Document implements pages.ObjectResolver and the store can back a
// deep resolver.
var (
	_ pages.ObjectResolver  = (*Document)(nil)
	_ resolver.ObjectReader = (*store.Store)(nil)
)

// Open opens the PDF file at path.
func Open(path string, opts ...Option) (*Document, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext is Open with a context that bounds loading.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("%w: %w", core.ErrIO, err))
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.WithStack(fmt.Errorf("%w: %w", core.ErrIO, err))
	}

	doc, err := NewReaderContext(ctx, file, info.Size(), opts...)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	doc.file = file
	return doc, nil
}

// NewReader loads a document from size bytes of r.
func NewReader(r io.ReaderAt, size int64, opts ...Option) (*Document, error) {
	return NewReaderContext(context.Background(), r, size, opts...)
}

// NewReaderContext is NewReader with a context that bounds loading.
func NewReaderContext(ctx context.Context, r io.ReaderAt, size int64, opts ...Option) (*Document, error) {
	cfg := newConfig(opts)
	res, err := load(ctx, core.NewSource(r, size), cfg)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		src:       res.src,
		chain:     res.chain,
		store:     res.store,
		version:   PDFVersion{Major: res.header.Major, Minor: res.header.Minor},
		rootRef:   res.rootRef,
		recovered: res.recovered,
		logger:    cfg.logger,
	}
	doc.catalog = pages.NewCatalog(res.catalog, doc)
	if v, ok := parseVersion(doc.catalog.Version()); ok && doc.version.less(v) {
		doc.version = v
	}
	return doc, nil
}

// Close releases the object store and, for documents opened by path, the
// file.
func (d *Document) Close() error {
	err := d.store.Close()
	if d.file != nil {
		if cerr := d.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Version returns the PDF version: the header's, or the catalog's /Version
// when that is newer.
func (d *Document) Version() PDFVersion {
	return d.version
}

// Recovered reports whether the document was loaded by a linear scan
// because its cross-reference information was unusable.
func (d *Document) Recovered() bool {
	return d.recovered
}

// Base returns the number of junk bytes before the %PDF- header.
func (d *Document) Base() int64 {
	return d.src.Base()
}

// Store returns the document's object store.
func (d *Document) Store() *store.Store {
	return d.store
}

// Chain returns the cross-reference chain the store resolves through.
func (d *Document) Chain() *xref.Chain {
	return d.chain
}

// Trailer returns a copy of the merged trailer dictionary.
func (d *Document) Trailer() core.Dict {
	return d.chain.Trailer()
}

// RootRef returns the reference to the catalog.
func (d *Document) RootRef() core.Reference {
	return d.rootRef
}

// Catalog returns the document catalog.
func (d *Document) Catalog() *pages.Catalog {
	return d.catalog
}

// Info returns the document information dictionary, or nil when the
// trailer has none.
func (d *Document) Info() (core.Dict, error) {
	infoObj := d.Trailer().Get("Info")
	if infoObj == nil {
		return nil, nil
	}
	obj, err := d.Resolve(infoObj)
	if err != nil {
		if errors.Is(err, core.ErrUnresolvedReference) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "resolving /Info")
	}
	info, ok := obj.(core.Dict)
	if !ok {
		return nil, errors.Errorf("info is not a dictionary: %T", obj)
	}
	return info, nil
}

// Metadata returns the text entries of the information dictionary
// (Title, Author, Producer and so on), decoded to UTF-8.
func (d *Document) Metadata() (map[string]string, error) {
	info, err := d.Info()
	if err != nil || info == nil {
		return nil, err
	}
	out := make(map[string]string)
	for key, v := range info {
		obj, err := d.Resolve(v)
		if err != nil {
			continue
		}
		if s, ok := obj.(core.String); ok {
			out[key] = core.DecodeTextString(s)
		}
	}
	return out, nil
}

// ResolveContext returns the object ref names.
func (d *Document) ResolveContext(ctx context.Context, ref core.Reference) (core.Object, error) {
	return d.store.Resolve(ctx, ref)
}

// ResolveReference returns the object ref names.
func (d *Document) ResolveReference(ref core.Reference) (core.Object, error) {
	return d.store.ResolveReference(ref)
}

// Resolve follows obj if it is a reference, otherwise returns it as is.
func (d *Document) Resolve(obj core.Object) (core.Object, error) {
	if ref, ok := obj.(core.Reference); ok {
		return d.ResolveReference(ref)
	}
	return obj, nil
}

// ResolveDeep returns obj with every nested reference expanded. Dangling
// references become null.
func (d *Document) ResolveDeep(obj core.Object) (core.Object, error) {
	return resolver.NewResolver(d.store).ResolveDeep(obj)
}

// PageTree returns the page tree rooted at the catalog's /Pages.
func (d *Document) PageTree() (*pages.PageTree, error) {
	d.treeOnce.Do(func() {
		d.tree, d.treeErr = d.catalog.PageTree()
	})
	return d.tree, d.treeErr
}

// PageCount returns the number of pages the page tree actually holds.
func (d *Document) PageCount() (int, error) {
	tree, err := d.PageTree()
	if err != nil {
		return 0, err
	}
	all, err := tree.Pages()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Page returns the page at the given index (0-based)
func (d *Document) Page(index int) (*pages.Page, error) {
	tree, err := d.PageTree()
	if err != nil {
		return nil, err
	}
	return tree.GetPage(index)
}

// Walk visits every page in order until fn fails or ctx is cancelled.
func (d *Document) Walk(ctx context.Context, fn func(index int, page *pages.Page) error) error {
	tree, err := d.PageTree()
	if err != nil {
		return err
	}
	return tree.Walk(ctx, fn)
}
