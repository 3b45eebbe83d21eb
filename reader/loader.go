package reader

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/security"
	"github.com/tsawler/folio/store"
	"github.com/tsawler/folio/xref"
)

var (
	// ErrNotPDF is returned when neither load strategy finds any PDF objects.
	ErrNotPDF = errors.New("not a PDF file")

	// ErrNoCatalog is returned when objects were found but none of them is a
	// usable document catalog.
	ErrNoCatalog = errors.New("document catalog not found")
)

// loaded is the state a successful load strategy hands to the Document.
type loaded struct {
	src       *core.Source
	chain     *xref.Chain
	store     *store.Store
	header    core.Header
	rootRef   core.Reference
	catalog   core.Dict
	recovered bool
}

// load runs the cross-reference strategy and, when it fails for any reason
// other than security or I/O, the linear scan. Nothing from a failed
// attempt survives into the next one.
func load(ctx context.Context, src *core.Source, cfg *config) (*loaded, error) {
	header, err := src.FindHeader(cfg.headerWindow)
	switch {
	case err == nil:
		src = src.WithBase(header.Offset)
		if header.Offset > 0 {
			cfg.logger.Info("junk before PDF header", slog.Int64("bytes", header.Offset))
		}
		res, xerr := loadXRef(ctx, src, cfg)
		if xerr == nil {
			res.header = header
			return res, nil
		}
		if fatal(xerr) {
			return nil, xerr
		}
		cfg.logger.Warn("cross-reference load failed, scanning file", slog.Any("error", xerr))
	case errors.Is(err, core.ErrIO):
		return nil, err
	default:
		cfg.logger.Warn("no PDF header, scanning file", slog.Any("error", err))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := loadLinear(ctx, src, cfg)
	if err != nil {
		return nil, err
	}
	res.header = header
	return res, nil
}

// fatal reports errors that must reach the caller instead of triggering the
// linear scan.
func fatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, core.ErrIO) ||
		errors.Is(err, security.ErrPasswordRequired) ||
		errors.Is(err, security.ErrUnsupported)
}

// loadXRef follows startxref to the newest revision and binds a store to
// the chain it heads.
func loadXRef(ctx context.Context, src *core.Source, cfg *config) (*loaded, error) {
	off, err := src.FindStartXRef()
	if err != nil {
		return nil, err
	}

	chain := xref.NewChain(src, xref.WithLogger(cfg.logger), xref.WithMaxRevisions(cfg.maxRevisions))
	head, err := chain.Load(off)
	if err != nil {
		return nil, errors.Wrapf(err, "startxref %d", off)
	}
	if chain.PrimaryXRef(head) == nil {
		return nil, errors.Errorf("revision at %d has no cross-reference table", off)
	}

	rev := chain.Revision(head)
	rootRef, ok := rev.Root()
	if !ok {
		// an update trailer may leave /Root to an older revision
		chain.LoadAll()
		if rootRef, ok = rev.Root(); !ok {
			return nil, errors.Wrap(ErrNoCatalog, "trailer has no /Root")
		}
	}

	st := store.New(chain, store.WithLogger(cfg.logger))
	if err := setupSecurity(ctx, st, cfg); err != nil {
		st.Close()
		return nil, err
	}
	catalog, err := resolveCatalog(ctx, st, rootRef)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &loaded{
		src:     src,
		chain:   chain,
		store:   st,
		rootRef: rootRef,
		catalog: catalog,
	}, nil
}

// resolveCatalog returns the catalog dictionary rootRef names.
func resolveCatalog(ctx context.Context, st *store.Store, rootRef core.Reference) (core.Dict, error) {
	obj, err := st.Resolve(ctx, rootRef)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving catalog %v", rootRef)
	}
	catalog, ok := obj.(core.Dict)
	if !ok {
		return nil, errors.Wrapf(ErrNoCatalog, "catalog %v is %T", rootRef, obj)
	}
	return catalog, nil
}

// setupSecurity installs a decryption handler when the trailer declares
// /Encrypt. It runs before any object other than the encryption dictionary
// is resolved.
func setupSecurity(ctx context.Context, st *store.Store, cfg *config) error {
	rev := st.Chain().Revision(st.Chain().Head())
	if rev == nil {
		return nil
	}
	enc := rev.Encrypt()
	if enc == nil {
		return nil
	}

	var encRef *core.Reference
	dict, ok := enc.(core.Dict)
	if ref, isRef := enc.(core.Reference); isRef {
		obj, err := st.Resolve(ctx, ref)
		if err != nil {
			return errors.Wrap(err, "resolving /Encrypt")
		}
		if dict, ok = obj.(core.Dict); !ok {
			return errors.Wrapf(security.ErrUnsupported, "/Encrypt is %T", obj)
		}
		encRef = &ref
	}

	id := rev.ID()
	if len(id[0]) == 0 {
		cfg.logger.Warn("encrypted document has no /ID")
	}
	h, err := security.NewStandard(dict, id[0], cfg.password)
	if err != nil {
		return errors.Wrap(err, "security handler")
	}
	st.SetSecurity(h, encRef)
	return nil
}
