package reader

import (
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/store"
	"github.com/tsawler/folio/xref"
)

// observed is where a scan found an object definition.
type observed struct {
	generation int
	offset     int64 // file-declared, relative to the header
}

// scanned is everything one pass over the file collected.
type scanned struct {
	objects    map[int]observed // last definition wins
	trailers   []core.Dict      // trailer and xref stream dictionaries, in file order
	objStreams []int
	catalogs   []core.Reference
	skipped    int
}

// scan tokenizes the whole source once. Malformed input is skipped a line
// at a time; only I/O failures and cancellation stop it.
func scan(ctx context.Context, src *core.Source, logger *slog.Logger) (*scanned, error) {
	s := &scanned{objects: make(map[int]observed)}
	start := src.Abs(0)
	if start >= src.Size() {
		return s, nil
	}
	p, err := src.ParserAt(start)
	if err != nil {
		return nil, err
	}

	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		item, err := p.ParseTopLevel()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, core.ErrIO) {
				return nil, err
			}
			s.skipped++
			logger.Debug("skipping malformed input", slog.Any("error", err))
			if err := p.Skip(); err != nil {
				return nil, err
			}
			continue
		}

		switch v := item.(type) {
		case *core.IndirectObject:
			s.record(src, v)
		case *core.TrailerSection:
			s.trailers = append(s.trailers, v.Dict)
		}
	}
	return s, nil
}

func (s *scanned) record(src *core.Source, obj *core.IndirectObject) {
	s.objects[obj.Ref.Number] = observed{generation: obj.Ref.Generation, offset: src.Rel(obj.Offset)}

	switch v := obj.Object.(type) {
	case *core.Stream:
		switch typ, _ := v.Dict.GetName("Type"); typ {
		case "XRef":
			s.trailers = append(s.trailers, v.Dict)
		case "ObjStm":
			s.objStreams = append(s.objStreams, obj.Ref.Number)
		}
	case core.Dict:
		if typ, _ := v.GetName("Type"); typ == "Catalog" {
			s.catalogs = append(s.catalogs, obj.Ref)
		}
	}
}

// loadLinear rebuilds the cross-reference information from a scan and binds
// a fresh store to it.
func loadLinear(ctx context.Context, src *core.Source, cfg *config) (*loaded, error) {
	found, err := scan(ctx, src, cfg.logger)
	if err != nil {
		return nil, err
	}
	if len(found.objects) == 0 {
		return nil, errors.Wrap(ErrNotPDF, "no indirect objects found")
	}
	cfg.logger.Info("linear scan complete",
		slog.Int("objects", len(found.objects)),
		slog.Int("trailers", len(found.trailers)),
		slog.Int("skipped", found.skipped))

	table := core.NewXRefTable(false)
	for num, o := range found.objects {
		table.AddUsed(num, o.offset, o.generation)
	}
	reconcile(ctx, src, cfg, table, found)

	chain := xref.NewChain(src, xref.WithLogger(cfg.logger), xref.WithMaxRevisions(cfg.maxRevisions))
	last := xref.NoHandle
	for _, t := range found.trailers {
		h := chain.Add(nil, t.Clone())
		if last != xref.NoHandle {
			chain.MergeWithNext(last, h)
		}
		last = h
	}
	synth := chain.Add(table, nil)
	if last != xref.NoHandle {
		chain.MergeWithNext(last, synth)
	}

	st := store.New(chain, store.WithLogger(cfg.logger))
	if err := setupSecurity(ctx, st, cfg); err != nil {
		st.Close()
		return nil, err
	}

	candidates := indexObjectStreams(ctx, st, chain, synth, found, cfg.logger)

	rootRef, catalog, err := findCatalog(ctx, st, chain.Trailer(), candidates, cfg.logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &loaded{
		src:       src,
		chain:     chain,
		store:     st,
		rootRef:   rootRef,
		catalog:   catalog,
		recovered: true,
	}, nil
}

// reconcile compares the synthesized table with what the file declares.
// By default an observed object replaces the declared entry and the
// replacement is logged. In strict mode a declared entry that still
// resolves is kept.
func reconcile(ctx context.Context, src *core.Source, cfg *config, table *core.XRefTable, found *scanned) {
	off, err := src.FindStartXRef()
	if err != nil {
		return
	}
	declared := xref.NewChain(src, xref.WithMaxRevisions(cfg.maxRevisions))
	if _, err := declared.Load(off); err != nil {
		return
	}

	var declaredStore *store.Store
	if cfg.strict {
		declaredStore = store.New(declared)
		defer declaredStore.Close()
	}

	for num, o := range found.objects {
		entry, ok := declared.Lookup(num)
		if !ok {
			continue
		}
		if entry.Kind == core.EntryUsed && entry.Offset == o.offset && entry.Generation == o.generation {
			continue
		}

		if declaredStore == nil {
			cfg.logger.Warn("scanned object replaces cross-reference entry",
				slog.Int("object", num),
				slog.String("declared", entry.Kind.String()),
				slog.Int64("declaredOffset", entry.Offset),
				slog.Int64("observedOffset", o.offset))
			continue
		}

		if err := resolves(ctx, src, declaredStore, num, entry); err != nil {
			cfg.logger.Warn("declared entry does not resolve, using scanned object",
				slog.Int("object", num), slog.Any("error", err))
			continue
		}
		switch entry.Kind {
		case core.EntryUsed:
			table.AddUsed(num, entry.Offset, entry.Generation)
		case core.EntryCompressed:
			table.AddCompressed(num, entry.Stream, entry.Index)
		}
		cfg.logger.Warn("keeping declared entry over scanned object",
			slog.Int("object", num),
			slog.Int64("observedOffset", o.offset))
	}
}

// resolves checks that a declared entry leads to a parseable definition of
// object num.
func resolves(ctx context.Context, src *core.Source, declaredStore *store.Store, num int, entry core.XRefEntry) error {
	if entry.Kind == core.EntryCompressed {
		_, err := declaredStore.Resolve(ctx, core.Reference{Number: num})
		return err
	}
	p, err := src.ParserAt(src.Abs(entry.Offset))
	if err != nil {
		return err
	}
	obj, err := p.ParseIndirectObject()
	if err != nil {
		return err
	}
	if obj.Ref.Number != num || obj.Ref.Generation != entry.Generation {
		return errors.Errorf("offset %d holds object %v", entry.Offset, obj.Ref)
	}
	return nil
}

// indexObjectStreams adds compressed entries for objects that live only
// inside object streams found by the scan, as a revision older than every
// physically observed object. It returns the catalog candidates: scanned
// ones first, then compressed ones.
func indexObjectStreams(ctx context.Context, st *store.Store, chain *xref.Chain, synth xref.Handle, found *scanned, logger *slog.Logger) []core.Reference {
	candidates := append([]core.Reference(nil), found.catalogs...)
	if len(found.objStreams) == 0 {
		return candidates
	}

	compressed := core.NewXRefTable(false)
	done := make(map[int]bool)
	for _, num := range found.objStreams {
		if done[num] {
			continue
		}
		done[num] = true

		objs, err := st.ObjectStream(ctx, num)
		if err != nil {
			logger.Warn("skipping object stream", slog.Int("object", num), slog.Any("error", err))
			continue
		}
		nums, err := objs.ObjectNumbers()
		if err != nil {
			logger.Warn("skipping object stream", slog.Int("object", num), slog.Any("error", err))
			continue
		}
		for i, n := range nums {
			if _, seen := found.objects[n]; seen {
				continue
			}
			compressed.AddCompressed(n, num, i)
			obj, _, err := objs.GetObjectByIndex(i)
			if err != nil {
				continue
			}
			if d, ok := obj.(core.Dict); ok {
				if typ, _ := d.GetName("Type"); typ == "Catalog" {
					candidates = append(candidates, core.Reference{Number: n})
				}
			}
		}
	}

	if compressed.Size() > 0 {
		chain.MergeWithPrevious(synth, chain.Add(compressed, nil))
	}
	return candidates
}

// findCatalog prefers the merged trailer's /Root and otherwise takes the
// last candidate that resolves to a dictionary.
func findCatalog(ctx context.Context, st *store.Store, trailer core.Dict, candidates []core.Reference, logger *slog.Logger) (core.Reference, core.Dict, error) {
	if ref, ok := trailer.GetReference("Root"); ok {
		catalog, err := resolveCatalog(ctx, st, ref)
		if err == nil {
			return ref, catalog, nil
		}
		if fatal(err) {
			return core.Reference{}, nil, err
		}
		logger.Warn("trailer /Root is unusable", slog.Any("error", err))
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		catalog, err := resolveCatalog(ctx, st, candidates[i])
		if err == nil {
			return candidates[i], catalog, nil
		}
		if fatal(err) {
			return core.Reference{}, nil, err
		}
	}
	return core.Reference{}, nil, errors.Wrap(ErrNoCatalog, "linear scan")
}
