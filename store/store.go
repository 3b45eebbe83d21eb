package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/tsawler/folio/core"
	"github.com/tsawler/folio/security"
	"github.com/tsawler/folio/xref"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("object store is closed")

// Stats reports cache activity.
type Stats struct {
	// Resolved counts objects materialized from the file.
	Resolved int64
	// ObjectStreamDecodes counts object stream containers decoded.
	ObjectStreamDecodes int64
	// Images counts decoded images held in the image cache.
	Images int64
}

// Store materializes indirect objects on demand for one open document and
// caches them. A resolved object is returned by identity to every later
// caller. Store is safe for concurrent use.
type Store struct {
	src    *core.Source
	chain  *xref.Chain
	logger *slog.Logger

	group   singleflight.Group
	objects sync.Map // core.Reference -> core.Object
	streams sync.Map // int -> *core.ObjectStream
	images  sync.Map // core.Reference -> []byte

	mu         sync.RWMutex
	handler    security.Handler
	encryptRef *core.Reference

	closed   atomic.Bool
	resolved atomic.Int64
	decodes  atomic.Int64
	imageN   atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recoverable problems.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store resolving objects through chain.
func New(chain *xref.Chain, opts ...Option) *Store {
	s := &Store{
		src:    chain.Source(),
		chain:  chain,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chain returns the cross-reference chain the store resolves through.
func (s *Store) Chain() *xref.Chain {
	return s.chain
}

// SetSecurity installs the handler used to decrypt objects. encryptRef names
// the /Encrypt dictionary when it is an indirect object; it is never
// decrypted. Objects cached before the call are dropped.
func (s *Store) SetSecurity(h security.Handler, encryptRef *core.Reference) {
	s.mu.Lock()
	s.handler = h
	s.encryptRef = encryptRef
	s.mu.Unlock()

	s.objects.Range(func(k, _ any) bool {
		s.objects.Delete(k)
		return true
	})
	s.streams.Range(func(k, _ any) bool {
		s.streams.Delete(k)
		return true
	})
}

func (s *Store) security(ref core.Reference) security.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.encryptRef != nil && *s.encryptRef == ref {
		return nil
	}
	return s.handler
}

// Stats returns a snapshot of cache counters.
func (s *Store) Stats() Stats {
	return Stats{
		Resolved:            s.resolved.Load(),
		ObjectStreamDecodes: s.decodes.Load(),
		Images:              s.imageN.Load(),
	}
}

// Close releases the caches. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	for _, m := range []*sync.Map{&s.objects, &s.streams, &s.images} {
		m.Range(func(k, _ any) bool {
			m.Delete(k)
			return true
		})
	}
	return nil
}

// Resolve returns the object ref names. It fails with an error wrapping
// core.ErrUnresolvedReference when no revision has a live entry for the
// object, and core.ErrCorruptObject when the bytes at the entry do not parse.
//
// Concurrent calls for the same reference share one load. Cancelling ctx
// abandons the wait without disturbing the store; a later call retries or
// finds the result of the load already in flight.
func (s *Store) Resolve(ctx context.Context, ref core.Reference) (core.Object, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if obj, ok := s.objects.Load(ref); ok {
		return obj.(core.Object), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := s.group.DoChan(ref.String(), func() (interface{}, error) {
		if obj, ok := s.objects.Load(ref); ok {
			return obj, nil
		}
		obj, err := s.load(context.WithoutCancel(ctx), ref)
		if err != nil {
			return nil, err
		}
		actual, loaded := s.objects.LoadOrStore(ref, obj)
		if !loaded {
			s.resolved.Add(1)
		}
		return actual, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(core.Object), nil
	}
}

// ResolveReference resolves ref without a deadline.
func (s *Store) ResolveReference(ref core.Reference) (core.Object, error) {
	return s.Resolve(context.Background(), ref)
}

// GetObject resolves an object by number, using the generation recorded in
// the cross-reference chain.
func (s *Store) GetObject(objNum int) (core.Object, error) {
	entry, ok := s.chain.Lookup(objNum)
	if !ok {
		return nil, errors.Wrapf(core.ErrUnresolvedReference, "object %d", objNum)
	}
	return s.ResolveReference(core.Reference{Number: objNum, Generation: entry.Generation})
}

// Deref returns obj itself unless it is a reference, which is resolved.
func (s *Store) Deref(ctx context.Context, obj core.Object) (core.Object, error) {
	if ref, ok := obj.(core.Reference); ok {
		return s.Resolve(ctx, ref)
	}
	return obj, nil
}

func (s *Store) load(ctx context.Context, ref core.Reference) (core.Object, error) {
	entry, ok := s.chain.Lookup(ref.Number)
	if !ok {
		return nil, errors.Wrapf(core.ErrUnresolvedReference, "object %v", ref)
	}

	switch entry.Kind {
	case core.EntryUsed:
		return s.loadUsed(ref, entry)
	case core.EntryCompressed:
		return s.loadCompressed(ctx, ref, entry)
	}
	return nil, errors.Wrapf(core.ErrUnresolvedReference, "object %v has entry kind %v", ref, entry.Kind)
}

// parseAt parses the indirect object at a file-declared offset.
func (s *Store) parseAt(ref core.Reference, offset int64, lengths core.ReferenceResolver) (*core.IndirectObject, error) {
	p, err := s.src.ParserAt(s.src.Abs(offset))
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("%w: object %v: %w", core.ErrCorruptObject, ref, err))
	}
	if lengths != nil {
		p.SetReferenceResolver(lengths)
	}
	ind, err := p.ParseIndirectObject()
	if err != nil {
		if errors.Is(err, core.ErrIO) {
			return nil, errors.Wrapf(err, "reading object %v", ref)
		}
		return nil, errors.WithStack(fmt.Errorf("%w: object %v at offset %d: %w", core.ErrCorruptObject, ref, offset, err))
	}
	if ind.Ref != ref {
		s.logger.Warn("object header does not match reference",
			slog.String("ref", ref.String()),
			slog.String("header", ind.Ref.String()),
			slog.Int64("offset", offset))
	}
	return ind, nil
}

func (s *Store) loadUsed(ref core.Reference, entry core.XRefEntry) (core.Object, error) {
	ind, err := s.parseAt(ref, entry.Offset, lengthResolver{s: s, self: ref})
	if err != nil {
		return nil, err
	}
	obj := ind.Object
	if h := s.security(ref); h != nil {
		obj, err = security.DecryptObject(h, ref, obj)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypting object %v", ref)
		}
	}
	return obj, nil
}

func (s *Store) loadCompressed(ctx context.Context, ref core.Reference, entry core.XRefEntry) (core.Object, error) {
	os, err := s.objectStream(ctx, entry.Stream)
	if err != nil {
		return nil, errors.Wrapf(err, "object %v in object stream %d", ref, entry.Stream)
	}

	obj, num, err := os.GetObjectByIndex(entry.Index)
	if err == nil && num == ref.Number {
		return obj, nil
	}
	// The index is sometimes wrong; the stream's own header is authoritative
	obj, idx, serr := os.GetObjectByNumber(ref.Number)
	if serr != nil {
		if err == nil {
			err = serr
		}
		return nil, errors.WithStack(fmt.Errorf("%w: object %v in object stream %d: %w", core.ErrCorruptObject, ref, entry.Stream, err))
	}
	s.logger.Warn("object stream index corrected",
		slog.String("ref", ref.String()),
		slog.Int("stream", entry.Stream),
		slog.Int("declared", entry.Index),
		slog.Int("actual", idx))
	return obj, nil
}

// objectStream returns the decoded-once container for object stream num.
func (s *Store) objectStream(ctx context.Context, num int) (*core.ObjectStream, error) {
	if v, ok := s.streams.Load(num); ok {
		return v.(*core.ObjectStream), nil
	}

	ref := core.Reference{Number: num}
	if entry, ok := s.chain.Lookup(num); ok {
		if entry.Kind != core.EntryUsed {
			return nil, errors.Errorf("object stream %d is itself compressed", num)
		}
		ref.Generation = entry.Generation
	}
	obj, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*core.Stream)
	if !ok {
		return nil, errors.WithStack(fmt.Errorf("%w: object stream %d is %T", core.ErrCorruptObject, num, obj))
	}
	os, err := core.NewObjectStream(stream)
	if err != nil {
		return nil, errors.WithStack(fmt.Errorf("%w: %w", core.ErrCorruptObject, err))
	}
	os.OnDecode = func() { s.decodes.Add(1) }

	actual, _ := s.streams.LoadOrStore(num, os)
	return actual.(*core.ObjectStream), nil
}

// ObjectStream returns the container object stream num, decoded at most once
// across all callers.
func (s *Store) ObjectStream(ctx context.Context, num int) (*core.ObjectStream, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.objectStream(ctx, num)
}

// lengthResolver resolves an indirect /Length while its stream is being
// parsed. It never waits on another load: a used entry is parsed directly,
// and a compressed one is read only from a container that is already
// loaded. Anything else fails, and the parser scans for endstream instead.
type lengthResolver struct {
	s    *Store
	self core.Reference
}

func (l lengthResolver) ResolveReference(ref core.Reference) (core.Object, error) {
	if ref == l.self {
		return nil, errors.Errorf("object %v is its own length", ref)
	}
	if obj, ok := l.s.objects.Load(ref); ok {
		return obj.(core.Object), nil
	}
	entry, ok := l.s.chain.Lookup(ref.Number)
	if !ok {
		return nil, errors.Wrapf(core.ErrUnresolvedReference, "length %v", ref)
	}
	if entry.Kind == core.EntryUsed {
		ind, err := l.s.parseAt(ref, entry.Offset, nil)
		if err != nil {
			return nil, err
		}
		return ind.Object, nil
	}
	if entry.Kind != core.EntryCompressed {
		return nil, errors.Wrapf(core.ErrUnresolvedReference, "length %v", ref)
	}
	v, ok := l.s.streams.Load(entry.Stream)
	if !ok {
		return nil, errors.Errorf("length %v is in object stream %d, which is not loaded", ref, entry.Stream)
	}
	obj, num, err := v.(*core.ObjectStream).GetObjectByIndex(entry.Index)
	if err != nil {
		return nil, err
	}
	if num != ref.Number {
		return nil, errors.Errorf("length %v: object stream %d index %d holds object %d", ref, entry.Stream, entry.Index, num)
	}
	return obj, nil
}

// Image returns the decoded bytes of image XObject ref, running decode at
// most once per reference.
func (s *Store) Image(ctx context.Context, ref core.Reference, decode func(*core.Stream) ([]byte, error)) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if v, ok := s.images.Load(ref); ok {
		return v.([]byte), nil
	}

	obj, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*core.Stream)
	if !ok {
		return nil, errors.Errorf("image %v is %T, not a stream", ref, obj)
	}

	v, err, _ := s.group.Do("image:"+strconv.Itoa(ref.Number)+":"+strconv.Itoa(ref.Generation), func() (interface{}, error) {
		if v, ok := s.images.Load(ref); ok {
			return v, nil
		}
		data, err := decode(stream)
		if err != nil {
			return nil, err
		}
		actual, loaded := s.images.LoadOrStore(ref, data)
		if !loaded {
			s.imageN.Add(1)
		}
		return actual, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %v", ref)
	}
	return v.([]byte), nil
}
