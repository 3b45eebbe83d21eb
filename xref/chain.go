package xref

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/tsawler/folio/core"
)

// Handle indexes a revision in a Chain.
type Handle int

// NoHandle marks an absent link.
const NoHandle Handle = -1

// DefaultMaxRevisions bounds how many revisions a chain will load.
const DefaultMaxRevisions = 512

var (
	// ErrNoXRef is returned when an offset holds neither an xref table nor a
	// cross-reference stream.
	ErrNoXRef = errors.New("no cross-reference section at offset")

	// ErrTooManyRevisions is returned once a chain reaches its revision limit.
	ErrTooManyRevisions = errors.New("too many revisions")
)

// Lazy-load flags per handle, packed two to a handle in the attempted bitset.
const (
	flagPeer = iota
	flagPrev
	flagCount
)

// Chain is an arena of document revisions linked newest to oldest.
//
// Links that come from file hints (a /Prev offset, an /XRefStm offset) are
// followed lazily, at most once each: an attempted flag is set together with
// the resulting link under the chain lock, so a failed load is not retried.
// Chain is safe for concurrent use.
type Chain struct {
	src          *core.Source
	logger       *slog.Logger
	maxRevisions int

	mu        sync.Mutex
	revs      []*Revision
	byOffset  map[int64]Handle
	attempted *bitset.BitSet
	head      Handle
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for recoverable problems.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxRevisions sets the revision limit (default DefaultMaxRevisions).
func WithMaxRevisions(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.maxRevisions = n
		}
	}
}

// NewChain creates an empty chain reading from src.
func NewChain(src *core.Source, opts ...Option) *Chain {
	c := &Chain{
		src:          src,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxRevisions: DefaultMaxRevisions,
		byOffset:     make(map[int64]Handle),
		attempted:    bitset.New(0),
		head:         NoHandle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Source returns the byte source the chain reads from.
func (c *Chain) Source() *core.Source {
	return c.src
}

// Len returns the number of revisions in the arena.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.revs)
}

// Head returns the newest revision, or NoHandle for an empty chain.
func (c *Chain) Head() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// SetHead makes h the newest revision.
func (c *Chain) SetHead(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid(h) {
		c.head = h
	}
}

// Revision returns the revision for h, or nil.
func (c *Chain) Revision(h Handle) *Revision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid(h) {
		return nil
	}
	return c.revs[h]
}

func (c *Chain) valid(h Handle) bool {
	return h >= 0 && int(h) < len(c.revs)
}

func (c *Chain) flag(h Handle, which int) uint {
	return uint(int(h)*flagCount + which)
}

// Load parses the revision whose cross-reference section sits at the given
// file-declared offset and returns its handle. Loading an offset that is
// already in the arena returns the existing handle. The first revision loaded
// becomes the head.
func (c *Chain) Load(offset int64) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(offset)
}

func (c *Chain) load(offset int64) (Handle, error) {
	if h, ok := c.byOffset[offset]; ok {
		return h, nil
	}
	if len(c.revs) >= c.maxRevisions {
		return NoHandle, fmt.Errorf("%w: limit is %d", ErrTooManyRevisions, c.maxRevisions)
	}

	table, dict, err := c.parseSection(offset)
	if err != nil {
		return NoHandle, err
	}

	h := c.add(&Revision{Offset: offset, dict: dict, table: table, prev: NoHandle, chain: c})
	c.byOffset[offset] = h
	if c.head == NoHandle {
		c.head = h
	}
	return h, nil
}

// parseSection reads a classic table or a cross-reference stream at offset.
func (c *Chain) parseSection(offset int64) (*core.XRefTable, core.Dict, error) {
	p, err := c.src.ParserAt(c.src.Abs(offset))
	if err != nil {
		return nil, nil, fmt.Errorf("xref at %d: %w", offset, err)
	}

	if p.PeekKeyword("xref") {
		table, dict, err := core.ParseXRefSection(p)
		if err != nil {
			return nil, nil, fmt.Errorf("xref table at %d: %w", offset, err)
		}
		return table, dict, nil
	}

	obj, err := p.ParseIndirectObject()
	if err != nil {
		if errors.Is(err, core.ErrIO) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w %d: %w", ErrNoXRef, offset, err)
	}
	table, dict, err := core.ParseXRefStream(obj)
	if err != nil {
		var partial *core.XRefStreamError
		if !errors.As(err, &partial) {
			return nil, nil, fmt.Errorf("%w %d: %w", ErrNoXRef, offset, err)
		}
		c.logger.Warn("truncated cross-reference stream",
			slog.Int64("offset", offset),
			slog.Int64("records", partial.Got),
			slog.Int64("declared", partial.Want))
	}
	return table, dict, nil
}

// Add appends a revision built outside the chain, such as one synthesized by
// a recovery scan. Its /Prev and /XRefStm hints are not followed.
func (c *Chain) Add(table *core.XRefTable, dict core.Dict) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dict == nil {
		dict = core.Dict{}
	}
	h := c.add(&Revision{Offset: -1, dict: dict, table: table, prev: NoHandle, chain: c})
	c.attempted.Set(c.flag(h, flagPeer))
	c.attempted.Set(c.flag(h, flagPrev))
	if c.head == NoHandle {
		c.head = h
	}
	return h
}

func (c *Chain) add(rev *Revision) Handle {
	h := Handle(len(c.revs))
	c.revs = append(c.revs, rev)
	return h
}

// PrimaryXRef returns the table of revision h: its classic table if it has
// one, otherwise its cross-reference stream, loading the /XRefStm peer of a
// hybrid revision when needed.
func (c *Chain) PrimaryXRef(h Handle) *core.XRefTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid(h) {
		return nil
	}
	rev := c.revs[h]
	if rev.table != nil {
		return rev.table
	}
	return c.peer(h)
}

// peer returns the /XRefStm table of a hybrid revision, loading it on first use.
func (c *Chain) peer(h Handle) *core.XRefTable {
	rev := c.revs[h]
	if c.attempted.Test(c.flag(h, flagPeer)) {
		return rev.peer
	}
	c.attempted.Set(c.flag(h, flagPeer))

	off, ok := rev.dict.GetInt("XRefStm")
	if !ok || off < 0 {
		return nil
	}
	p, err := c.src.ParserAt(c.src.Abs(int64(off)))
	if err != nil {
		c.logger.Warn("XRefStm offset out of range", slog.Int64("offset", int64(off)))
		return nil
	}
	obj, err := p.ParseIndirectObject()
	if err != nil {
		c.logger.Warn("XRefStm does not point at an object", slog.Int64("offset", int64(off)), slog.Any("error", err))
		return nil
	}
	table, _, err := core.ParseXRefStream(obj)
	if table == nil {
		c.logger.Warn("XRefStm is not a cross-reference stream", slog.Int64("offset", int64(off)), slog.Any("error", err))
		return nil
	}
	if err != nil {
		c.logger.Warn("truncated XRefStm", slog.Int64("offset", int64(off)), slog.Any("error", err))
	}
	rev.peer = table
	return table
}

// previous returns the revision before h, loading it from the /Prev hint on
// first use.
func (c *Chain) previous(h Handle) Handle {
	rev := c.revs[h]
	if c.attempted.Test(c.flag(h, flagPrev)) {
		return rev.prev
	}
	c.attempted.Set(c.flag(h, flagPrev))

	off, ok := rev.dict.GetInt("Prev")
	if !ok || off < 0 {
		return rev.prev
	}
	ph, err := c.load(int64(off))
	if err != nil {
		c.logger.Warn("cannot load previous revision",
			slog.Int64("offset", rev.Offset),
			slog.Int64("prev", int64(off)),
			slog.Any("error", err))
		return rev.prev
	}
	c.mergePrevious(h, ph)
	return rev.prev
}

// reachable reports whether target is on the backward chain starting at from,
// following only links already established.
func (c *Chain) reachable(from, target Handle) bool {
	seen := make(map[Handle]bool)
	for h := from; h != NoHandle && !seen[h]; h = c.revs[h].prev {
		if h == target {
			return true
		}
		seen[h] = true
	}
	return false
}

// tail returns the oldest revision reachable from h through established links.
func (c *Chain) tail(h Handle) Handle {
	seen := map[Handle]bool{h: true}
	for c.revs[h].prev != NoHandle && !seen[c.revs[h].prev] {
		h = c.revs[h].prev
		seen[h] = true
	}
	return h
}

// mergePrevious copies keys absent in h from prev and splices prev at the
// end of h's backward chain.
func (c *Chain) mergePrevious(h, prev Handle) {
	if h == prev {
		return
	}
	copyAbsent(c.revs[h].dict, c.revs[prev].dict)
	if c.reachable(h, prev) {
		return
	}
	if c.reachable(prev, h) {
		c.logger.Warn("revision loop ignored",
			slog.Int64("offset", c.revs[h].Offset),
			slog.Int64("prev", c.revs[prev].Offset))
		return
	}
	c.revs[c.tail(h)].prev = prev
}

// MergeWithPrevious links prev as an older revision of h. Keys already in
// h's trailer win; keys only prev defines are copied into h. prev is added
// at the end of h's backward chain unless it is already on it.
func (c *Chain) MergeWithPrevious(h, prev Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid(h) && c.valid(prev) {
		c.mergePrevious(h, prev)
	}
}

// MergeWithNext links next as a newer revision of h. Keys already in next's
// trailer win, h goes at the end of next's backward chain, and next becomes
// the head if h was.
func (c *Chain) MergeWithNext(h, next Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid(h) || !c.valid(next) {
		return
	}
	c.mergePrevious(next, h)
	if c.head == h {
		c.head = next
	}
}

// Lookup finds the newest entry for an object number. Each revision is
// searched primary table first, then its /XRefStm peer, then older
// revisions, loading peers and previous revisions on demand. A free entry
// in the newest revision that mentions the number ends the search: the
// object was deleted. The "0 65535 f" placeholder some writers use for
// untouched numbers does not.
func (c *Chain) Lookup(num int) (core.XRefEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[Handle]bool)
	for h := c.head; h != NoHandle && !seen[h]; h = c.previous(h) {
		seen[h] = true
		e, found, freed := entry(c.revs[h].table, num)
		if found {
			return e, true
		}
		// hybrid files mark compressed objects free in the classic table
		pe, found, peerFreed := entry(c.peer(h), num)
		if found {
			return pe, true
		}
		if freed || peerFreed {
			return core.XRefEntry{}, false
		}
	}
	return core.XRefEntry{}, false
}

// entry looks num up in table, reporting a live entry as found and a
// deletion as freed.
func entry(table *core.XRefTable, num int) (e core.XRefEntry, found, freed bool) {
	if table == nil {
		return e, false, false
	}
	e, ok := table.Entry(num)
	if !ok {
		return e, false, false
	}
	if e.Kind != core.EntryFree {
		return e, true, false
	}
	return core.XRefEntry{}, false, !placeholder(e)
}

// placeholder reports whether a free entry is the conventional list head
// rather than a deletion.
func placeholder(e core.XRefEntry) bool {
	return e.NextFree == 0 && e.Generation == 65535
}

// LoadAll follows every /Prev and /XRefStm hint from the head.
func (c *Chain) LoadAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[Handle]bool)
	for h := c.head; h != NoHandle && !seen[h]; h = c.previous(h) {
		seen[h] = true
		c.peer(h)
	}
}

// Handles returns the revisions reachable from the head, newest first,
// without loading anything new.
func (c *Chain) Handles() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Handle
	seen := make(map[Handle]bool)
	for h := c.head; h != NoHandle && !seen[h]; h = c.revs[h].prev {
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// Trailer returns a copy of the head revision's merged trailer dictionary.
func (c *Chain) Trailer() core.Dict {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == NoHandle {
		return core.Dict{}
	}
	return c.revs[c.head].dict.Clone()
}

// revisionLocal keys describe one cross-reference section and are never
// inherited by another revision.
var revisionLocal = map[string]bool{
	"Prev": true, "XRefStm": true,
	"Type": true, "W": true, "Index": true,
	"Length": true, "Filter": true, "DecodeParms": true,
}

func copyAbsent(dst, src core.Dict) {
	for k, v := range src {
		if _, ok := dst[k]; ok || revisionLocal[k] {
			continue
		}
		dst[k] = v
	}
}
