package xref

import "github.com/tsawler/folio/core"

// Revision is one cross-reference section and its trailer dictionary. A
// revision read from a classic table may also carry a peer: the
// cross-reference stream named by /XRefStm in a hybrid file.
type Revision struct {
	// Offset is the file-declared offset of the section, or -1 for a
	// revision synthesized during recovery.
	Offset int64

	dict  core.Dict
	table *core.XRefTable
	peer  *core.XRefTable
	prev  Handle
	chain *Chain
}

// Dict returns a copy of the revision's trailer dictionary, including keys
// merged from linked revisions.
func (r *Revision) Dict() core.Dict {
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()
	return r.dict.Clone()
}

// Get returns one trailer entry.
func (r *Revision) Get(key string) core.Object {
	r.chain.mu.Lock()
	defer r.chain.mu.Unlock()
	return r.dict.Get(key)
}

// IsStream reports whether the revision was read from a cross-reference stream.
func (r *Revision) IsStream() bool {
	return r.table != nil && !r.table.IsTable
}

// Table returns the section's own table.
func (r *Revision) Table() *core.XRefTable {
	return r.table
}

// Size returns the /Size entry, or zero.
func (r *Revision) Size() int {
	n, _ := r.Get("Size").(core.Int)
	return int(n)
}

// Root returns the reference to the document catalog.
func (r *Revision) Root() (core.Reference, bool) {
	ref, ok := r.Get("Root").(core.Reference)
	return ref, ok
}

// Info returns the reference to the document information dictionary.
func (r *Revision) Info() (core.Reference, bool) {
	ref, ok := r.Get("Info").(core.Reference)
	return ref, ok
}

// Encrypt returns the /Encrypt entry, a dictionary or a reference to one,
// or nil when the document is not encrypted.
func (r *Revision) Encrypt() core.Object {
	switch v := r.Get("Encrypt").(type) {
	case core.Dict, core.Reference:
		return v
	}
	return nil
}

// ID returns the two file identifiers. A missing or malformed /ID reads as
// two empty strings.
func (r *Revision) ID() [2]core.String {
	var id [2]core.String
	arr, ok := r.Get("ID").(core.Array)
	if !ok {
		return id
	}
	for i := 0; i < 2 && i < len(arr); i++ {
		if s, ok := arr[i].(core.String); ok {
			id[i] = s
		}
	}
	return id
}
