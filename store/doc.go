// Package store implements the lazy object loader for an open PDF document.
//
// A [Store] resolves indirect references through an [xref.Chain]: used
// entries are parsed from an independent section view of the file, and
// compressed entries are read from their object stream, which is decoded
// once and shared. Resolved objects, decoded object streams and decoded
// images are cached for the life of the store.
//
// Errors wrap the core sentinels, so callers can write:
//
//	obj, err := st.Resolve(ctx, ref)
//	if errors.Is(err, core.ErrUnresolvedReference) {
//	    // treat as null
//	}
//
// When the document is encrypted, [Store.SetSecurity] installs a handler
// that decrypts every object loaded from a used entry.
package store
