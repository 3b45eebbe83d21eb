// Package resolver expands indirect references ("5 0 R") against a loaded
// document.
//
// A resolver reads through an ObjectReader, normally the *store.Store
// built over a document's cross-reference chain:
//
//	st := store.New(chain)
//	r := resolver.NewResolver(st)
//	catalog, err := r.ResolveReference(core.Reference{Number: 1})
//
// Resolve and ResolveReference follow a single reference. ResolveDeep,
// ResolveReferenceDeep and GetObjectResolvedDeep return a copy of the
// object tree with every nested reference replaced by its target,
// stream dictionaries included:
//
//	page, err := r.GetObjectResolvedDeep(4)
//
// A reference to a missing or deleted object resolves to core.Null. With
// WithStrict it is an error wrapping core.ErrUnresolvedReference instead.
//
// A reference back to an object on the current path is reported as a
// cycle, and WithMaxDepth bounds nesting (100 by default):
//
//	r := resolver.NewResolver(st, resolver.WithMaxDepth(50), resolver.WithStrict())
//
// An ObjectResolver is not safe for concurrent use. Reset clears its
// state after a failed call.
package resolver
