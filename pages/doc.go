// Package pages provides PDF page tree traversal and page access.
//
// # Page Tree
//
// PDF documents organize pages in a tree of /Pages nodes whose leaves are
// /Page dictionaries. The [PageTree] type flattens this hierarchy in
// document order:
//
//	tree, _ := catalog.PageTree()
//	page, _ := tree.GetPage(0)  // 0-indexed
//
// [PageTree.Walk] visits pages one at a time and stops when its context is
// cancelled. A /Kids entry that refers back to one of its own ancestors is
// reported as [ErrPageTreeLoop].
//
// # Page Access
//
// The [Page] type represents a single PDF page with:
//
//   - MediaBox - page dimensions
//   - CropBox - visible area (optional)
//   - Rotate - page rotation (0, 90, 180, 270)
//   - Resources - fonts, images, etc.
//   - Contents - content streams
//
// MediaBox, CropBox, Resources and Rotate are inherited from the nearest
// enclosing /Pages node that defines them.
//
// # Object Resolution
//
// The [ObjectResolver] interface abstracts object lookup:
//
//	type ObjectResolver interface {
//	    Resolve(obj core.Object) (core.Object, error)
//	    ResolveDeep(obj core.Object) (core.Object, error)
//	    ResolveReference(ref core.Reference) (core.Object, error)
//	}
//
// This allows the page tree to resolve indirect references without
// depending on the reader package.
package pages
