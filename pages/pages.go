package pages

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tsawler/folio/core"
)

// ErrPageTreeLoop is returned when a /Kids entry leads back to one of its ancestors.
var ErrPageTreeLoop = errors.New("page tree loop")

// ObjectResolver interface for resolving indirect references
type ObjectResolver interface {
	Resolve(obj core.Object) (core.Object, error)
	ResolveDeep(obj core.Object) (core.Object, error)
	ResolveReference(ref core.Reference) (core.Object, error)
}

// Catalog represents the PDF document catalog (root of document structure)
type Catalog struct {
	dict     core.Dict
	resolver ObjectResolver
}

// NewCatalog creates a new catalog from a dictionary
func NewCatalog(dict core.Dict, resolver ObjectResolver) *Catalog {
	return &Catalog{
		dict:     dict,
		resolver: resolver,
	}
}

// Dict returns the catalog dictionary.
func (c *Catalog) Dict() core.Dict {
	return c.dict
}

// Type returns the catalog type (should be "Catalog")
func (c *Catalog) Type() string {
	name, _ := c.dict.GetName("Type")
	return string(name)
}

// Pages returns the page tree root
func (c *Catalog) Pages() (core.Dict, error) {
	pagesRef := c.dict.Get("Pages")
	if pagesRef == nil {
		return nil, fmt.Errorf("catalog missing /Pages entry")
	}

	pagesObj, err := c.resolver.Resolve(pagesRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve /Pages: %w", err)
	}

	pagesDict, ok := pagesObj.(core.Dict)
	if !ok {
		return nil, fmt.Errorf("invalid /Pages type: %T", pagesObj)
	}
	return pagesDict, nil
}

// PageTree returns the page tree rooted at /Pages.
func (c *Catalog) PageTree() (*PageTree, error) {
	root, err := c.Pages()
	if err != nil {
		return nil, err
	}
	tree := NewPageTree(root, c.resolver)
	if ref, ok := c.dict.GetReference("Pages"); ok {
		tree.rootRef = &ref
	}
	return tree, nil
}

// Metadata returns the metadata stream if present
func (c *Catalog) Metadata() (*core.Stream, error) {
	metadataRef := c.dict.Get("Metadata")
	if metadataRef == nil {
		return nil, nil
	}

	metadataObj, err := c.resolver.Resolve(metadataRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve /Metadata: %w", err)
	}

	stream, ok := metadataObj.(*core.Stream)
	if !ok {
		return nil, fmt.Errorf("invalid /Metadata type: %T", metadataObj)
	}
	return stream, nil
}

// Version returns the /Version entry, which overrides the header version
// when present.
func (c *Catalog) Version() string {
	name, _ := c.dict.GetName("Version")
	return string(name)
}

// PageTree represents the PDF page tree
type PageTree struct {
	root     core.Dict
	rootRef  *core.Reference
	resolver ObjectResolver

	mu    sync.Mutex
	pages []*Page // flattened on first use
}

// NewPageTree creates a new page tree from the root pages dictionary
func NewPageTree(root core.Dict, resolver ObjectResolver) *PageTree {
	return &PageTree{
		root:     root,
		resolver: resolver,
	}
}

// Count returns the /Count of the root node. It is a declared value; Pages
// returns what the tree actually holds.
func (t *PageTree) Count() (int, error) {
	countObj := t.root.Get("Count")
	if countObj == nil {
		return 0, fmt.Errorf("page tree missing /Count entry")
	}

	resolved, err := t.resolver.Resolve(countObj)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve /Count: %w", err)
	}
	count, ok := resolved.(core.Int)
	if !ok {
		return 0, fmt.Errorf("invalid /Count type: %T", resolved)
	}
	return int(count), nil
}

// GetPage returns the page at the given index (0-based)
func (t *PageTree) GetPage(index int) (*Page, error) {
	pages, err := t.Pages()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(pages) {
		return nil, fmt.Errorf("page index %d out of range [0, %d)", index, len(pages))
	}
	return pages[index], nil
}

// Pages returns all pages in document order.
func (t *PageTree) Pages() ([]*Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pages != nil {
		return t.pages, nil
	}

	pages := make([]*Page, 0)
	err := t.Walk(context.Background(), func(_ int, p *Page) error {
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to traverse page tree: %w", err)
	}
	t.pages = pages
	return pages, nil
}

// Walk visits every page in document order. ctx is checked before each node
// is visited; a cancelled walk returns ctx.Err(). An error from fn stops the
// walk and is returned.
func (t *PageTree) Walk(ctx context.Context, fn func(index int, page *Page) error) error {
	w := &walker{
		ctx:      ctx,
		resolver: t.resolver,
		fn:       fn,
		onPath:   make(map[core.Reference]bool),
	}
	if t.rootRef != nil {
		w.onPath[*t.rootRef] = true
	}
	return w.visit(t.root, nil)
}

type walker struct {
	ctx      context.Context
	resolver ObjectResolver
	fn       func(int, *Page) error
	onPath   map[core.Reference]bool
	index    int
}

// visit handles one node. ancestors holds the enclosing Pages nodes, nearest
// first, for inheritable attributes.
func (w *walker) visit(node core.Dict, ancestors []core.Dict) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	typeName, _ := node.GetName("Type")
	if typeName == "" {
		// /Type is sometimes missing; /Kids marks an intermediate node
		if node.Has("Kids") {
			typeName = "Pages"
		} else {
			typeName = "Page"
		}
	}

	switch typeName {
	case "Pages":
		kidsResolved, err := w.resolver.Resolve(node.Get("Kids"))
		if err != nil {
			return fmt.Errorf("failed to resolve /Kids: %w", err)
		}
		kids, ok := kidsResolved.(core.Array)
		if !ok {
			return fmt.Errorf("invalid /Kids type: %T", kidsResolved)
		}

		inner := append([]core.Dict{node}, ancestors...)
		for i, kidObj := range kids {
			ref, isRef := kidObj.(core.Reference)
			if isRef {
				if w.onPath[ref] {
					return fmt.Errorf("%w: kid %d refers back to %v", ErrPageTreeLoop, i, ref)
				}
				w.onPath[ref] = true
			}

			kidResolved, err := w.resolver.Resolve(kidObj)
			if err != nil {
				return fmt.Errorf("failed to resolve kid %d: %w", i, err)
			}
			kidDict, ok := kidResolved.(core.Dict)
			if !ok {
				return fmt.Errorf("invalid kid type: %T", kidResolved)
			}
			err = w.visit(kidDict, inner)
			if isRef {
				delete(w.onPath, ref)
			}
			if err != nil {
				return err
			}
		}

	case "Page":
		page := NewPage(node, ancestors, w.resolver)
		index := w.index
		w.index++
		if err := w.fn(index, page); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unexpected page node type: %s", typeName)
	}

	return nil
}

// Page represents a single PDF page
type Page struct {
	dict      core.Dict
	ancestors []core.Dict // enclosing Pages nodes, nearest first
	resolver  ObjectResolver
}

// NewPage creates a page from its dictionary and its enclosing Pages nodes,
// nearest first.
func NewPage(dict core.Dict, ancestors []core.Dict, resolver ObjectResolver) *Page {
	return &Page{
		dict:      dict,
		ancestors: ancestors,
		resolver:  resolver,
	}
}

// Dict returns the page dictionary.
func (p *Page) Dict() core.Dict {
	return p.dict
}

// Type returns the page type (should be "Page")
func (p *Page) Type() string {
	name, _ := p.dict.GetName("Type")
	return string(name)
}

// inherited returns key from the page or the nearest ancestor defining it.
func (p *Page) inherited(key string) core.Object {
	if v := p.dict.Get(key); v != nil {
		return v
	}
	for _, a := range p.ancestors {
		if v := a.Get(key); v != nil {
			return v
		}
	}
	return nil
}

// MediaBox returns the page media box [x1 y1 x2 y2]
// This is inheritable, so checks ancestors if not present
func (p *Page) MediaBox() ([]float64, error) {
	return p.getBox("MediaBox")
}

// CropBox returns the page crop box [x1 y1 x2 y2]
// This is inheritable, defaults to MediaBox if not present
func (p *Page) CropBox() ([]float64, error) {
	box, err := p.getBox("CropBox")
	if err != nil {
		return p.MediaBox()
	}
	return box, nil
}

func (p *Page) getBox(name string) ([]float64, error) {
	boxObj := p.inherited(name)
	if boxObj == nil {
		return nil, fmt.Errorf("%s not found", name)
	}

	boxResolved, err := p.resolver.Resolve(boxObj)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	boxArr, ok := boxResolved.(core.Array)
	if !ok {
		return nil, fmt.Errorf("invalid %s type: %T", name, boxResolved)
	}
	if len(boxArr) != 4 {
		return nil, fmt.Errorf("invalid %s length: %d (expected 4)", name, len(boxArr))
	}

	box := make([]float64, 4)
	for i, elem := range boxArr {
		elem, err := p.resolver.Resolve(elem)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s[%d]: %w", name, i, err)
		}
		switch v := elem.(type) {
		case core.Int:
			box[i] = float64(v)
		case core.Real:
			box[i] = float64(v)
		default:
			return nil, fmt.Errorf("invalid %s element type: %T", name, elem)
		}
	}
	return box, nil
}

// Resources returns the page resources dictionary
// This is inheritable
func (p *Page) Resources() (core.Dict, error) {
	resourcesObj := p.inherited("Resources")
	if resourcesObj == nil {
		return nil, fmt.Errorf("resources not found")
	}

	resourcesResolved, err := p.resolver.Resolve(resourcesObj)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Resources: %w", err)
	}
	resourcesDict, ok := resourcesResolved.(core.Dict)
	if !ok {
		return nil, fmt.Errorf("invalid Resources type: %T", resourcesResolved)
	}
	return resourcesDict, nil
}

// Contents returns the page content stream(s)
func (p *Page) Contents() ([]*core.Stream, error) {
	contentsObj := p.dict.Get("Contents")
	if contentsObj == nil {
		return nil, nil // Contents is optional
	}

	contentsResolved, err := p.resolver.Resolve(contentsObj)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Contents: %w", err)
	}

	switch v := contentsResolved.(type) {
	case *core.Stream:
		return []*core.Stream{v}, nil
	case core.Array:
		streams := make([]*core.Stream, 0, len(v))
		for i, elem := range v {
			resolved, err := p.resolver.Resolve(elem)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve contents[%d]: %w", i, err)
			}
			stream, ok := resolved.(*core.Stream)
			if !ok {
				return nil, fmt.Errorf("invalid contents[%d] type: %T", i, resolved)
			}
			streams = append(streams, stream)
		}
		return streams, nil
	default:
		return nil, fmt.Errorf("invalid Contents type: %T", contentsResolved)
	}
}

// Rotate returns the page rotation normalized to 0, 90, 180 or 270.
// This is inheritable
func (p *Page) Rotate() int {
	rotate, ok := p.inherited("Rotate").(core.Int)
	if !ok || rotate%90 != 0 {
		return 0
	}
	r := int(rotate) % 360
	if r < 0 {
		r += 360
	}
	return r
}

// Width returns the page width (from MediaBox)
func (p *Page) Width() (float64, error) {
	box, err := p.MediaBox()
	if err != nil {
		return 0, err
	}
	return box[2] - box[0], nil
}

// Height returns the page height (from MediaBox)
func (p *Page) Height() (float64, error) {
	box, err := p.MediaBox()
	if err != nil {
		return 0, err
	}
	return box[3] - box[1], nil
}
