package resolver

import (
	"errors"
	"fmt"

	"github.com/tsawler/folio/core"
)

// ObjectResolver expands indirect references inside PDF objects. It is not
// safe for concurrent use; create one per goroutine.
type ObjectResolver struct {
	reader       ObjectReader
	visited      map[core.Reference]bool // references on the current path
	maxDepth     int
	currentDepth int
	strict       bool
}

// ObjectReader is the object source a resolver reads from. *store.Store
// satisfies it.
type ObjectReader interface {
	GetObject(objNum int) (core.Object, error)
	ResolveReference(ref core.Reference) (core.Object, error)
}

// Option configures the resolver
type Option func(*ObjectResolver)

// WithMaxDepth sets the maximum recursion depth (default: 100)
func WithMaxDepth(depth int) Option {
	return func(r *ObjectResolver) {
		r.maxDepth = depth
	}
}

// WithStrict makes an unresolved reference an error instead of null.
func WithStrict() Option {
	return func(r *ObjectResolver) {
		r.strict = true
	}
}

// NewResolver creates a new object resolver
func NewResolver(reader ObjectReader, opts ...Option) *ObjectResolver {
	r := &ObjectResolver{
		reader:   reader,
		visited:  make(map[core.Reference]bool),
		maxDepth: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve follows obj if it is a reference. Containers are returned as is.
func (r *ObjectResolver) Resolve(obj core.Object) (core.Object, error) {
	return r.resolve(obj, false)
}

// ResolveDeep returns a copy of obj with every nested reference replaced by
// its target. Shared subobjects are expanded once per occurrence; a
// reference back to an object on the current path is an error.
func (r *ObjectResolver) ResolveDeep(obj core.Object) (core.Object, error) {
	return r.resolve(obj, true)
}

func (r *ObjectResolver) resolve(obj core.Object, deep bool) (core.Object, error) {
	// each top-level call starts with an empty path
	if r.currentDepth == 0 {
		r.visited = make(map[core.Reference]bool)
	}
	if r.currentDepth >= r.maxDepth {
		return nil, fmt.Errorf("maximum recursion depth (%d) exceeded", r.maxDepth)
	}

	switch v := obj.(type) {
	case core.Reference:
		if r.visited[v] {
			return nil, fmt.Errorf("circular reference detected for object %v", v)
		}
		r.visited[v] = true
		defer delete(r.visited, v)

		resolved, err := r.reader.ResolveReference(v)
		if err != nil {
			if !r.strict && errors.Is(err, core.ErrUnresolvedReference) {
				return core.Null{}, nil
			}
			return nil, fmt.Errorf("failed to resolve reference %v: %w", v, err)
		}
		if !deep {
			return resolved, nil
		}
		return r.descend(resolved, deep)

	case core.Dict:
		if !deep {
			return v, nil
		}
		resolved := make(core.Dict, len(v))
		for key, value := range v {
			rv, err := r.descend(value, deep)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dict key %s: %w", key, err)
			}
			resolved[key] = rv
		}
		return resolved, nil

	case core.Array:
		if !deep {
			return v, nil
		}
		resolved := make(core.Array, len(v))
		for i, elem := range v {
			re, err := r.descend(elem, deep)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve array element %d: %w", i, err)
			}
			resolved[i] = re
		}
		return resolved, nil

	case *core.Stream:
		if !deep {
			return v, nil
		}
		dict, err := r.descend(v.Dict, deep)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve stream dict: %w", err)
		}
		return &core.Stream{Dict: dict.(core.Dict), Data: v.Data, Offset: v.Offset}, nil

	default:
		return obj, nil
	}
}

func (r *ObjectResolver) descend(obj core.Object, deep bool) (core.Object, error) {
	r.currentDepth++
	defer func() { r.currentDepth-- }()
	return r.resolve(obj, deep)
}

// Reset clears the visited set and depth counter.
func (r *ObjectResolver) Reset() {
	r.visited = make(map[core.Reference]bool)
	r.currentDepth = 0
}

// ResolveDict deep-resolves a dictionary.
func (r *ObjectResolver) ResolveDict(dict core.Dict) (core.Dict, error) {
	defer r.Reset()
	resolved, err := r.ResolveDeep(dict)
	if err != nil {
		return nil, err
	}
	return resolved.(core.Dict), nil
}

// ResolveArray deep-resolves an array.
func (r *ObjectResolver) ResolveArray(arr core.Array) (core.Array, error) {
	defer r.Reset()
	resolved, err := r.ResolveDeep(arr)
	if err != nil {
		return nil, err
	}
	return resolved.(core.Array), nil
}

// ResolveReference resolves a single reference without recursing.
func (r *ObjectResolver) ResolveReference(ref core.Reference) (core.Object, error) {
	defer r.Reset()
	return r.Resolve(ref)
}

// ResolveReferenceDeep resolves a reference and all nested references
func (r *ObjectResolver) ResolveReferenceDeep(ref core.Reference) (core.Object, error) {
	defer r.Reset()
	return r.ResolveDeep(ref)
}

// GetObject loads the newest version of an object by number.
func (r *ObjectResolver) GetObject(objNum int) (core.Object, error) {
	return r.reader.GetObject(objNum)
}

// GetObjectResolvedDeep loads and fully resolves an object by number
func (r *ObjectResolver) GetObjectResolvedDeep(objNum int) (core.Object, error) {
	obj, err := r.reader.GetObject(objNum)
	if err != nil {
		return nil, err
	}
	defer r.Reset()
	return r.ResolveDeep(obj)
}
