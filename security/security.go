// Package security decrypts the strings and streams of documents protected
// by the standard security handler.
//
// A [Handler] is created once per document from the trailer's /Encrypt
// dictionary and first file identifier, then consulted by the object store
// for every object it materializes. Cross-reference streams and the /Encrypt
// dictionary itself are never encrypted and must not be passed to a handler.
package security

import (
	"errors"

	"github.com/tsawler/folio/core"
)

var (
	// ErrPasswordRequired is returned when neither the supplied password nor
	// the empty password opens the document.
	ErrPasswordRequired = errors.New("password required")

	// ErrUnsupported is returned for security handlers, revisions or crypt
	// filters this package does not implement.
	ErrUnsupported = errors.New("unsupported encryption")
)

// Handler decrypts data belonging to the indirect object ref.
type Handler interface {
	DecryptString(ref core.Reference, data []byte) ([]byte, error)
	DecryptStream(ref core.Reference, data []byte) ([]byte, error)
}

// DecryptObject returns obj with every string decrypted and, for a stream,
// its data decrypted too. Containers are copied; obj is not modified.
func DecryptObject(h Handler, ref core.Reference, obj core.Object) (core.Object, error) {
	switch v := obj.(type) {
	case core.String:
		out, err := h.DecryptString(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return core.String(out), nil

	case core.Array:
		out := make(core.Array, len(v))
		for i, elem := range v {
			d, err := DecryptObject(h, ref, elem)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil

	case core.Dict:
		out := make(core.Dict, len(v))
		for k, elem := range v {
			d, err := DecryptObject(h, ref, elem)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil

	case *core.Stream:
		d, err := DecryptObject(h, ref, v.Dict)
		if err != nil {
			return nil, err
		}
		dict := d.(core.Dict)
		data := v.Data
		if !skipStream(h, dict) {
			data, err = h.DecryptStream(ref, v.Data)
			if err != nil {
				return nil, err
			}
		}
		return &core.Stream{Dict: dict, Data: data, Offset: v.Offset}, nil
	}
	return obj, nil
}

// skipStream reports streams stored in the clear: cross-reference streams
// always, and XMP metadata when the handler leaves metadata unencrypted.
func skipStream(h Handler, dict core.Dict) bool {
	typ, _ := dict.GetName("Type")
	if typ == "XRef" {
		return true
	}
	if typ == "Metadata" {
		if s, ok := h.(*Standard); ok && !s.encryptMetadata {
			return true
		}
	}
	return false
}
