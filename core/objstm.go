package core

import (
	"bytes"
	"fmt"
	"sync"
)

// ObjectStream represents a PDF Object Stream (Type /ObjStm), introduced in PDF 1.5.
// Object streams store multiple objects in a single compressed stream.
//
// The container is decoded at most once, on first access, and parsed
// sub-objects are cached by index. ObjectStream is safe for concurrent use.
type ObjectStream struct {
	stream  *Stream
	n       int
	first   int
	extends *Reference

	once    sync.Once
	err     error
	decoded []byte
	offsets []objectStreamOffset

	mu      sync.Mutex
	objects map[int]Object // index -> parsed object

	// OnDecode, when set, is called once after the container is decoded.
	OnDecode func()
}

// objectStreamOffset pairs an object number with its byte offset within the decoded data.
type objectStreamOffset struct {
	ObjNum int
	Offset int // relative to First
}

// NewObjectStream creates an ObjectStream from a Stream object.
// The stream must have Type /ObjStm and required entries /N and /First.
func NewObjectStream(stream *Stream) (*ObjectStream, error) {
	if stream == nil {
		return nil, fmt.Errorf("stream is nil")
	}

	// Some producers omit /Type; /N and /First are what matter
	if typeName, ok := stream.Dict.GetName("Type"); ok && typeName != "ObjStm" {
		return nil, fmt.Errorf("stream is not an object stream, got type: %v", typeName)
	}

	n, ok := stream.Dict.GetInt("N")
	if !ok || n < 0 {
		return nil, fmt.Errorf("object stream has invalid /N: %v", stream.Dict.Get("N"))
	}
	first, ok := stream.Dict.GetInt("First")
	if !ok || first < 0 {
		return nil, fmt.Errorf("object stream has invalid /First: %v", stream.Dict.Get("First"))
	}
	if int64(n) > maxHeaderPairs(int64(first)) {
		return nil, fmt.Errorf("object stream /N %d cannot fit in a %d-byte header", n, first)
	}

	os := &ObjectStream{
		stream:  stream,
		n:       int(n),
		first:   int(first),
		objects: make(map[int]Object),
	}
	if ref, ok := stream.Dict.GetReference("Extends"); ok {
		os.extends = &ref
	}
	return os, nil
}

// N returns the number of objects stored in the stream.
func (os *ObjectStream) N() int {
	return os.n
}

// First returns the byte offset to the first object's data in the decoded stream.
func (os *ObjectStream) First() int {
	return os.first
}

// Extends returns the reference to another object stream this one extends, or nil.
func (os *ObjectStream) Extends() *Reference {
	return os.extends
}

// decode decodes the stream data and parses the header exactly once.
func (os *ObjectStream) decode() error {
	os.once.Do(func() {
		decoded, err := os.stream.Decode()
		if err != nil {
			os.err = fmt.Errorf("failed to decode object stream: %w", err)
			return
		}
		os.decoded = decoded
		if os.OnDecode != nil {
			os.OnDecode()
		}
		if err := os.parseHeader(); err != nil {
			os.err = fmt.Errorf("failed to parse object stream header: %w", err)
		}
	})
	return os.err
}

// maxHeaderPairs is the most "objNum offset" pairs a header of first bytes
// can hold: each pair takes at least four bytes, the last one three.
func maxHeaderPairs(first int64) int64 {
	return first/4 + 1
}

// parseHeader parses the N pairs "objNum offset" that precede First.
func (os *ObjectStream) parseHeader() error {
	if os.first > len(os.decoded) {
		return fmt.Errorf("First offset (%d) exceeds decoded data length (%d)", os.first, len(os.decoded))
	}

	parser := NewParser(bytes.NewReader(os.decoded[:os.first]))
	capacity := os.n
	if limit := maxHeaderPairs(int64(os.first)); int64(capacity) > limit {
		capacity = int(limit)
	}
	os.offsets = make([]objectStreamOffset, 0, capacity)

	for i := 0; i < os.n; i++ {
		objNum, err := parser.ParseInt()
		if err != nil {
			return fmt.Errorf("object number %d: %w", i, err)
		}
		offset, err := parser.ParseInt()
		if err != nil {
			return fmt.Errorf("offset %d: %w", i, err)
		}
		os.offsets = append(os.offsets, objectStreamOffset{
			ObjNum: int(objNum),
			Offset: int(offset),
		})
	}

	return nil
}

// GetObjectByIndex extracts an object by its index within the stream (0-based).
// Returns the object and its object number.
func (os *ObjectStream) GetObjectByIndex(index int) (Object, int, error) {
	if err := os.decode(); err != nil {
		return nil, 0, err
	}

	if index < 0 || index >= len(os.offsets) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", index, len(os.offsets))
	}
	objNum := os.offsets[index].ObjNum

	os.mu.Lock()
	obj, ok := os.objects[index]
	os.mu.Unlock()
	if ok {
		return obj, objNum, nil
	}

	offset := os.first + os.offsets[index].Offset
	endOffset := len(os.decoded)
	if index+1 < len(os.offsets) {
		if next := os.first + os.offsets[index+1].Offset; next > offset && next < endOffset {
			endOffset = next
		}
	}
	if offset < 0 || offset >= len(os.decoded) {
		return nil, 0, fmt.Errorf("object offset %d exceeds decoded data length %d", offset, len(os.decoded))
	}

	parser := NewParser(bytes.NewReader(os.decoded[offset:endOffset]))
	obj, err := parser.ParseObject()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse object at index %d: %w", index, err)
	}

	os.mu.Lock()
	if cached, ok := os.objects[index]; ok {
		obj = cached
	} else {
		os.objects[index] = obj
	}
	os.mu.Unlock()

	return obj, objNum, nil
}

// GetObjectByNumber finds and extracts an object by its object number.
// Returns the object and its index within the stream.
func (os *ObjectStream) GetObjectByNumber(objNum int) (Object, int, error) {
	if err := os.decode(); err != nil {
		return nil, 0, err
	}

	for i, entry := range os.offsets {
		if entry.ObjNum == objNum {
			obj, _, err := os.GetObjectByIndex(i)
			return obj, i, err
		}
	}

	return nil, 0, fmt.Errorf("object %d not found in object stream", objNum)
}

// ObjectNumbers returns all object numbers stored in this stream, in index order.
func (os *ObjectStream) ObjectNumbers() ([]int, error) {
	if err := os.decode(); err != nil {
		return nil, err
	}

	nums := make([]int, len(os.offsets))
	for i, entry := range os.offsets {
		nums[i] = entry.ObjNum
	}
	return nums, nil
}

// ContainsObject reports whether the given object number is stored in this stream.
func (os *ObjectStream) ContainsObject(objNum int) (bool, error) {
	if err := os.decode(); err != nil {
		return false, err
	}

	for _, entry := range os.offsets {
		if entry.ObjNum == objNum {
			return true, nil
		}
	}
	return false, nil
}
