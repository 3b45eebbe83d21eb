// Package filters provides PDF stream decompression filters.
//
// PDF streams can be compressed using various algorithms. This package
// implements the standard PDF decompression filters.
//
// # Supported Filters
//
// FlateDecode (zlib/deflate):
//
//	decoded, err := filters.FlateDecode(data, params)
//
// The Predictor parameter selects how rows were transformed before
// compression:
//   - 1: No prediction (default)
//   - 2: TIFF Predictor 2
//   - 10-15: PNG predictors (None, Sub, Up, Average, Paeth)
//
// ASCIIHexDecode:
//
//	decoded, err := filters.ASCIIHexDecode(data)
//
// Decodes hexadecimal-encoded data. Whitespace is ignored.
//
// ASCII85Decode:
//
//	decoded, err := filters.ASCII85Decode(data)
//
// Decodes ASCII base-85 encoded data (also known as Ascii85).
//
// LZWDecode and RunLengthDecode are also available, and CCITTFaxDecode
// handles bi-level fax images.
//
// # Dispatch
//
// Decode selects a filter by its /Filter name, expanding inline-image
// abbreviations such as Fl and AHx. Image codecs (DCTDecode, JPXDecode,
// JBIG2Decode) and the Crypt filter return their input unchanged:
//
//	decoded, err := filters.Decode("LZWDecode", data, params)
//
// # Decode Parameters
//
// Params carries the /DecodeParms entries. nil means none were given;
// DefaultParams is the same thing as a value to modify:
//
//	params := filters.DefaultParams()
//	params.Predictor = 12
//	params.Columns = 5
//	decoded, err := filters.FlateDecode(data, params)
//
// FlateDecode and LZWDecode share the predictor code. Every filter stops
// with ErrTooLarge once its output passes Params.MaxSize, or
// DefaultMaxDecodedSize when that is unset.
package filters
