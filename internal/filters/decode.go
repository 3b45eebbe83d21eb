package filters

import "fmt"

// Filter names as they appear in /Filter entries, including the
// abbreviations allowed in inline images.
const (
	FilterFlate     = "FlateDecode"
	FilterLZW       = "LZWDecode"
	FilterASCIIHex  = "ASCIIHexDecode"
	FilterASCII85   = "ASCII85Decode"
	FilterRunLength = "RunLengthDecode"
	FilterCCITTFax  = "CCITTFaxDecode"
	FilterDCT       = "DCTDecode"
	FilterJPX       = "JPXDecode"
	FilterJBIG2     = "JBIG2Decode"
	FilterCrypt     = "Crypt"
)

var abbreviations = map[string]string{
	"Fl":  FilterFlate,
	"LZW": FilterLZW,
	"AHx": FilterASCIIHex,
	"A85": FilterASCII85,
	"RL":  FilterRunLength,
	"CCF": FilterCCITTFax,
	"DCT": FilterDCT,
}

// ErrUnsupportedFilter is returned for filter names this package does not know.
var ErrUnsupportedFilter = fmt.Errorf("unsupported filter")

// Canonical expands an abbreviated filter name.
func Canonical(name string) string {
	if full, ok := abbreviations[name]; ok {
		return full
	}
	return name
}

// IsImageCodec reports whether name is an image compression codec whose
// output is left encoded for the image layer.
func IsImageCodec(name string) bool {
	switch Canonical(name) {
	case FilterDCT, FilterJPX, FilterJBIG2:
		return true
	}
	return false
}

// Decode applies the named filter to data. nil params means no
// /DecodeParms.
//
// Image codecs and the Crypt filter pass data through unchanged; the
// security handler decrypts streams before any filter runs.
func Decode(name string, data []byte, params *Params) ([]byte, error) {
	switch Canonical(name) {
	case FilterFlate:
		return FlateDecode(data, params)
	case FilterLZW:
		return LZWDecode(data, params)
	case FilterASCIIHex:
		return ASCIIHexDecode(data)
	case FilterASCII85:
		return ASCII85Decode(data)
	case FilterRunLength:
		return RunLengthDecode(data, params)
	case FilterCCITTFax:
		return CCITTFaxDecode(data, params)
	case FilterDCT, FilterJPX, FilterJBIG2, FilterCrypt:
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}
