package filters

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxDecodedSize bounds the output of a single filter unless
// Params.MaxSize says otherwise.
const DefaultMaxDecodedSize = 256 << 20

// ErrTooLarge is returned when a filter's output would exceed its limit.
var ErrTooLarge = errors.New("decoded stream exceeds size limit")

// Params holds the /DecodeParms entries the filters understand. Zero values
// mean the entry was absent and the filter default applies, except for
// EarlyChange, whose default of 1 is set by DefaultParams.
type Params struct {
	Predictor        int
	Colors           int
	BitsPerComponent int
	Columns          int
	EarlyChange      int

	// CCITTFaxDecode
	K        int
	Rows     int
	BlackIs1 bool

	// MaxSize limits the decoded length; 0 means DefaultMaxDecodedSize.
	MaxSize int64
}

// DefaultParams returns the parameters of a stream with no /DecodeParms.
func DefaultParams() *Params {
	return &Params{EarlyChange: 1}
}

func (p *Params) orDefault() *Params {
	if p == nil {
		return DefaultParams()
	}
	return p
}

func (p *Params) limit() int64 {
	if p == nil || p.MaxSize <= 0 {
		return DefaultMaxDecodedSize
	}
	return p.MaxSize
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// readAll drains r, failing with ErrTooLarge past limit bytes.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, err
}
