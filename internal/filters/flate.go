package filters

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// FlateDecode inflates zlib data and reverses any predictor. A stream cut
// off mid-way, or missing its checksum, yields the bytes inflated so far.
func FlateDecode(data []byte, params *Params) ([]byte, error) {
	p := params.orDefault()

	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	defer zr.Close()

	out, err := readAll(zr, p.limit())
	if err != nil {
		if errors.Is(err, ErrTooLarge) || len(out) == 0 || !truncated(err) {
			return nil, fmt.Errorf("flate: %w", err)
		}
	}
	return unpredict(out, p)
}

func truncated(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, zlib.ErrChecksum)
}
