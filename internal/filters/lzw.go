package filters

import (
	"bytes"
	"fmt"

	"github.com/hhrutter/lzw"
)

// LZWDecode decompresses LZW-encoded data. EarlyChange 1, the default, is
// what nearly every PDF producer writes; 0 switches to the strict TIFF
// code-width schedule. Predictors are reversed as for FlateDecode.
func LZWDecode(data []byte, params *Params) ([]byte, error) {
	p := params.orDefault()

	rc := lzw.NewReader(bytes.NewReader(data), p.EarlyChange != 0)
	defer rc.Close()

	out, err := readAll(rc, p.limit())
	if err != nil {
		return nil, fmt.Errorf("lzw: %w", err)
	}
	return unpredict(out, p)
}
