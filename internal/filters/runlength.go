package filters

import (
	"bytes"
	"fmt"
)

// RunLengthDecode expands PackBits-style run-length data. A length byte n in
// 0..127 copies the next n+1 bytes literally, 129..255 repeats the next byte
// 257-n times, and 128 marks end of data.
func RunLengthDecode(data []byte, params *Params) ([]byte, error) {
	limit := params.limit()
	out := make([]byte, 0, len(data)*2)

	for i := 0; i < len(data); {
		n := data[i]
		i++
		var run []byte
		switch {
		case n == 0x80:
			return out, nil
		case n < 0x80:
			count := int(n) + 1
			if i+count > len(data) {
				return nil, fmt.Errorf("run-length literal run of %d bytes exceeds input", count)
			}
			run = data[i : i+count]
			i += count
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("run-length repeat run missing its byte")
			}
			run = bytes.Repeat(data[i:i+1], 257-int(n))
			i++
		}
		if int64(len(out)+len(run)) > limit {
			return nil, fmt.Errorf("run-length: %w (%d bytes)", ErrTooLarge, limit)
		}
		out = append(out, run...)
	}

	// Missing EOD marker is tolerated
	return out, nil
}
