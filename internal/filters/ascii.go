package filters

import (
	"bytes"
	"fmt"
	"math"
)

// ASCIIHexDecode decodes pairs of hex digits up to the > marker. Whitespace
// is ignored and an odd final digit is completed with 0.
func ASCIIHexDecode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2+1)
	var hi byte
	half := false
	for i, c := range data {
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := unhex(c)
		if !ok {
			return nil, fmt.Errorf("ASCIIHexDecode: invalid character %q at %d", c, i)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

// ASCII85Decode decodes base-85 groups up to the ~> marker. z stands for a
// whole group of zeros; a final partial group of n characters yields n-1
// bytes. A leading <~ is accepted.
func ASCII85Decode(data []byte) ([]byte, error) {
	data = bytes.TrimLeft(data, " \t\r\n\f\x00")
	data = bytes.TrimPrefix(data, []byte("<~"))

	out := make([]byte, 0, len(data)*4/5+4)
	var group uint64
	n := 0
	flush := func(count int) error {
		if group > math.MaxUint32 {
			return fmt.Errorf("ASCII85Decode: group value %d overflows", group)
		}
		b := [4]byte{byte(group >> 24), byte(group >> 16), byte(group >> 8), byte(group)}
		out = append(out, b[:count]...)
		group, n = 0, 0
		return nil
	}

scan:
	for i, c := range data {
		switch {
		case isWhitespace(c):
			continue
		case c == '~':
			break scan
		case c == 'z' && n == 0:
			out = append(out, 0, 0, 0, 0)
			continue
		case c < '!' || c > 'u':
			return nil, fmt.Errorf("ASCII85Decode: invalid character %q at %d", c, i)
		}
		group = group*85 + uint64(c-'!')
		n++
		if n == 5 {
			if err := flush(4); err != nil {
				return nil, err
			}
		}
	}

	switch n {
	case 0:
	case 1:
		return nil, fmt.Errorf("ASCII85Decode: final group has a single character")
	default:
		count := n - 1
		for ; n < 5; n++ {
			group = group*85 + 84
		}
		if err := flush(count); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// isWhitespace reports whether c is a PDF whitespace character.
func isWhitespace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}
