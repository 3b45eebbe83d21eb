package filters

import "fmt"

// unpredict reverses the /Predictor transform shared by FlateDecode and
// LZWDecode. Predictor 1 is the identity, 2 is TIFF Predictor 2 and 10-15
// are the PNG filters, where every row carries its own filter byte.
func unpredict(data []byte, p *Params) ([]byte, error) {
	predictor := positive(p.Predictor, 1)
	if predictor == 1 {
		return data, nil
	}

	colors := positive(p.Colors, 1)
	bpc := positive(p.BitsPerComponent, 8)
	columns := positive(p.Columns, 1)
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("predictor: invalid BitsPerComponent %d", bpc)
	}
	rowLen := (colors*bpc*columns + 7) / 8
	pixelLen := (colors*bpc + 7) / 8

	switch {
	case predictor == 2:
		if bpc != 8 {
			return nil, fmt.Errorf("TIFF predictor: BitsPerComponent %d not supported", bpc)
		}
		return unpredictTIFF(data, rowLen, pixelLen)
	case predictor >= 10 && predictor <= 15:
		return unpredictPNG(data, rowLen, pixelLen)
	}
	return nil, fmt.Errorf("unsupported predictor: %d", predictor)
}

// unpredictTIFF adds each sample to the one a pixel to its left. A short
// final row is decoded as far as it goes.
func unpredictTIFF(data []byte, rowLen, pixelLen int) ([]byte, error) {
	out := append([]byte(nil), data...)
	for start := 0; start < len(out); start += rowLen {
		end := start + rowLen
		if end > len(out) {
			end = len(out)
		}
		for i := start + pixelLen; i < end; i++ {
			out[i] += out[i-pixelLen]
		}
	}
	return out, nil
}

// unpredictPNG strips the per-row filter bytes. A trailing partial row, which
// some writers leave in cross-reference streams, is dropped.
func unpredictPNG(data []byte, rowLen, pixelLen int) ([]byte, error) {
	stride := rowLen + 1
	rows := len(data) / stride
	if rows == 0 && len(data) > 0 {
		return nil, fmt.Errorf("PNG predictor: %d bytes is less than one %d-byte row", len(data), stride)
	}

	out := make([]byte, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		in := data[r*stride : (r+1)*stride]
		cur := out[r*rowLen : (r+1)*rowLen]
		copy(cur, in[1:])
		if err := unfilterRow(in[0], cur, prev, pixelLen); err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		prev = cur
	}
	return out, nil
}

// unfilterRow undoes one PNG row filter in place. prev is the decoded row
// above, all zeros for the first row.
func unfilterRow(filter byte, cur, prev []byte, pixelLen int) error {
	switch filter {
	case 0:
	case 1:
		for i := pixelLen; i < len(cur); i++ {
			cur[i] += cur[i-pixelLen]
		}
	case 2:
		for i := range cur {
			cur[i] += prev[i]
		}
	case 3:
		for i := range cur {
			var left int
			if i >= pixelLen {
				left = int(cur[i-pixelLen])
			}
			cur[i] += byte((left + int(prev[i])) / 2)
		}
	case 4:
		for i := range cur {
			var left, upLeft byte
			if i >= pixelLen {
				left, upLeft = cur[i-pixelLen], prev[i-pixelLen]
			}
			cur[i] += paeth(left, prev[i], upLeft)
		}
	default:
		return fmt.Errorf("unknown PNG filter type %d", filter)
	}
	return nil
}

// paeth picks whichever of left, up and upper-left is closest to
// left+up-upLeft, preferring them in that order on ties.
func paeth(left, up, upLeft byte) byte {
	p := int(left) + int(up) - int(upLeft)
	pa, pb, pc := absInt(p-int(left)), absInt(p-int(up)), absInt(p-int(upLeft))
	switch {
	case pa <= pb && pa <= pc:
		return left
	case pb <= pc:
		return up
	}
	return upLeft
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
