package filters

import (
	"bytes"
	"fmt"

	"golang.org/x/image/ccitt"
)

// CCITTFaxDecode expands Group 3 or Group 4 fax data to one bit per pixel,
// rows padded to a byte, 1 meaning black only when BlackIs1 is set. K < 0
// selects Group 4, anything else Group 3. Columns defaults to 1728; without
// Rows the height is taken from the data.
func CCITTFaxDecode(data []byte, params *Params) ([]byte, error) {
	p := params.orDefault()

	sf := ccitt.Group3
	if p.K < 0 {
		sf = ccitt.Group4
	}
	rows := p.Rows
	if rows <= 0 {
		rows = ccitt.AutoDetectHeight
	}
	width := positive(p.Columns, 1728)

	r := ccitt.NewReader(bytes.NewReader(data), ccitt.MSB, sf, width, rows, &ccitt.Options{Invert: p.BlackIs1})
	out, err := readAll(r, p.limit())
	if err != nil {
		return nil, fmt.Errorf("ccitt: %w", err)
	}
	return out, nil
}
