package core

import (
	"bytes"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/unicode/norm"
)

// pdfDocDiffs lists the PDFDocEncoding code points that differ from Latin-1.
var pdfDocDiffs = map[byte]rune{
	0x18: '˘', 0x19: 'ˇ', 0x1a: 'ˆ', 0x1b: '˙',
	0x1c: '˝', 0x1d: '˛', 0x1e: '˚', 0x1f: '˜',
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
	0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8a: '−', 0x8b: '‰',
	0x8c: '„', 0x8d: '“', 0x8e: '”', 0x8f: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
	0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9a: 'ı', 0x9b: 'ł',
	0x9c: 'œ', 0x9d: 'š', 0x9e: 'ž', 0xa0: '€',
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// DecodeTextString converts a PDF text string (as used in /Info and outline
// titles) to UTF-8. Strings starting with a UTF-16BE byte order mark are
// decoded as UTF-16, strings with a UTF-8 BOM are taken as is, and anything
// else is read as PDFDocEncoding.
func DecodeTextString(s String) string {
	b := []byte(s)

	if len(b) >= 2 && b[0] == 0xfe && b[1] == 0xff {
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(b)
		if err == nil {
			return norm.NFC.String(string(out))
		}
	}

	if bytes.HasPrefix(b, utf8BOM) {
		return string(b[len(utf8BOM):])
	}

	runes := make([]rune, len(b))
	for i, c := range b {
		if r, ok := pdfDocDiffs[c]; ok {
			runes[i] = r
		} else {
			runes[i] = rune(c)
		}
	}
	return string(runes)
}
