package filters

import (
	"bytes"
	"testing"
)

// TestASCIIHexDecode tests hex decoding, including whitespace and odd digits
func TestASCIIHexDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "upper", input: "48656C6C6F>", want: []byte("Hello")},
		{name: "mixed case and whitespace", input: "48 65\n6c 6C\t6f>", want: []byte("Hello")},
		{name: "odd final digit", input: "414>", want: []byte{'A', 0x40}},
		{name: "no end marker", input: "4869", want: []byte("Hi")},
		{name: "data after marker ignored", input: "41>zz", want: []byte("A")},
		{name: "empty", input: ">", want: []byte{}},
		{name: "invalid character", input: "4G>", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ASCIIHexDecode([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ASCIIHexDecode failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// TestASCII85Decode tests base-85 decoding, including z groups and partial
// final groups
func TestASCII85Decode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "full and partial groups", input: `87cURD]i,"Ebo7~>`, want: []byte("Hello World")},
		{name: "partial only", input: "8804~>", want: []byte("Hi!")},
		{name: "leading marker", input: "<~8804~>", want: []byte("Hi!")},
		{name: "whitespace", input: "  88\n04 ~>", want: []byte("Hi!")},
		{name: "z group", input: "z@:B~>", want: []byte{0, 0, 0, 0, 'a', 'b'}},
		{name: "no end marker", input: "8804", want: []byte("Hi!")},
		{name: "empty", input: "~>", want: []byte{}},
		{name: "z inside group", input: "88z04~>", wantErr: true},
		{name: "single final character", input: "87cUR!~>", wantErr: true},
		{name: "group overflow", input: "uuuuu~>", wantErr: true},
		{name: "invalid character", input: "88{04~>", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ASCII85Decode([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ASCII85Decode failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
