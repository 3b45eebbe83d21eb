package pdftest

import (
	"crypto/md5"
	"crypto/rc4"
	"fmt"
)

var passwordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// RC4Encryption is a revision 2 standard security handler setup: 40-bit RC4
// keyed from a user and an owner password.
type RC4Encryption struct {
	O, U []byte
	Key  []byte
	P    int32
}

func padPassword(pw string) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], passwordPad)
	return out
}

func rc4Apply(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

// NewRC4Encryption computes /O, /U and the file key for revision 2.
func NewRC4Encryption(user, owner string, id []byte, p int32) *RC4Encryption {
	if owner == "" {
		owner = user
	}
	ownerKey := md5.Sum(padPassword(owner))
	o := rc4Apply(ownerKey[:5], padPassword(user))

	h := md5.New()
	h.Write(padPassword(user))
	h.Write(o)
	up := uint32(p)
	h.Write([]byte{byte(up), byte(up >> 8), byte(up >> 16), byte(up >> 24)})
	h.Write(id)
	key := h.Sum(nil)[:5]

	return &RC4Encryption{O: o, U: rc4Apply(key, passwordPad), Key: key, P: p}
}

// Dict returns the body of the /Encrypt dictionary.
func (e *RC4Encryption) Dict() string {
	return fmt.Sprintf("<< /Filter /Standard /V 1 /R 2 /O <%x> /U <%x> /P %d >>", e.O, e.U, e.P)
}

// Encrypt encrypts data belonging to object num, generation gen.
func (e *RC4Encryption) Encrypt(num, gen int, data []byte) []byte {
	h := md5.New()
	h.Write(e.Key)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), byte(gen), byte(gen >> 8)})
	return rc4Apply(h.Sum(nil)[:len(e.Key)+5], data)
}

// Hex renders b as a PDF hexadecimal string.
func Hex(b []byte) string {
	return fmt.Sprintf("<%x>", b)
}
