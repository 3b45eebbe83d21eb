package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/tsawler/folio/core"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

type cryptMethod int

const (
	methodIdentity cryptMethod = iota
	methodRC4
	methodAESV2
	methodAESV3
)

var passwordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// Standard is the password-based standard security handler, revisions 2
// through 4 (RC4 and AES-128) and 6 (AES-256).
type Standard struct {
	key             []byte
	revision        int
	strMethod       cryptMethod
	stmMethod       cryptMethod
	encryptMetadata bool
}

var _ Handler = (*Standard)(nil)

// encryptParams holds the /Encrypt entries the key algorithms need.
type encryptParams struct {
	v, r            int
	length          int // file key length in bytes
	o, u, oe, ue    []byte
	perms           []byte
	p               uint32
	encryptMetadata bool
	id              []byte
}

// NewStandard authenticates password against the /Encrypt dictionary and
// returns a handler holding the file key. The password is tried as the user
// password, then as the owner password, and finally the empty user password
// is tried.
func NewStandard(encrypt core.Dict, id core.String, password string) (*Standard, error) {
	if filter, _ := encrypt.GetName("Filter"); filter != "Standard" {
		return nil, fmt.Errorf("%w: security handler %q", ErrUnsupported, string(filter))
	}

	p, err := readParams(encrypt, id)
	if err != nil {
		return nil, err
	}
	s := &Standard{revision: p.r, encryptMetadata: p.encryptMetadata}
	if s.strMethod, s.stmMethod, err = methods(encrypt, p.v); err != nil {
		return nil, err
	}

	candidates := []string{password}
	if password != "" {
		candidates = append(candidates, "")
	}
	for _, pw := range candidates {
		var key []byte
		if p.r == 6 {
			key, err = p.authenticateR6(pw)
			if err != nil {
				return nil, err
			}
		} else {
			key = p.authenticateR4(pw)
		}
		if key != nil {
			s.key = key
			return s, nil
		}
	}
	return nil, ErrPasswordRequired
}

// Revision returns the /R value of the handler.
func (s *Standard) Revision() int {
	return s.revision
}

func readParams(encrypt core.Dict, id core.String) (*encryptParams, error) {
	v, _ := encrypt.GetInt("V")
	r, _ := encrypt.GetInt("R")
	o, _ := encrypt.GetString("O")
	u, _ := encrypt.GetString("U")
	oe, _ := encrypt.GetString("OE")
	ue, _ := encrypt.GetString("UE")
	perms, _ := encrypt.GetString("Perms")
	pv, _ := encrypt.GetInt("P")

	p := &encryptParams{
		v: int(v), r: int(r),
		o: []byte(o), u: []byte(u), oe: []byte(oe), ue: []byte(ue),
		perms:           []byte(perms),
		p:               uint32(int32(pv)),
		encryptMetadata: true,
		id:              []byte(id),
	}
	if b, ok := encrypt.GetBool("EncryptMetadata"); ok {
		p.encryptMetadata = bool(b)
	}

	switch p.r {
	case 2, 3, 4:
		if len(p.o) < 32 || len(p.u) < 32 {
			return nil, fmt.Errorf("%w: /O and /U must be 32 bytes", ErrUnsupported)
		}
		p.o, p.u = p.o[:32], p.u[:32]
	case 6:
		if len(p.o) < 48 || len(p.u) < 48 || len(p.oe) < 32 || len(p.ue) < 32 {
			return nil, fmt.Errorf("%w: revision 6 key entries are too short", ErrUnsupported)
		}
	default:
		return nil, fmt.Errorf("%w: revision %d", ErrUnsupported, p.r)
	}

	bits, _ := encrypt.GetInt("Length")
	switch {
	case p.r == 2:
		p.length = 5
	case p.v >= 4:
		p.length = 16
	case bits == 0:
		p.length = 5
	case bits < 40 || bits > 128 || bits%8 != 0:
		return nil, fmt.Errorf("%w: %d-bit key", ErrUnsupported, bits)
	default:
		p.length = int(bits) / 8
	}
	return p, nil
}

// methods returns the string and stream crypt methods for version v.
func methods(encrypt core.Dict, v int) (cryptMethod, cryptMethod, error) {
	switch v {
	case 1, 2:
		return methodRC4, methodRC4, nil
	case 4, 5:
		str, err := cryptFilter(encrypt, "StrF")
		if err != nil {
			return 0, 0, err
		}
		stm, err := cryptFilter(encrypt, "StmF")
		if err != nil {
			return 0, 0, err
		}
		return str, stm, nil
	}
	return 0, 0, fmt.Errorf("%w: version %d", ErrUnsupported, v)
}

func cryptFilter(encrypt core.Dict, key string) (cryptMethod, error) {
	name, ok := encrypt.GetName(key)
	if !ok || name == "Identity" {
		return methodIdentity, nil
	}
	cf, _ := encrypt.GetDict("CF")
	params, ok := cf.GetDict(string(name))
	if !ok {
		return 0, fmt.Errorf("%w: crypt filter %q is not defined", ErrUnsupported, string(name))
	}
	cfm, _ := params.GetName("CFM")
	switch cfm {
	case "V2":
		return methodRC4, nil
	case "AESV2":
		return methodAESV2, nil
	case "AESV3":
		return methodAESV3, nil
	}
	return 0, fmt.Errorf("%w: crypt filter method %q", ErrUnsupported, string(cfm))
}

// latin1 encodes a revision 2-4 password; characters outside Latin-1 are
// passed through as UTF-8.
func latin1(password string) []byte {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(password))
	if err != nil {
		return []byte(password)
	}
	return b
}

func pad(pw []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], passwordPad)
	return out
}

// fileKey computes the file key from a padded user password.
func (p *encryptParams) fileKey(padded []byte) []byte {
	h := md5.New()
	h.Write(padded)
	h.Write(p.o)
	h.Write([]byte{byte(p.p), byte(p.p >> 8), byte(p.p >> 16), byte(p.p >> 24)})
	h.Write(p.id)
	if p.r >= 4 && !p.encryptMetadata {
		h.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	key := h.Sum(nil)
	if p.r >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:p.length])
			key = sum[:]
		}
	}
	return key[:p.length]
}

// userValue computes the /U entry implied by a file key.
func (p *encryptParams) userValue(key []byte) []byte {
	if p.r == 2 {
		out := make([]byte, 32)
		rc4XOR(key, out, passwordPad)
		return out
	}
	h := md5.New()
	h.Write(passwordPad)
	h.Write(p.id)
	out := h.Sum(nil)
	for i := 0; i <= 19; i++ {
		rc4XOR(xorKey(key, byte(i)), out, out)
	}
	return out
}

func (p *encryptParams) checkUser(padded []byte) []byte {
	key := p.fileKey(padded)
	want := p.userValue(key)
	if p.r >= 3 {
		if bytes.Equal(want, p.u[:16]) {
			return key
		}
		return nil
	}
	if bytes.Equal(want, p.u) {
		return key
	}
	return nil
}

// authenticateR4 returns the file key for pw as user or owner password, or
// nil when it is neither.
func (p *encryptParams) authenticateR4(pw string) []byte {
	raw := latin1(pw)
	if key := p.checkUser(pad(raw)); key != nil {
		return key
	}

	sum := md5.Sum(pad(raw))
	k := sum[:]
	if p.r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(k)
			k = sum[:]
		}
	}
	k = k[:p.length]

	user := append([]byte(nil), p.o...)
	if p.r == 2 {
		rc4XOR(k, user, user)
	} else {
		for i := 19; i >= 0; i-- {
			rc4XOR(xorKey(k, byte(i)), user, user)
		}
	}
	return p.checkUser(user)
}

// authenticateR6 returns the file key for pw as user or owner password, or
// nil when it is neither.
func (p *encryptParams) authenticateR6(pw string) ([]byte, error) {
	raw := []byte(norm.NFKC.String(pw))
	if len(raw) > 127 {
		raw = raw[:127]
	}
	u := p.u[:48]

	var key []byte
	switch {
	case bytes.Equal(hashR6(raw, u[32:40], nil), u[:32]):
		key = aesUnwrap(hashR6(raw, u[40:48], nil), p.ue[:32])
	case bytes.Equal(hashR6(raw, p.o[32:40], u), p.o[:32]):
		key = aesUnwrap(hashR6(raw, p.o[40:48], u), p.oe[:32])
	default:
		return nil, nil
	}

	if len(p.perms) >= 16 {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		dec := make([]byte, 16)
		block.Decrypt(dec, p.perms[:16])
		if string(dec[9:12]) != "adb" {
			return nil, fmt.Errorf("%w: /Perms does not match the file key", ErrUnsupported)
		}
	}
	return key, nil
}

// hashR6 is the revision 6 password hash. udata is the 48-byte /U value when
// hashing an owner password and nil otherwise.
func hashR6(pw, salt, udata []byte) []byte {
	h := sha256.New()
	h.Write(pw)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)

	for i := 1; ; i++ {
		seq := make([]byte, 0, len(pw)+len(k)+len(udata))
		seq = append(seq, pw...)
		seq = append(seq, k...)
		seq = append(seq, udata...)
		k1 := bytes.Repeat(seq, 64)

		block, _ := aes.NewCipher(k[:16])
		e := make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		var mod int
		for _, b := range e[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			sum := sha256.Sum256(e)
			k = sum[:]
		case 1:
			sum := sha512.Sum384(e)
			k = sum[:]
		case 2:
			sum := sha512.Sum512(e)
			k = sum[:]
		}

		if i >= 64 && int(e[len(e)-1]) <= i-32 {
			break
		}
	}
	return k[:32]
}

// aesUnwrap decrypts a 32-byte key with AES-256 in CBC mode and a zero IV.
func aesUnwrap(kek, wrapped []byte) []byte {
	block, _ := aes.NewCipher(kek)
	out := make([]byte, 32)
	var iv [16]byte
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, wrapped)
	return out
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

func rc4XOR(key, dst, src []byte) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	c.XORKeyStream(dst, src)
}

// objectKey derives the per-object key.
func (s *Standard) objectKey(ref core.Reference, m cryptMethod) []byte {
	if m == methodAESV3 {
		return s.key
	}
	n, g := ref.Number, ref.Generation
	h := md5.New()
	h.Write(s.key)
	h.Write([]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(g), byte(g >> 8)})
	if m == methodAESV2 {
		h.Write([]byte("sAlT"))
	}
	key := h.Sum(nil)
	if l := len(s.key) + 5; l < len(key) {
		key = key[:l]
	}
	return key
}

// DecryptString decrypts a string of object ref.
func (s *Standard) DecryptString(ref core.Reference, data []byte) ([]byte, error) {
	return s.decrypt(ref, s.strMethod, data)
}

// DecryptStream decrypts the data of stream ref.
func (s *Standard) DecryptStream(ref core.Reference, data []byte) ([]byte, error) {
	return s.decrypt(ref, s.stmMethod, data)
}

func (s *Standard) decrypt(ref core.Reference, m cryptMethod, data []byte) ([]byte, error) {
	switch m {
	case methodIdentity:
		return data, nil
	case methodRC4:
		out := make([]byte, len(data))
		rc4XOR(s.objectKey(ref, m), out, data)
		return out, nil
	}

	if len(data) < aes.BlockSize {
		return nil, fmt.Errorf("object %v: AES data shorter than its IV", ref)
	}
	block, err := aes.NewCipher(s.objectKey(ref, m))
	if err != nil {
		return nil, fmt.Errorf("object %v: %w", ref, err)
	}
	body := data[aes.BlockSize:]
	body = body[:len(body)-len(body)%aes.BlockSize]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, body)
	return unpad(out), nil
}

// unpad strips PKCS#7 padding, leaving data unchanged when the padding is
// not well formed.
func unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return data
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return data
		}
	}
	return data[:len(data)-n]
}
