// Package encoding packs values into portable strings for export, such as
// recorded trace logs handed from dev tools to another process.
//
// Values are serialized with msgpack and then either signed or sealed:
//   - Signed: base64 payload plus a truncated HMAC-SHA256, readable but
//     tamper-evident
//   - Sealed: AES-256-GCM, opaque to anyone without the key
package encoding

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrInvalidFormat    = errors.New("encoding: invalid format")
	ErrSignatureInvalid = errors.New("encoding: signature verification failed")
	ErrDecryptFailed    = errors.New("encoding: decryption failed")
)

// Mode selects how packed data is protected.
type Mode int

const (
	Signed Mode = iota
	Sealed
)

func (m Mode) String() string {
	switch m {
	case Signed:
		return "signed"
	case Sealed:
		return "sealed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "signed" or "sealed".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "signed", "":
		return Signed, nil
	case "sealed":
		return Sealed, nil
	}
	return 0, fmt.Errorf("encoding: unknown mode %q", s)
}

// Codec encodes and decodes values with one key.
type Codec struct {
	key []byte
	gcm cipher.AEAD
}

// NewCodec creates a codec. Keys shorter than 32 bytes are stretched with
// SHA-256.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) < 32 {
		h := sha256.Sum256(key)
		key = h[:]
	}

	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{key: key, gcm: gcm}, nil
}

// Encode packs v and protects it according to mode.
func (c *Codec) Encode(v any, mode Mode) (string, error) {
	packed, err := Marshal(v)
	if err != nil {
		return "", err
	}
	if mode == Sealed {
		return c.seal(packed)
	}
	return c.sign(packed), nil
}

// Decode reverses Encode into v.
func (c *Codec) Decode(encoded string, mode Mode, v any) error {
	var (
		packed []byte
		err    error
	)
	if mode == Sealed {
		packed, err = c.open(encoded)
	} else {
		packed, err = c.verify(encoded)
	}
	if err != nil {
		return err
	}
	return Unmarshal(packed, v)
}

// Marshal packs v with msgpack. Struct fields use their json tag names
// unless a msgpack tag is present.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal unpacks msgpack data into v. Maps decode as map[string]any.
func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return nil
}

// sign produces base64(data) "." base64(mac).
func (c *Codec) sign(data []byte) string {
	b64 := base64.RawURLEncoding.EncodeToString(data)
	return b64 + "." + base64.RawURLEncoding.EncodeToString(c.mac(data))
}

func (c *Codec) verify(encoded string) ([]byte, error) {
	payload, sig, ok := strings.Cut(encoded, ".")
	if !ok {
		return nil, ErrInvalidFormat
	}

	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if !hmac.Equal(mac, c.mac(data)) {
		return nil, ErrSignatureInvalid
	}
	return data, nil
}

// mac is the first 16 bytes of HMAC-SHA256 over data.
func (c *Codec) mac(data []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(data)
	return h.Sum(nil)[:16]
}

func (c *Codec) seal(data []byte) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(c.gcm.Seal(nonce, nonce, data, nil)), nil
}

func (c *Codec) open(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	n := c.gcm.NonceSize()
	if len(raw) < n {
		return nil, ErrInvalidFormat
	}
	data, err := c.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return data, nil
}
