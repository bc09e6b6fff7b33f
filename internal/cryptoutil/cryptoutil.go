// Package cryptoutil carries the handshake and payload cryptography:
// import of client RSA public keys, session key generation, RSA-OAEP key
// wrapping and AES-CBC payload encryption.
package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
)

const (
	// PublicKeyFieldLen is the fixed wire width of a client public key:
	// the DER bytes of a 1024-bit RSA key, zero-padded to 160.
	PublicKeyFieldLen = 160
	// SessionKeyLen is the AES-256 session key size.
	SessionKeyLen = 32

	rsaBits   = 1024
	blockSize = aes.BlockSize
)

var (
	ErrKeyFormat  = errors.New("cryptoutil: malformed public key")
	ErrKeySize    = errors.New("cryptoutil: wrong key size")
	ErrCiphertext = errors.New("cryptoutil: malformed ciphertext")
)

// Provider is the cryptographic surface the dispatcher depends on. The
// default Suite uses the platform RSA/AES; tests may substitute a
// deterministic implementation.
type Provider interface {
	ImportPublicKey(field []byte) (*rsa.PublicKey, error)
	NewSessionKey() ([]byte, error)
	WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error)
	Encrypt(key, plaintext []byte) ([]byte, error)
	Decrypt(key, ciphertext []byte) ([]byte, error)
}

// Suite is the production Provider.
type Suite struct{}

// ImportPublicKey parses the fixed-width key field. The DER content is
// self-delimiting; trailing zero padding is trimmed by the length header.
// Both PKIX and PKCS#1 encodings of a 1024-bit modulus are accepted.
func (Suite) ImportPublicKey(field []byte) (*rsa.PublicKey, error) {
	if len(field) != PublicKeyFieldLen {
		return nil, fmt.Errorf("%w: field %d bytes", ErrKeySize, len(field))
	}
	der, err := trimDER(field)
	if err != nil {
		return nil, err
	}
	var pub *rsa.PublicKey
	if parsed, perr := x509.ParsePKIXPublicKey(der); perr == nil {
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrKeyFormat)
		}
		pub = rsaPub
	} else if rsaPub, perr := x509.ParsePKCS1PublicKey(der); perr == nil {
		pub = rsaPub
	} else {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, perr)
	}
	if pub.N.BitLen() != rsaBits {
		return nil, fmt.Errorf("%w: %d-bit modulus", ErrKeySize, pub.N.BitLen())
	}
	return pub, nil
}

// trimDER returns the DER element at the start of field, using its length
// header to drop the zero padding behind it.
func trimDER(field []byte) ([]byte, error) {
	if len(field) < 2 || field[0] != 0x30 {
		return nil, fmt.Errorf("%w: no DER sequence", ErrKeyFormat)
	}
	var total int
	switch l := field[1]; {
	case l < 0x80:
		total = 2 + int(l)
	case l == 0x81:
		if len(field) < 3 {
			return nil, fmt.Errorf("%w: truncated length", ErrKeyFormat)
		}
		total = 3 + int(field[2])
	case l == 0x82:
		if len(field) < 4 {
			return nil, fmt.Errorf("%w: truncated length", ErrKeyFormat)
		}
		total = 4 + int(field[2])<<8 + int(field[3])
	default:
		return nil, fmt.Errorf("%w: unsupported length form", ErrKeyFormat)
	}
	if total > len(field) {
		return nil, fmt.Errorf("%w: DER length %d exceeds field", ErrKeyFormat, total)
	}
	return field[:total], nil
}

// ExportPublicKey renders pub as a zero-padded 160-byte field (PKCS#1 DER).
// The server never sends keys; clients and tests use this.
func ExportPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der := x509.MarshalPKCS1PublicKey(pub)
	if len(der) > PublicKeyFieldLen {
		return nil, fmt.Errorf("%w: DER %d bytes", ErrKeySize, len(der))
	}
	field := make([]byte, PublicKeyFieldLen)
	copy(field, der)
	return field, nil
}

// NewSessionKey returns a fresh random 256-bit AES key.
func (Suite) NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// WrapKey encrypts a session key with RSA-OAEP(SHA-256) under pub.
func (Suite) WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	if len(key) != SessionKeyLen {
		return nil, fmt.Errorf("%w: session key %d bytes", ErrKeySize, len(key))
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	return out, nil
}

// Encrypt AES-CBC encrypts plaintext under key. The random IV is prepended
// and the plaintext is PKCS#7 padded.
func (Suite) Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySize, err)
	}
	pad := blockSize - len(plaintext)%blockSize
	buf := make([]byte, blockSize+len(plaintext)+pad)
	iv := buf[:blockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	body := buf[blockSize:]
	copy(body, plaintext)
	for i := len(plaintext); i < len(body); i++ {
		body[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, body)
	return buf, nil
}

// Decrypt reverses Encrypt and strips the padding.
func (Suite) Decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySize, err)
	}
	if len(ciphertext) < 2*blockSize || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertext, len(ciphertext))
	}
	iv, body := ciphertext[:blockSize], ciphertext[blockSize:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	pad := int(out[len(out)-1])
	if pad == 0 || pad > blockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrCiphertext)
	}
	if !bytes.Equal(out[len(out)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, fmt.Errorf("%w: bad padding", ErrCiphertext)
	}
	return out[:len(out)-pad], nil
}
