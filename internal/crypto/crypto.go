// Package crypto implements the cryptographic primitives the system
// depends on: AES-256-CBC token secrets and bcrypt password verifiers.
// Session signing lives in internal/auth, on top of golang-jwt/jwt/v5's
// HS256 mode (HMAC-SHA256 under the hood, satisfying the "signed (HMAC)"
// session cookie requirement without a second bespoke signing scheme).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenCipher encrypts/decrypts token secrets with a fixed 32-byte
// process-wide key, matching original_source/brain/utils/crypto.py's
// AES-256-CBC scheme and its "<ivhex>:<datahex>" wire format.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher validates the configured key is exactly 32 bytes before
// the process accepts any traffic, matching the original's startup check
// (`if len(ENCRYPT_SECRET.encode("utf-8")) != 32: raise ValueError`).
func NewTokenCipher(key string) (*TokenCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: encryption key must be exactly 32 bytes, got %d", len(key))
	}
	return &TokenCipher{key: []byte(key)}, nil
}

// Encrypt returns "<ivhex>:<datahex>" for plaintext, PKCS#7 padded to the
// AES block size.
func (t *TokenCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(t.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Returns an error if the wire format, IV
// length, or PKCS#7 padding is malformed.
func (t *TokenCipher) Decrypt(wire string) (string, error) {
	parts := strings.SplitN(wire, ":", 2)
	if len(parts) != 2 {
		return "", errors.New("crypto: malformed token ciphertext")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", errors.New("crypto: malformed iv")
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("crypto: malformed ciphertext")
	}

	block, err := aes.NewCipher(t.key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, errors.New("crypto: invalid padded length")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, errors.New("crypto: invalid padding")
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("crypto: invalid padding")
		}
	}
	return data[:n-padLen], nil
}

// HashPassword salts and hashes a plaintext password with bcrypt at a
// work factor of 12, above spec's stated minimum of 10.
func HashPassword(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), 12)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plaintext matches the stored bcrypt hash.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// ConstantTimeEqual compares two preshared-key strings without leaking
// timing information, used by the internal API's key check.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
