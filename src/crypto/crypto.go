// Package crypto implements the crypt core: share-code derived fingerprints
// and AES-256-GCM encryption of file chunks and control payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
)

// ShareCodeLength is the exact length a share code must have: "NN-XXXX-XXXX".
const ShareCodeLength = 12

// FingerprintSize is the byte length of a session fingerprint (SHA-256).
const FingerprintSize = 32

// fixedKey is compiled into the binary. It is obfuscation only: it adds no
// confidentiality beyond the share code's own entropy, which is what an
// attacker would actually need to guess. See the design notes on the
// fixed AEAD key.
var fixedKey = [32]byte{
	0x4d, 0x61, 0x79, 0x20, 0x74, 0x68, 0x65, 0x20,
	0x63, 0x6f, 0x64, 0x65, 0x20, 0x62, 0x65, 0x20,
	0x77, 0x69, 0x74, 0x68, 0x20, 0x79, 0x6f, 0x75,
	0x2c, 0x20, 0x66, 0x6c, 0x61, 0x73, 0x68, 0x63,
}

// ErrInvalidShareCode is returned when a share code is not exactly
// ShareCodeLength bytes.
var ErrInvalidShareCode = errors.New("crypto: share code must be exactly 12 characters")

// ErrAuthFailed is returned by Decrypt when the AEAD tag does not verify.
var ErrAuthFailed = errors.New("crypto: authentication failed")

// Codec encrypts and decrypts frames for one share code. The share code
// bytes double as the GCM nonce; confidentiality rests on the share code's
// secrecy, not on nonce uniqueness, so a Codec must stay scoped to a single
// session.
type Codec struct {
	nonce []byte
	gcm   cipher.AEAD
}

// NewCodec builds a Codec for shareCode, which must be exactly
// ShareCodeLength bytes.
func NewCodec(shareCode string) (*Codec, error) {
	if len(shareCode) != ShareCodeLength {
		return nil, ErrInvalidShareCode
	}

	block, err := aes.NewCipher(fixedKey[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if gcm.NonceSize() != ShareCodeLength {
		return nil, errors.New("crypto: nonce size mismatch with share code length")
	}

	return &Codec{
		nonce: []byte(shareCode),
		gcm:   gcm,
	}, nil
}

// Encrypt seals plain with AES-256-GCM using the share code bytes as nonce
// and no additional authenticated data.
func (c *Codec) Encrypt(plain []byte) []byte {
	return c.gcm.Seal(nil, c.nonce, plain, nil)
}

// Decrypt opens cipherText sealed by Encrypt. It returns ErrAuthFailed if
// the authentication tag does not verify.
func (c *Codec) Decrypt(cipherText []byte) ([]byte, error) {
	plain, err := c.gcm.Open(nil, c.nonce, cipherText, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// Fingerprint returns the raw 32-byte SHA-256 digest of the share code.
func Fingerprint(shareCode string) [FingerprintSize]byte {
	return sha256.Sum256([]byte(shareCode))
}

// FingerprintHex returns the hex encoding of Fingerprint(shareCode).
func FingerprintHex(shareCode string) string {
	fp := Fingerprint(shareCode)
	return hex.EncodeToString(fp[:])
}

const shareCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateShareCode produces a new "NN-XXXX-XXXX" share code using
// crypto/rand, matching the wire-nonce length invariant (12 bytes).
func GenerateShareCode() (string, error) {
	digits := make([]byte, 2)
	if _, err := io.ReadFull(rand.Reader, digits); err != nil {
		return "", err
	}

	alnum := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, alnum); err != nil {
		return "", err
	}

	buf := make([]byte, 0, ShareCodeLength)
	buf = append(buf, '0'+digits[0]%10, '0'+digits[1]%10)
	buf = append(buf, '-')
	for i := 0; i < 4; i++ {
		buf = append(buf, shareCodeAlphabet[alnum[i]%byte(len(shareCodeAlphabet))])
	}
	buf = append(buf, '-')
	for i := 4; i < 8; i++ {
		buf = append(buf, shareCodeAlphabet[alnum[i]%byte(len(shareCodeAlphabet))])
	}

	return string(buf), nil
}

// CalculateBytesHash returns the hex-encoded SHA-256 digest of data.
func CalculateBytesHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CalculateReaderHash streams r through SHA-256 and returns the
// hex-encoded digest, without holding the whole input in memory.
func CalculateReaderHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
