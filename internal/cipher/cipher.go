// Package cipher implements the symmetric codec that wraps every log
// record published to Kafka. The scheme is AES-256-GCM with a fresh
// random nonce per encryption; the nonce travels in the envelope next to
// the ciphertext.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"logpipe/pkg/models"
)

const KeySize = 32

// Reason classifies why a decryption was refused. Both reasons are
// non-retriable for the message in question.
type Reason string

const (
	// AuthenticationFailed means the GCM tag did not verify: the
	// ciphertext was tampered with or encrypted under a different key.
	AuthenticationFailed Reason = "authentication_failed"
	// Malformed means the envelope itself is structurally invalid.
	Malformed Reason = "malformed"
)

type DecryptError struct {
	Reason Reason
	cause  error
}

func (e *DecryptError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("decrypt failed (%s): %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("decrypt failed (%s)", e.Reason)
}

func (e *DecryptError) Unwrap() error {
	return e.cause
}

// Codec holds the AEAD built from the shared key. Safe for concurrent
// use; the key is read-only after construction.
type Codec struct {
	aead gocipher.AEAD
}

func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NewFromKeyFile loads the base64-encoded key from a mounted secret file.
// Any failure here is fatal at startup.
func NewFromKeyFile(path string) (*Codec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cipher key file %s: %w", path, err)
	}
	key, err := decodeKey(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid cipher key in %s: %w", path, err)
	}
	return New(key)
}

// decodeKey accepts standard and url-safe base64, padded or not.
func decodeKey(encoded string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(encoded); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("key is not valid base64")
}

// Encrypt seals the plaintext under a fresh nonce. No envelope is ever
// produced from a failed encryption.
func (c *Codec) Encrypt(plaintext []byte) (models.Envelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return models.Envelope{
		Nonce:      nonce,
		Ciphertext: c.aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens an envelope. Structural problems come back as Malformed,
// tag verification failures as AuthenticationFailed.
func (c *Codec) Decrypt(env models.Envelope) ([]byte, error) {
	if len(env.Nonce) != c.aead.NonceSize() {
		return nil, &DecryptError{
			Reason: Malformed,
			cause:  fmt.Errorf("nonce is %d bytes, want %d", len(env.Nonce), c.aead.NonceSize()),
		}
	}
	if len(env.Ciphertext) < c.aead.Overhead() {
		return nil, &DecryptError{
			Reason: Malformed,
			cause:  fmt.Errorf("ciphertext shorter than the %d byte tag", c.aead.Overhead()),
		}
	}
	plaintext, err := c.aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, &DecryptError{Reason: AuthenticationFailed, cause: err}
	}
	return plaintext, nil
}

// GenerateKey returns a fresh base64-encoded key, handy for provisioning.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
