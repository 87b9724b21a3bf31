package fieldcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// versionPrefix marks AES-256-GCM payloads with a random nonce.
	// Decrypt rejects anything without it.
	versionPrefix = "v1:"

	keySize = 32
	ivSize  = aes.BlockSize

	kdfIterations = 100_000
)

// appSalt is fixed so that a passphrase always expands to the same key
// material. Changing it makes every stored ciphertext unreadable.
var appSalt = []byte("warden-core/field-cipher/v1")

var (
	// ErrEmptyPassphrase is returned by New when no passphrase is configured.
	ErrEmptyPassphrase = errors.New("field cipher passphrase is empty")

	// ErrDecryption is matched by every *DecryptionError.
	ErrDecryption = errors.New("decryption failed")
)

// DecryptionError reports why a ciphertext could not be opened.
// It never carries key material or plaintext.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecryption) true for any DecryptionError.
func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// KeyMaterial is the key and IV expanded from the passphrase. It is
// derived once in New and never changes. GCM nonces are random, so the IV
// is not used by the current format.
type KeyMaterial struct {
	Key [keySize]byte
	IV  [ivSize]byte
}

// DeriveKeyMaterial expands passphrase into key material with
// PBKDF2-HMAC-SHA256 over the fixed application salt.
// The same passphrase always produces the same material.
func DeriveKeyMaterial(passphrase string) (KeyMaterial, error) {
	if passphrase == "" {
		return KeyMaterial{}, ErrEmptyPassphrase
	}
	out := pbkdf2.Key([]byte(passphrase), appSalt, kdfIterations, keySize+ivSize, sha256.New)

	var km KeyMaterial
	copy(km.Key[:], out[:keySize])
	copy(km.IV[:], out[keySize:])
	return km, nil
}

// Cipher encrypts and decrypts short configuration strings (DSNs, API
// credentials) for storage at rest. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives key material from passphrase and prepares the cipher.
// An empty passphrase is a fatal configuration error.
func New(passphrase string) (*Cipher, error) {
	km, err := DeriveKeyMaterial(passphrase)
	if err != nil {
		return nil, err
	}
	return NewWithKeyMaterial(km)
}

// NewWithKeyMaterial builds a Cipher from already derived material.
func NewWithKeyMaterial(km KeyMaterial) (*Cipher, error) {
	block, err := aes.NewCipher(km.Key[:])
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns "v1:" + base64(nonce || ciphertext || tag).
// The empty string encrypts to the empty string.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Input without the version prefix, malformed
// base64 and any altered byte all fail with a *DecryptionError.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	payload, ok := strings.CutPrefix(ciphertext, versionPrefix)
	if !ok {
		return "", &DecryptionError{Reason: "unsupported format"}
	}
	return c.decryptGCM(payload)
}

// IsEncrypted reports whether s looks like output of Encrypt.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, versionPrefix)
}

func (c *Cipher) decryptGCM(payload string) (string, error) {
	// Strict: non-zero trailing padding bits would otherwise let two
	// encodings open to the same plaintext.
	raw, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64", Err: err}
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", &DecryptionError{Reason: "ciphertext too short"}
	}

	pt, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", &DecryptionError{Reason: "gcm auth/decrypt", Err: err}
	}
	return string(pt), nil
}
