package hasher

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters.
const (
	// Algorithm is recorded next to every stored credential.
	Algorithm = "pbkdf2-sha512"

	// MinIterations is the lowest iteration count New accepts.
	MinIterations = 100_000

	keyLen  = 64 // SHA-512 output size
	saltLen = 16
)

var (
	// ErrDecoding is returned when a stored salt or hash is not valid base64.
	ErrDecoding = errors.New("credential decoding failed")

	// ErrWeakParameters is returned by New for an iteration count below MinIterations.
	ErrWeakParameters = errors.New("hash parameters below minimum")

	// ErrUnsupportedAlgorithm is returned when a stored credential names another KDF.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
)

// Credential is the stored form of a password.
// Salt and Hash are standard base64.
type Credential struct {
	Salt       string
	Hash       string
	Iterations int
	Algorithm  string
}

// Hasher derives and verifies PBKDF2-HMAC-SHA512 password hashes.
// A Hasher is immutable and safe for concurrent use.
type Hasher struct {
	iterations int
}

// New returns a Hasher that uses the given iteration count for new hashes.
func New(iterations int) (*Hasher, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d iterations, need at least %d", ErrWeakParameters, iterations, MinIterations)
	}
	return &Hasher{iterations: iterations}, nil
}

// Iterations returns the count applied to newly created credentials.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// GenerateSalt returns 16 bytes from crypto/rand, base64 encoded.
func (h *Hasher) GenerateSalt() (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// Hash derives the base64 hash of password under salt. The result is
// deterministic for a fixed (password, salt, iterations).
func (h *Hasher) Hash(password, salt string) (string, error) {
	key, err := derive(password, salt, h.iterations)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Verify reports whether password matches storedHash under salt.
//
// A mismatch is (false, nil). Only malformed stored values produce an error.
func (h *Hasher) Verify(password, storedHash, salt string) (bool, error) {
	return verify(password, storedHash, salt, h.iterations)
}

// NewCredential hashes password under a fresh salt.
// Call it on every password change; salts are never reused.
func (h *Hasher) NewCredential(password string) (Credential, error) {
	salt, err := h.GenerateSalt()
	if err != nil {
		return Credential{}, err
	}
	hash, err := h.Hash(password, salt)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		Salt:       salt,
		Hash:       hash,
		Iterations: h.iterations,
		Algorithm:  Algorithm,
	}, nil
}

// VerifyCredential checks password against a stored credential using the
// iteration count it was created with.
func (h *Hasher) VerifyCredential(password string, cred Credential) (bool, error) {
	if cred.Algorithm != "" && cred.Algorithm != Algorithm {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, cred.Algorithm)
	}
	iterations := cred.Iterations
	if iterations == 0 {
		iterations = h.iterations
	}
	return verify(password, cred.Hash, cred.Salt, iterations)
}

// NeedsRehash reports whether cred was created with weaker parameters than
// the hasher currently uses.
func (h *Hasher) NeedsRehash(cred Credential) bool {
	return cred.Algorithm != Algorithm || cred.Iterations < h.iterations
}

func verify(password, storedHash, salt string, iterations int) (bool, error) {
	want, err := base64.StdEncoding.DecodeString(storedHash)
	if err != nil {
		return false, fmt.Errorf("%w: hash: %w", ErrDecoding, err)
	}
	got, err := derive(password, salt, iterations)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func derive(password, salt string, iterations int) ([]byte, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %w", ErrDecoding, err)
	}
	return pbkdf2.Key([]byte(password), rawSalt, iterations, keyLen, sha512.New), nil
}
