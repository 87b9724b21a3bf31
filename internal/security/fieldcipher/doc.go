// Package fieldcipher provides reversible encryption for configuration
// secrets stored at rest, such as database connection strings.
//
// A single passphrase is expanded with PBKDF2 and a fixed application salt
// into a 256-bit key, so the same passphrase always opens the same data.
// Ciphertexts are AES-256-GCM with a random nonce behind a "v1:" prefix.
// Anything else, including unauthenticated formats, is rejected.
package fieldcipher
