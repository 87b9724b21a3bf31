// Package config loads Warden configuration from a YAML file, then applies
// WARDEN_* environment overrides and validates the result.
//
// The JWT secrets and the field cipher passphrase have no defaults. Load
// fails with ErrConfiguration when either is missing, so a node never
// starts with a guessable signing key. Prefer supplying them through the
// environment or a .env file, and keep the YAML file at mode 0600.
//
// Values such as the database path or the broker password may be stored
// encrypted (see fieldcipher). Load returns them as written; the caller
// decrypts after the cipher is built from the loaded passphrase.
package config
