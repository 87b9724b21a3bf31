// Package hasher implements one-way password hashing with PBKDF2-HMAC-SHA512.
//
// Every credential carries its own 16-byte random salt, and the iteration
// count it was created with, so the work factor can be raised without
// invalidating stored passwords (see Hasher.NeedsRehash).
//
// Comparison is constant-time. A wrong password is reported as (false, nil);
// errors are reserved for stored values that cannot be decoded.
//
// Pool wraps a Hasher with a semaphore so concurrent logins cannot consume
// every CPU.
package hasher
