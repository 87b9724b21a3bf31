// Package auth provides authentication and authorisation for Warden.
//
// Authentication:
//   - PBKDF2-SHA512 password credentials (see internal/security/hasher),
//     verified on a bounded worker pool and upgraded on login
//   - JWT access/refresh pairs with per-kind secrets, refresh rotation
//     and family-based reuse detection backed by the refresh_tokens table
//   - login throttling per username through a RateLimiter
//
// Authorisation is role based for menus and per user for UI elements.
// A menu is visible when one of the user's roles is granted it, and every
// ancestor of a visible menu is kept so the tree stays navigable. UI
// elements are never granted through roles.
//
// Access tokens cannot be revoked. Logout and password changes revoke
// refresh sessions only; outstanding access tokens remain valid until
// their TTL runs out.
package auth
