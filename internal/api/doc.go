// Package api implements the HTTP REST API for Warden Core.
//
// This package provides:
//   - Session endpoints: login, refresh rotation, logout, password change
//   - The caller's resolved permissions (roles, menu tree, UI elements)
//   - Administration of menus, role and element grants, and the audit trail
//   - Middleware stack (request ID, logging, recovery, CORS, metrics, bearer auth)
//
// # Security
//
// Protected routes require an access token in the Authorization header.
// Administration routes additionally require the admin role, read from the
// token claims. Every credential or token failure produces the same 401
// body so callers learn nothing about which check failed.
//
// Refresh tokens are only accepted by the refresh and logout endpoints and
// are never valid as bearer tokens.
package api
