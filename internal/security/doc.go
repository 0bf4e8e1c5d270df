// Package security implements the trigger security gate: constant-time
// shared token comparison and HMAC-SHA256 signed payload verification.
//
// The gate fails closed on missing or malformed configuration and returns
// a typed rejection reason instead of leaking partial-match information.
package security
