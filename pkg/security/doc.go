// Package security holds the credential primitives of the accounts service:
// bcrypt password hashing, authenticated encryption of recovery tokens,
// JWT session tokens and TOTP second factors.
package security
