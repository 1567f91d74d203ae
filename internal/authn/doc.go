// Package authn issues and verifies session tokens and hashes passwords.
//
// Tokens are HS256 JWTs whose subject is the user id and which carry the
// user's role. Requests present them as a bearer Authorization header or
// in the "token" cookie; the middleware here resolves them into a
// Principal stored in the request context.
package authn
