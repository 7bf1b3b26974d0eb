// Package jwt issues and verifies the two HS256 token kinds used by crowdauth:
// short-lived access tokens and long-lived refresh tokens, each signed with its
// own secret.
package jwt
