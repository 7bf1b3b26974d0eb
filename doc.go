// Package crowdauth is the authentication core of the crowdfunding backend:
// dual HS256 tokens, one persisted refresh session per user, and a per-request
// decision that silently renews expired access tokens.
//
// An [Engine] is assembled with [New] and is safe for concurrent use. Login
// issues a refresh token, persists it through a session store and only then
// returns the access token. Authenticate accepts a valid access token that
// belongs to the claimed subject; when the access token has merely expired it
// falls back to the refresh token, which must match the stored session
// exactly. Logout clears the session so the refresh token stops working at
// once, although already issued access tokens remain valid until they expire.
//
// Expired sessions are removed by the janitor package, never by request
// handling.
//
// Transport adapters live in middleware and internal/httpapi; storage
// backends in session and internal/postgres.
package crowdauth
