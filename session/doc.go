// Package session persists refresh-token sessions.
//
// A session is the single live refresh token of a subject together with its
// expiry. [Store] is the contract the authentication engine and the janitor
// depend on; [RedisStore] implements it on Redis, and the Postgres store of
// record lives in internal/postgres.
//
// # What this package must NOT do
//
//   - Interpret JWT tokens or decide whether a request is authenticated.
//   - Import crowdauth or jwt (no upward imports).
package session
