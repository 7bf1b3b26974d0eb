// Package middleware adapts the crowdauth engine to net/http.
//
// [Authenticate] reads the bearer access token, the refresh token (header,
// then cookie) and the claimed subject from each request, asks the engine for
// a verdict and stores it as an [AuthState] in the request context.
// [RequireAuthenticated] turns an unauthenticated state into a 401.
// [RequestLogger] tags requests with an id and logs them through zap.
//
// No token parsing or store access happens here; every decision is the
// engine's.
package middleware
