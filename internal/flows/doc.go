// Package flows contains the orchestration behind every Engine operation.
//
// Each Run* function takes a typed dependency struct and returns a result
// carrying a failure kind, so the root package can map failures to metrics,
// audit events and sentinel errors without the flows importing it.
//
// Flows hold no state between calls and perform I/O only through their
// dependencies.
package flows
