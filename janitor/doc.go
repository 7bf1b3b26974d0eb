// Package janitor expires refresh sessions and closes ended funding
// campaigns on a fixed interval.
package janitor
