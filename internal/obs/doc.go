// Package obs sets up process-wide logging and tracing.
package obs
