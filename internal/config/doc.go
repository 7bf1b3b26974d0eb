// Package config loads process configuration for the crowdauth binaries.
package config
