// Package secrets is deliberately thin: see secrets.go for the full
// API surface.
package secrets
