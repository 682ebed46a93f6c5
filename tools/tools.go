//go:build tools

// Package tools pins code generators that run through `go run` so their versions follow go.mod.
package tools

import (
	// mockgen regenerates internal/mocks (go generate ./internal/mocks).
	_ "go.uber.org/mock/mockgen"
)

// Installed separately (not tracked in go.mod):
//
// Air - live reload while working on cmd/kerdos
//   Install: go install github.com/air-verse/air@v1.63.0
