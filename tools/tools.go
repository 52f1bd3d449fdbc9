//go:build tools
// +build tools

// Package tools documents development tool dependencies.
// These tools are run with `go run` or installed via `go install` and are not
// tracked as runtime dependencies.
package tools

// Development tools:
//
// mockgen - regenerates internal/mocks/ports_mock.go
//   Run: go generate ./internal/mocks
//   Version: go.uber.org/mock v0.6.0 (matches go.mod)
//
// Air - live reload for the gateway during local development
//   Install: go install github.com/air-verse/air@v1.63.0
//   Build: go build -o ./tmp/studyhub ./cmd/studyhub
