// Package mocks provides mock implementations for testing the studyhub auth ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	lookup := mocks.NewMockRoleLookup(ctrl)
//	lookup.EXPECT().LookupRole(gomock.Any(), "u1").Return(domainauth.RoleAdmin, nil)
//
// Hand-written fakes with behaviour (stream emission, in-memory stores) live in
// the auth subpackage.
package mocks

// Generate mocks for the role lookup, mirror storage and gateway session store ports.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/studyhub/internal/ports RoleLookup,MirrorStorage,SessionStore
