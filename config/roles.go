package config

import (
	"fmt"
	"strings"
)

// RoleSource names a role lookup backend.
type RoleSource string

const (
	// RoleSourceDB reads the users table.
	RoleSourceDB RoleSource = "db"
	// RoleSourceBackend asks the Backend API.
	RoleSourceBackend RoleSource = "backend"
	// RoleSourceClaims evaluates the role claim expression against the session.
	RoleSourceClaims RoleSource = "claims"
)

// ValidRoleSources returns all valid role source names.
func ValidRoleSources() []RoleSource {
	return []RoleSource{RoleSourceDB, RoleSourceBackend, RoleSourceClaims}
}

// ParseRoleSources parses a comma-delimited list of role sources, keeping
// order and dropping duplicates. An empty list is valid and means every
// identity resolves to the default role.
func ParseRoleSources(raw string) ([]RoleSource, error) {
	var sources []RoleSource
	seen := make(map[RoleSource]bool)

	for _, part := range strings.Split(raw, ",") {
		name := RoleSource(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		switch name {
		case RoleSourceDB, RoleSourceBackend, RoleSourceClaims:
		default:
			return nil, fmt.Errorf("invalid role source: %q (valid options: %v)", name, ValidRoleSources())
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		sources = append(sources, name)
	}
	return sources, nil
}
