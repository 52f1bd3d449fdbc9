package authroles

import (
	"context"
	"errors"
	"fmt"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// ErrNoLookups is returned by an empty chain.
var ErrNoLookups = errors.New("no role lookups configured")

// ChainLookup tries each lookup in order and returns the first success.
// When all fail, the joined errors are returned.
type ChainLookup []ports.RoleLookup

var _ ports.RoleLookup = ChainLookup(nil)

// Chain builds a ChainLookup, skipping nil entries.
func Chain(lookups ...ports.RoleLookup) ChainLookup {
	out := make(ChainLookup, 0, len(lookups))
	for _, l := range lookups {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// LookupRole implements ports.RoleLookup.
func (c ChainLookup) LookupRole(ctx context.Context, identityID string) (domainauth.Role, error) {
	if len(c) == 0 {
		return "", ErrNoLookups
	}
	var errs []error
	for i, l := range c {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		role, err := l.LookupRole(ctx, identityID)
		if err == nil {
			return role, nil
		}
		errs = append(errs, fmt.Errorf("lookup %d: %w", i, err))
	}
	return "", errors.Join(errs...)
}
