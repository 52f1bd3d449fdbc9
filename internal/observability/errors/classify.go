// Package errors turns errors into low-cardinality class names for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// Known classes. Anything else is tagged with the innermost error's type name.
const (
	ClassTimeout     = "timeout"
	ClassCanceled    = "canceled"
	ClassNotFound    = "not_found"
	ClassUnknownRole = "unknown_role"
	ClassNetwork     = "network"
)

// Classify returns a normalized error class for tagging metrics and logs.
// Sentinels from the auth stack map to fixed classes; other errors use the
// innermost concrete type, lower-cased with dots replaced by underscores.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case goerrors.Is(err, context.Canceled):
		return ClassCanceled
	case goerrors.Is(err, ports.ErrNotFound):
		return ClassNotFound
	case goerrors.Is(err, domainauth.ErrUnknownRole):
		return ClassUnknownRole
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	return typeName(innermost(err))
}

// innermost follows single-error unwrapping and the first branch of joined errors.
func innermost(err error) error {
	for {
		switch u := err.(type) { //nolint:errorlint // walking the chain by hand
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return err
			}
			err = errs[0]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
