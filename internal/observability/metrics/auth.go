package metrics

import (
	"time"

	obserrors "github.com/target/studyhub/internal/observability/errors"
	"github.com/target/studyhub/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultOK       = "ok"
	ResultFallback = "fallback"
	ResultError    = "error"
	ResultStale    = "stale"
)

// RoleResolutionMetric describes one role lookup outcome.
type RoleResolutionMetric struct {
	Source   string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitRoleResolution emits role lookup metrics.
func EmitRoleResolution(sink statsd.Sink, in RoleResolutionMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	if in.Source != "" {
		tags["source"] = in.Source
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("auth.role_resolution", 1, tags)
	if in.Duration > 0 {
		sink.Timing("auth.role_resolution.duration", in.Duration, CloneTags(tags))
	}
}

// SessionTransitionMetric describes an auth state transition.
type SessionTransitionMetric struct {
	// Transition is one of "snapshot", "emission", "sign_out", "refresh".
	Transition string
	SignedIn   bool
	Err        error
}

// EmitSessionTransition counts auth state transitions.
func EmitSessionTransition(sink statsd.Sink, in SessionTransitionMetric) {
	if sink == nil {
		return
	}
	result := ResultOK
	if in.Err != nil {
		result = ResultError
	}
	signedIn := "false"
	if in.SignedIn {
		signedIn = "true"
	}
	sink.Count("auth.session_transition", 1, map[string]string{
		"transition": in.Transition,
		"signed_in":  signedIn,
		"result":     result,
	})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k != "" {
			out[k] = v
		}
	}
	return out
}
