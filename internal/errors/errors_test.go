package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{name: "message only", err: NotFound("user not found"), want: "user not found"},
		{
			name: "with cause",
			err:  Wrap(errors.New("connection reset"), ErrCodeInternal, "lookup failed"),
			want: "lookup failed: connection reset",
		},
		{name: "formatted", err: NotFoundf("user %s not found", "u1"), want: "user u1 not found"},
		{name: "percent without args", err: Validation("100% wrong"), want: "100% wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("root")
	err := Wrapf(cause, ErrCodeTimeout, "call %d", 3)
	if !errors.Is(err, cause) {
		t.Fatal("Wrapf should preserve cause for errors.Is")
	}
	if !IsTimeout(err) {
		t.Errorf("code = %q, want timeout", err.Code)
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil || Wrapf(nil, ErrCodeInternal, "x") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestIsHelpers_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", NotFound("missing"))
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through fmt wrapping")
	}
	if IsConflict(wrapped) || IsValidation(wrapped) || IsUnauthorized(wrapped) || IsCanceled(wrapped) {
		t.Error("other helpers should not match")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("GetCode on a plain error should be empty")
	}
	if GetField(ValidationField("email", "bad")) != "email" {
		t.Error("GetField should return the field")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Conflict("x"), http.StatusConflict},
		{Validation("x"), http.StatusBadRequest},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Forbidden("x"), http.StatusForbidden},
		{Wrap(errors.New("t"), ErrCodeTimeout, "x"), http.StatusGatewayTimeout},
		{Internal("x"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
