// GO TESTING BASICS:
// 1. Test files MUST end in _test.go: Go's tooling auto-discovers them
// 2. Test functions MUST start with "Test" and take *testing.T as the only param
// 3. Same package as the code being tested (so we can access unexported stuff)
// 4. Run with: go test ./internal/apperror/ -v
package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Instead of writing separate test functions, we define a slice of test cases
// and loop over them. Adding a case = adding one struct to the slice.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("scene", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("videoUrl", "video URL is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("user", "email"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Unauthenticated wraps ErrUnauthenticated",
			err:       Unauthenticated("login required"),
			target:    ErrUnauthenticated,
			wantMatch: true,
		},
		{
			name:      "Internal wraps ErrInternal",
			err:       Internal("saving scene", errors.New("disk full")),
			target:    ErrInternal,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("scene", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Forbidden does NOT match ErrUnauthenticated",
			err:       Forbidden("not yours"),
			target:    ErrUnauthenticated,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", ValidationFailed("id", "bad id"), KindInvalidInput},
		{"unauthenticated", Unauthenticated("no token"), KindUnauthenticated},
		{"forbidden", Forbidden("not owner"), KindForbidden},
		{"not found", NotFound("scene", "x"), KindNotFound},
		{"conflict", Conflict("user", "username"), KindConflict},
		{"wrapped not found", fmt.Errorf("loading: %w", NotFound("scene", "x")), KindNotFound},
		{"plain error is internal", errors.New("boom"), KindInternal},
		{"internal helper", Internal("op", errors.New("boom")), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if got := KindInvalidInput.String(); got != "validation_error" {
		t.Errorf("KindInvalidInput.String() = %q", got)
	}
	if got := Kind(99).String(); got != "internal_error" {
		t.Errorf("unknown kind String() = %q, want internal_error", got)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("scene", "abc123"),
			wantMessage: "scene not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("videoUrl", "video URL is required"),
			wantMessage: "video URL is required",
		},
		{
			name:        "Conflict message names the field",
			err:         Conflict("user", "email"),
			wantMessage: "user with this email already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("scene", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestFieldIsSet(t *testing.T) {
	if err := ValidationFailed("email", "invalid email format"); err.Field != "email" {
		t.Errorf("ValidationFailed Field = %q, want %q", err.Field, "email")
	}
	if err := Conflict("user", "username"); err.Field != "username" {
		t.Errorf("Conflict Field = %q, want %q", err.Field, "username")
	}
}
