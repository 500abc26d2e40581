package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindNetwork, "rest.call", "connection failed",
				errors.New("dial tcp: refused")),
			contains: []string{"[network:rest.call]", "connection failed", "dial tcp: refused"},
		},
		{
			name:     "error without cause",
			err:      New(KindValidation, "verification.submit", "PIN must be exactly 6 digits"),
			contains: []string{"[validation:verification.submit]", "PIN must be exactly 6 digits"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindServer, "test", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestWrapKeepsTypedError(t *testing.T) {
	inner := New(KindUnauthenticated, "auth.refresh", "no refresh token")
	outer := Wrap(KindNetwork, "rest.call", "ignored", inner)
	if outer != inner {
		t.Fatalf("expected Wrap to return the typed error unchanged, got %v", outer)
	}
	if Wrap(KindNetwork, "op", "msg", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindValidation, "test", "message"),
			kind:     KindValidation,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      Wrap(KindServer, "test", "message", errors.New("cause")),
			kind:     KindServer,
			expected: true,
		},
		{
			name:     "typed error behind fmt wrapping",
			err:      errorsJoin(New(KindAttemptBudget, "test", "exhausted")),
			kind:     KindAttemptBudget,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindConfig, "test", "message"),
			kind:     KindDomain,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	err := New(KindServer, "rest.call", "Invalid PIN").WithStatus(400, "invalid_pin")
	if got := StatusOf(errorsJoin(err)); got != 400 {
		t.Fatalf("StatusOf = %d, want 400", got)
	}
	if err.Code != "invalid_pin" {
		t.Fatalf("Code = %q", err.Code)
	}
	if StatusOf(errors.New("plain")) != 0 {
		t.Fatal("plain errors carry no status")
	}
	if KindOf(nil) != KindUnknown {
		t.Fatal("KindOf(nil) should be unknown")
	}
}

func errorsJoin(err error) error {
	return errors.Join(errors.New("context"), err)
}
