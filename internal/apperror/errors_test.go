package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSafeMessage_HidesInternalErrors(t *testing.T) {
	raw := errors.New("Error 1062: Duplicate entry 'x' for key 'users.email'")
	if got := SafeMessage(raw); got != "an unexpected error occurred" {
		t.Errorf("expected generic message, got %q", got)
	}
	if got := SafeMessage(NewNotFound("report not found")); got != "report not found" {
		t.Errorf("expected app error message, got %q", got)
	}
}

func TestSafeCode_UnwrapsWrappedAppErrors(t *testing.T) {
	wrapped := fmt.Errorf("loading study: %w", NewForbidden("no"))
	if got := SafeCode(wrapped); got != http.StatusForbidden {
		t.Errorf("expected 403, got %d", got)
	}
	if got := SafeCode(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got)
	}
}

func TestIsNotFound(t *testing.T) {
	if IsNotFound(nil) {
		t.Error("nil must not be not-found")
	}
	if !IsNotFound(fmt.Errorf("x: %w", NewNotFound("tag not found"))) {
		t.Error("expected wrapped not-found to match")
	}
	if IsNotFound(NewConflict("dup")) {
		t.Error("conflict must not match not-found")
	}
}

func TestNewFieldValidation(t *testing.T) {
	err := NewFieldValidation(map[string]string{"email": "Invalid Email Address"})
	if err.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", err.Code)
	}
	if err.Fields["email"] != "Invalid Email Address" {
		t.Errorf("unexpected fields %v", err.Fields)
	}
}

func TestInternal_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternal(cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}
