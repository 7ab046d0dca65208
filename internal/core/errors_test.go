package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatNetwork, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories_Retryability(t *testing.T) {
	cases := []struct {
		name      string
		err       *DomainError
		retryable bool
	}{
		{"validation", ErrValidation("C", "m"), false},
		{"not found", ErrNotFound("row", "1"), false},
		{"ticket not found", ErrTicketNotFound("FOB1"), false},
		{"no external id", ErrNoExternalID(3), false},
		{"network", ErrNetwork("m"), true},
		{"verification", ErrVerification("m"), true},
		{"circuit breaker", ErrCircuitBreaker(4, 3), false},
		{"timeout", ErrTimeout("m"), true},
		{"rate limit", ErrRateLimit("m"), true},
		{"state", ErrState("C", "m"), false},
		{"auth", ErrAuth("m"), false},
		{"internal", ErrInternal("C", "m"), false},
	}
	for _, tc := range cases {
		if tc.err.Retryable != tc.retryable {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, tc.err.Retryable, tc.retryable)
		}
	}
}

func TestIsRetryable_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("writing row: %w", ErrNetwork("connection reset"))
	if !IsRetryable(wrapped) {
		t.Fatalf("expected wrapped network error to be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected non-domain error to be non-retryable")
	}
}

func TestGetCategory(t *testing.T) {
	if GetCategory(ErrTicketNotFound("x")) != ErrCatNotFound {
		t.Fatalf("expected not_found category")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("expected internal category for non-domain error")
	}
	if !IsCategory(ErrCircuitBreaker(1, 3), ErrCatCircuitBreaker) {
		t.Fatalf("expected category match")
	}
}

func TestErrTicketNotFound_Details(t *testing.T) {
	err := ErrTicketNotFound("FOB12345")
	if err.Details["external_id"] != "FOB12345" {
		t.Fatalf("expected external id detail, got %v", err.Details)
	}
	if !errors.Is(err, &DomainError{Category: ErrCatNotFound, Code: CodeTicketNotFound}) {
		t.Fatalf("expected match on code")
	}
}
