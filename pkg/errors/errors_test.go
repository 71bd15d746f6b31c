package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestBaseError(t *testing.T) {
	t.Run("creates error with all fields", func(t *testing.T) {
		cause := errors.New("underlying error")
		metadata := map[string]any{"key": "value"}

		err := NewBaseError("test", "test_code", "test message", true, cause, metadata)

		if err.Domain() != "test" {
			t.Errorf("expected domain 'test', got '%s'", err.Domain())
		}
		if err.Code() != "test_code" {
			t.Errorf("expected code 'test_code', got '%s'", err.Code())
		}
		if !err.Retryable() {
			t.Error("expected error to be retryable")
		}
		if err.Unwrap() != cause {
			t.Error("expected error to wrap cause")
		}
		if err.Metadata()["key"] != "value" {
			t.Error("expected metadata to be preserved")
		}
		if err.Timestamp().IsZero() {
			t.Error("expected timestamp to be set")
		}
	})

	t.Run("formats error message correctly", func(t *testing.T) {
		tests := []struct {
			name     string
			cause    error
			expected string
		}{
			{
				name:     "without cause",
				cause:    nil,
				expected: "[test:test_code] test message",
			},
			{
				name:     "with cause",
				cause:    errors.New("underlying"),
				expected: "[test:test_code] test message: underlying",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := NewBaseError("test", "test_code", "test message", false, tt.cause, nil)
				if err.Error() != tt.expected {
					t.Errorf("expected '%s', got '%s'", tt.expected, err.Error())
				}
			})
		}
	})

	t.Run("metadata is copied, not shared", func(t *testing.T) {
		base := NewBaseError("test", "test_code", "test message", false, nil, nil)
		withKey := base.WithMetadata("key1", "value1").WithMetadata("key2", 42)

		if withKey.Metadata()["key1"] != "value1" {
			t.Errorf("expected key1='value1', got '%v'", withKey.Metadata()["key1"])
		}
		if withKey.Metadata()["key2"] != 42 {
			t.Errorf("expected key2=42, got '%v'", withKey.Metadata()["key2"])
		}
		if len(base.Metadata()) != 0 {
			t.Errorf("original metadata was mutated: %v", base.Metadata())
		}
	})
}

func TestHostErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"system exit", NewSystemExit("fatal", nil), IsSystemExit, ErrCodeSystemExit},
		{"execution timeout", NewExecutionTimeout("too slow", nil), IsExecutionTimeout, ErrCodeExecutionTimeout},
		{"execution failure", NewExecutionFailure("too many failures", nil), IsExecutionFailure, ErrCodeExecutionFailure},
		{"not found", NewNotFoundError("no such node", nil), IsNotFound, ErrCodeNotFound},
		{"config", NewConfigError("missing key", nil), IsConfigError, ErrCodeCloudConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("predicate did not match %v", tt.err)
			}
			if GetErrorCode(tt.err) != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, GetErrorCode(tt.err))
			}

			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("predicate did not match through fmt wrapping")
			}
		})
	}
}

func TestIsErrorCodeWalksChain(t *testing.T) {
	timeout := NewExecutionTimeout("unable to get IP", nil)
	exit := NewSystemExit("node creation aborted", timeout)

	if !IsSystemExit(exit) {
		t.Error("expected system exit at the top of the chain")
	}
	if !IsExecutionTimeout(exit) {
		t.Error("expected execution timeout further down the chain")
	}
	if IsNotFound(exit) {
		t.Error("did not expect not_found in the chain")
	}
}

func TestMessage(t *testing.T) {
	err := NewSystemExit("No IP addresses could be found.", nil)
	if got := Message(err); got != "No IP addresses could be found." {
		t.Errorf("unexpected message %q", got)
	}
	if got := Message(errors.New("plain")); got != "plain" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Message(nil); got != "" {
		t.Errorf("expected empty message for nil, got %q", got)
	}
}

func TestUnknownErrors(t *testing.T) {
	plain := errors.New("boom")
	if IsDomainError(plain) {
		t.Error("plain error is not a domain error")
	}
	if IsRetryable(plain) {
		t.Error("plain error is not retryable")
	}
	if GetErrorCode(plain) != "unknown" || GetErrorDomain(plain) != "unknown" {
		t.Error("expected unknown code and domain")
	}
}
