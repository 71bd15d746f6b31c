package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in ddcloud
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "cloud", "provider", "api")
	Domain() string

	// Code returns a stable error code
	Code() string

	// Retryable indicates if the operation can be retried
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Message() string          { return e.message }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error carrying the extra key
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Host error kinds surfaced to the orchestrator
	ErrCodeCloudConfig      = "cloud_config"
	ErrCodeNotFound         = "not_found"
	ErrCodeSystemExit       = "system_exit"
	ErrCodeExecutionFailure = "execution_failure"
	ErrCodeExecutionTimeout = "execution_timeout"

	// Provider errors
	ErrCodeProvisionFailed   = "provision_failed"
	ErrCodeDestructionFailed = "destruction_failed"
	ErrCodeInvalidCall       = "invalid_call"

	// Remote API errors
	ErrCodeAPI          = "api_error"
	ErrCodeAPIDecode    = "api_decode"
	ErrCodeRateLimit    = "rate_limit_exceeded"
	ErrCodeNetworkError = "network_error"

	// Bootstrap errors
	ErrCodeSSHConnection = "ssh_connection"
	ErrCodeSSHTimeout    = "ssh_timeout"
	ErrCodeSSHCommand    = "ssh_command_failed"

	// System errors
	ErrCodeCache         = "cache_error"
	ErrCodeFileOperation = "file_operation_error"
)

// Domain Constants
const (
	DomainCloud    = "cloud"
	DomainProvider = "provider"
	DomainAPI      = "api"
	DomainSSH      = "ssh"
	DomainConfig   = "config"
	DomainCache    = "cache"
	DomainSystem   = "system"
)

// NewConfigError reports a missing or invalid cloud configuration value
func NewConfigError(message string, cause error) DomainError {
	return NewBaseError(DomainConfig, ErrCodeCloudConfig, message, false, cause, nil)
}

// NewNotFoundError reports a resource the provider does not know about
func NewNotFoundError(message string, cause error) DomainError {
	return NewBaseError(DomainCloud, ErrCodeNotFound, message, false, cause, nil)
}

// NewSystemExit is a fatal, user visible failure; the orchestrator stops
func NewSystemExit(message string, cause error) DomainError {
	return NewBaseError(DomainCloud, ErrCodeSystemExit, message, false, cause, nil)
}

// NewExecutionFailure reports that a polled operation failed too many times
func NewExecutionFailure(message string, cause error) DomainError {
	return NewBaseError(DomainCloud, ErrCodeExecutionFailure, message, false, cause, nil)
}

// NewExecutionTimeout reports that a polled operation ran out of time
func NewExecutionTimeout(message string, cause error) DomainError {
	return NewBaseError(DomainCloud, ErrCodeExecutionTimeout, message, true, cause, nil)
}

// NewProviderError creates a standardized provider error
func NewProviderError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainProvider, code, message, retryable, cause, nil)
}

// NewAPIError creates a standardized remote API error
func NewAPIError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainAPI, code, message, retryable, cause, nil)
}

// NewSSHError creates a standardized bootstrap transport error
func NewSSHError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSSH, code, message, retryable, cause, nil)
}

// NewCacheError creates a standardized cache error
func NewCacheError(message string, cause error) DomainError {
	return NewBaseError(DomainCache, ErrCodeCache, message, true, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var domainErr DomainError
	return errors.As(err, &domainErr)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable()
	}
	return false
}

// GetErrorCode returns the code of the outermost DomainError, or "unknown"
func GetErrorCode(err error) string {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code()
	}
	return "unknown"
}

// GetErrorDomain returns the domain of the outermost DomainError, or "unknown"
func GetErrorDomain(err error) string {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Domain()
	}
	return "unknown"
}

// IsErrorCode checks if any error in the chain has the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if domainErr, ok := err.(DomainError); ok && domainErr.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsSystemExit(err error) bool       { return IsErrorCode(err, ErrCodeSystemExit) }
func IsExecutionTimeout(err error) bool { return IsErrorCode(err, ErrCodeExecutionTimeout) }
func IsExecutionFailure(err error) bool { return IsErrorCode(err, ErrCodeExecutionFailure) }
func IsNotFound(err error) bool         { return IsErrorCode(err, ErrCodeNotFound) }
func IsConfigError(err error) bool      { return IsErrorCode(err, ErrCodeCloudConfig) }

// Message returns the bare message of a DomainError without the domain/code prefix
func Message(err error) string {
	var base *BaseError
	if errors.As(err, &base) {
		return base.message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
