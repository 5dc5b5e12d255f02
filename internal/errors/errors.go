package errors

import (
	"errors"
	"fmt"
)

// Application-specific errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrConflict      = errors.New("resource conflict")
	ErrSignature     = errors.New("invalid signature")
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrNotConfigured = errors.New("not configured")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error `json:"errors"`
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Add adds an error to the MultiError
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns nil when nothing was added.
func (e *MultiError) ErrOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return *e
}

// StoreError represents a storage backend failure
type StoreError struct {
	Operation string
	Table     string
	Err       error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store error during %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e StoreError) Unwrap() error {
	return e.Err
}

// IntegrityError is raised when a lookup on a unique field finds more than one row.
type IntegrityError struct {
	Table string
	Field string
	Value string
	Count int
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("expected at most one row in %s where %s=%q, found %d", e.Table, e.Field, e.Value, e.Count)
}

func (e IntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// MissingLinkError names the entity whose customer or account reference is absent.
type MissingLinkError struct {
	Kind     string
	EntityID string
}

func (e MissingLinkError) Error() string {
	return fmt.Sprintf("no %s linked to entity %q", e.Kind, e.EntityID)
}

func (e MissingLinkError) Unwrap() error {
	return ErrNotFound
}

// Redirect failure reasons, sent back to the failure URL as ?reason=
const (
	ReasonOriginMismatch = "origin_mismatch"
	ReasonLinkExpired    = "link_expired"
	ReasonInvalidTarget  = "invalid_target"
)

// RedirectError is a failed return-link validation.
type RedirectError struct {
	Reason string
}

func (e RedirectError) Error() string {
	return "redirect rejected: " + e.Reason
}

// HandlerError wraps a failure inside one fan-out member (syncer, webhook or redirect handler).
type HandlerError struct {
	Handler string
	Err     error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e HandlerError) Unwrap() error {
	return e.Err
}
