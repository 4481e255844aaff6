package riskerr

import (
	"fmt"
)

// Category classifies engine errors by how they must be handled.
type Category string

const (
	// Recoverable locally with conservative defaults, never fatal.
	CategoryDataUnavailable Category = "DATA_UNAVAILABLE"
	CategoryTimeout         Category = "TIMEOUT"

	// Capital-accounting corruption. Must surface loudly.
	CategoryInvariant Category = "INVARIANT"

	// Operator-triggered administrative state.
	CategoryAdmin Category = "ADMIN"

	CategoryValidation Category = "VALIDATION"
	CategoryConfig     Category = "CONFIG"
)

// EngineError is a categorized error with component context.
type EngineError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
}

func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether the error indicates state corruption or a
// misconfiguration that must stop the engine rather than be degraded around.
func (e *EngineError) IsFatal() bool {
	return e.Category == CategoryInvariant || e.Category == CategoryConfig
}

// Recoverable reports whether the decision path may continue with
// conservative defaults in place of the failed data.
func (e *EngineError) Recoverable() bool {
	return e.Category == CategoryDataUnavailable || e.Category == CategoryTimeout
}

// New creates a categorized engine error.
func New(category Category, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// Wrap attaches category and component context to an existing error.
func Wrap(err error, category Category, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
	}
}

// Invariant constructors. Release-without-reserve and double-release mean the
// capital books no longer reconcile, so these are never swallowed.

func NewInvariantError(component, operation, message string) *EngineError {
	return New(CategoryInvariant, component, operation, message)
}

func NewDataUnavailableError(component, operation string, err error) *EngineError {
	return Wrap(err, CategoryDataUnavailable, component, operation)
}

func NewTimeoutError(component, operation string, err error) *EngineError {
	return Wrap(err, CategoryTimeout, component, operation)
}

func NewValidationError(component, operation, message string) *EngineError {
	return New(CategoryValidation, component, operation, message)
}

func NewConfigError(component, operation, message string) *EngineError {
	return New(CategoryConfig, component, operation, message)
}
