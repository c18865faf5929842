// Package apperr defines the typed {code, message, context} errors surfaced by
// workflow operations so UI layers can render consistent messages.
package apperr

import (
	"errors"
	"fmt"
)

// Operation error codes.
const (
	LoadEntityError         = 200
	LoadEntitiesError       = 201
	SaveEntityError         = 202
	DeleteEntityError       = 203
	ControlEntityError      = 210
	TerminateEntityError    = 211
	ValidateEntityError     = 212
	UnvalidateEntityError   = 213
	QualifyEntityError      = 214
	UnqualifyEntityError    = 215
	SynchronizeEntityError  = 220
	SynchronizeEntitiesWarn = 221
)

var messages = map[int]string{
	LoadEntityError:         "ERROR.LOAD_ENTITY_ERROR",
	LoadEntitiesError:       "ERROR.LOAD_ENTITIES_ERROR",
	SaveEntityError:         "ERROR.SAVE_ENTITY_ERROR",
	DeleteEntityError:       "ERROR.DELETE_ENTITY_ERROR",
	ControlEntityError:      "ERROR.CONTROL_ENTITY_ERROR",
	TerminateEntityError:    "ERROR.TERMINATE_ENTITY_ERROR",
	ValidateEntityError:     "ERROR.VALIDATE_ENTITY_ERROR",
	UnvalidateEntityError:   "ERROR.UNVALIDATE_ENTITY_ERROR",
	QualifyEntityError:      "ERROR.QUALIFY_ENTITY_ERROR",
	UnqualifyEntityError:    "ERROR.UNQUALIFY_ENTITY_ERROR",
	SynchronizeEntityError:  "ERROR.SYNCHRONIZE_ENTITY_ERROR",
	SynchronizeEntitiesWarn: "WARNING.SYNCHRONIZE_LOCAL_CLEANUP_FAILED",
}

// Error is the uniform failure shape returned by workflow operations.
type Error struct {
	Code    int
	Message string
	// Context lazily produces diagnostic data (usually a minified entity).
	Context func() any
	cause   error
}

// New builds an Error using the default i18n message for code.
func New(code int, cause error) *Error {
	return &Error{Code: code, Message: MessageFor(code), cause: cause}
}

// WithContext builds an Error carrying a diagnostic context thunk.
func WithContext(code int, cause error, context func() any) *Error {
	err := New(code, cause)
	err.Context = context
	return err
}

// MessageFor returns the i18n key registered for code.
func MessageFor(code int) string {
	if message, ok := messages[code]; ok {
		return message
	}
	return fmt.Sprintf("ERROR.UNKNOWN_%d", code)
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// ContextValue evaluates the context thunk, if any.
func (e *Error) ContextValue() any {
	if e == nil || e.Context == nil {
		return nil
	}
	return e.Context()
}

// Wrap annotates err with code unless it already is an *Error, in which case
// it is returned unchanged so the innermost code wins.
func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return New(code, err)
}

// CodeOf reports the code carried by err, or 0.
func CodeOf(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return 0
}
