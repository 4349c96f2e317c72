package dataengine

import "fmt"

// ErrorKind is the Kind tag from the error handling design: field-level
// decoder/pipeline errors accumulate into ValidationError, while connector,
// planner, and state-machine errors abort the request immediately.
type ErrorKind string

const (
	ErrKindValueRequired       ErrorKind = "ValueRequired"
	ErrKindUnexpectedInputValue ErrorKind = "UnexpectedInputValue"
	ErrKindUnexpectedInputKey  ErrorKind = "UnexpectedInputKey"
	ErrKindKeysUnallowed       ErrorKind = "KeysUnallowed"
	ErrKindUnexpectedEnumValue ErrorKind = "UnexpectedEnumValue"
	ErrKindUniqueViolation     ErrorKind = "UniqueViolation"
	ErrKindObjectNotFound      ErrorKind = "ObjectNotFound"
	ErrKindInvalidOperation    ErrorKind = "InvalidOperation"
	ErrKindConnectorError      ErrorKind = "ConnectorError"
	ErrKindConnectorTimeout    ErrorKind = "ConnectorTimeout"
	ErrKindValidationError     ErrorKind = "ValidationError"
	ErrKindObjectIsDeleted     ErrorKind = "ObjectIsDeleted"
	ErrKindPartiallyApplied    ErrorKind = "PartiallyApplied"
	ErrKindInternalError       ErrorKind = "InternalError"
	ErrKindFatal               ErrorKind = "Fatal"
)

// Error is the single error type every exported operation in this module
// returns. Kind drives both HTTP-status mapping (HTTPStatus in actions.go)
// and whether Errors is populated.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string            // set for single-field errors (ValueRequired, UnexpectedEnumValue, ...)
	Index   string            // set by UniqueViolation: the offending unique index name
	Errors  map[string]string // set for ErrKindValidationError: dotted field path -> message
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newFieldError(kind ErrorKind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

// ValueRequired builds the "Value is required." error used across the decoder
// and planner for missing required input, matching the literal message in
// the Required-omitted end-to-end scenario.
func ValueRequired(field string) *Error {
	return newFieldError(ErrKindValueRequired, field, "Value is required.")
}

func UnexpectedEnumValue(field string) *Error {
	return newFieldError(ErrKindUnexpectedEnumValue, field, "Unexpected enum value.")
}

func KeysUnallowed(keys ...string) *Error {
	return &Error{Kind: ErrKindKeysUnallowed, Message: "Unallowed key(s).", Errors: keyList(keys)}
}

func keyList(keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k] = "Unallowed key."
	}
	return m
}

// UniqueViolation builds the "Unique value duplicated." error surfaced by a
// connector's save_object, carrying the offending unique index's field.
func UniqueViolation(field string) *Error {
	return &Error{
		Kind:   ErrKindValidationError,
		Index:  field,
		Errors: map[string]string{field: "Unique value duplicated."},
	}
}

func ObjectNotFound() *Error {
	return &Error{Kind: ErrKindObjectNotFound, Message: "Object not found."}
}

func InvalidOperation(msg string) *Error {
	return &Error{Kind: ErrKindInvalidOperation, Message: msg}
}

func ConnectorError(cause error) *Error {
	return &Error{Kind: ErrKindConnectorError, Message: cause.Error(), Cause: cause}
}

func ConnectorTimeout() *Error {
	return &Error{Kind: ErrKindConnectorTimeout, Message: "Connector operation timed out."}
}

// ValidationErrors merges a set of per-field errors (ValueRequired,
// UnexpectedEnumValue, plain messages, ...) into one ErrKindValidationError,
// per the propagation policy: "never abort a sibling field."
func ValidationErrors(fieldErrs map[string]*Error) *Error {
	if len(fieldErrs) == 0 {
		return nil
	}
	merged := make(map[string]string, len(fieldErrs))
	for field, e := range fieldErrs {
		merged[field] = e.Message
	}
	return &Error{Kind: ErrKindValidationError, Message: "Validation failed.", Errors: merged}
}

func ObjectIsDeleted() *Error {
	return &Error{Kind: ErrKindObjectIsDeleted, Message: "Object is deleted."}
}

// PartiallyApplied reports the last successfully persisted object's identity
// when a non-transactional write plan fails partway through, per the
// cancellation/partial-failure policy in the concurrency design.
func PartiallyApplied(lastPersistedID string) *Error {
	return &Error{Kind: ErrKindPartiallyApplied, Message: "Write plan partially applied.", Field: lastPersistedID}
}

func InternalError(cause error) *Error {
	return &Error{Kind: ErrKindInternalError, Message: "Internal error.", Cause: cause}
}
