package dataengine

import (
	"errors"
	"testing"
)

func TestValidationErrorsMergesFieldErrors(t *testing.T) {
	errs := map[string]*Error{
		"name":  ValueRequired("name"),
		"email": UnexpectedEnumValue("email"),
	}
	merged := ValidationErrors(errs)
	if merged.Kind != ErrKindValidationError {
		t.Fatalf("expected ErrKindValidationError, got %v", merged.Kind)
	}
	if len(merged.Errors) != 2 {
		t.Fatalf("expected 2 merged field errors, got %d", len(merged.Errors))
	}
	if merged.Errors["name"] != "Value is required." {
		t.Errorf("name message = %q", merged.Errors["name"])
	}
}

func TestValidationErrorsEmptyReturnsNil(t *testing.T) {
	if ValidationErrors(nil) != nil {
		t.Error("no field errors must yield a nil *Error, not an empty ValidationError")
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	e := ConnectorError(cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is must see through Unwrap to the wrapped cause")
	}
}

func TestErrorMessageIncludesField(t *testing.T) {
	e := ValueRequired("title")
	msg := e.Error()
	if msg == "" {
		t.Fatal("Error() must not be empty")
	}
	if e.Field != "title" {
		t.Errorf("Field = %q, want title", e.Field)
	}
}

func TestUniqueViolationNamesIndex(t *testing.T) {
	e := UniqueViolation("email")
	if e.Index != "email" {
		t.Errorf("Index = %q, want email", e.Index)
	}
	if e.Errors["email"] != "Unique value duplicated." {
		t.Errorf("unexpected message: %q", e.Errors["email"])
	}
}
