package dataengine

import "testing"

func TestPipelineNilReceiverIsIdentity(t *testing.T) {
	var p *Pipeline
	v, err := p.Run(NewI64(5), Context{})
	if err != nil {
		t.Fatalf("nil pipeline must not error: %v", err)
	}
	if !v.Equal(NewI64(5)) {
		t.Errorf("nil pipeline must return the input unchanged, got %v", v)
	}
}

func TestPipelineRunsStepsInOrder(t *testing.T) {
	var order []string
	p := &Pipeline{}
	p.Append(
		Transform(func(v Value, ctx Context) Value {
			order = append(order, "first")
			return NewI64(v.Int() + 1)
		}),
		Transform(func(v Value, ctx Context) Value {
			order = append(order, "second")
			return NewI64(v.Int() * 2)
		}),
	)
	out, err := p.Run(NewI64(3), Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Int() != 8 {
		t.Errorf("(3+1)*2 = 8, got %d", out.Int())
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("steps ran out of order: %v", order)
	}
}

func TestPipelineAbortsOnFirstError(t *testing.T) {
	ran := false
	p := &Pipeline{}
	p.Append(
		Validate(func(v Value, ctx Context) error {
			return &Error{Kind: ErrKindValidationError, Message: "bad"}
		}),
		Transform(func(v Value, ctx Context) Value {
			ran = true
			return v
		}),
	)
	_, err := p.Run(NewI64(1), Context{})
	if err == nil {
		t.Fatal("expected an error from the first step")
	}
	if ran {
		t.Error("a step after a failing step must never run")
	}
}

func TestPipelineValidatePassesValueThrough(t *testing.T) {
	p := &Pipeline{}
	p.Append(Validate(func(v Value, ctx Context) error { return nil }))
	out, err := p.Run(NewString("x"), Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "x" {
		t.Errorf("Validate must not rewrite the value, got %q", out.String())
	}
}

func TestPipelineCoerceToUsesTargetType(t *testing.T) {
	p := &Pipeline{}
	p.Append(CoerceTo{
		Target: Scalar(TypeI64),
		Coerce: func(v Value, target FieldType) (Value, error) {
			return NewI64(v.Int() + 100), nil
		},
	})
	out, err := p.Run(NewI64(1), Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Int() != 101 {
		t.Errorf("got %d, want 101", out.Int())
	}
}

func TestPipelineReentrantAcrossObjects(t *testing.T) {
	p := &Pipeline{}
	p.Append(Transform(func(v Value, ctx Context) Value { return NewI64(v.Int() + 1) }))
	a, errA := p.Run(NewI64(1), Context{})
	b, errB := p.Run(NewI64(10), Context{})
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v %v", errA, errB)
	}
	if a.Int() != 2 || b.Int() != 11 {
		t.Errorf("concurrent-style reuse of the same Pipeline must not share state: got %d, %d", a.Int(), b.Int())
	}
}
