package dataengine

// Stage names which of the three named pipeline stages a Context is running
// under, so a Transformer can branch on it if it is shared across stages.
type Stage int

const (
	StageOnSet Stage = iota
	StageOnSave
	StageOnOutput
)

// Context is what a Transformer sees: the field path being transformed, the
// owning Object (so a transformer may read sibling fields, never mutate
// them), and the request Env. Context carries no pipeline-invocation state
// of its own beyond these references, so pipelines remain reentrant.
type Context struct {
	Stage     Stage
	FieldPath string
	Object    *Object
	Env       *Env
}

// Transformer is a single step of a Pipeline. It maps (Value, Context) to a
// Value or an error; an error aborts the rest of the pipeline. Decode reports
// an on_set error as a validation error keyed by the field; Object.Set, the
// Write Planner's on_save step and Object.ToJSON return the error unchanged,
// with no field key added.
type Transformer interface {
	Run(v Value, ctx Context) (Value, error)
}

// TransformerFunc adapts a plain function to a Transformer.
type TransformerFunc func(v Value, ctx Context) (Value, error)

func (f TransformerFunc) Run(v Value, ctx Context) (Value, error) { return f(v, ctx) }

// Pipeline is an ordered sequence of Transformers. It holds no per-run state
// so the same Pipeline value may run concurrently across different Objects,
// per the concurrency design's reentrancy requirement.
type Pipeline struct {
	steps []Transformer
}

// Append adds transformers to the end of the pipeline and returns the
// pipeline for chaining, matching the builder's `on_set(func(p *Pipeline){...})`
// closures.
func (p *Pipeline) Append(steps ...Transformer) *Pipeline {
	p.steps = append(p.steps, steps...)
	return p
}

// Run executes every step in order, threading the result of one into the
// next. The first error aborts and is returned as-is (callers are
// responsible for attaching the field path when accumulating into a
// ValidationError).
func (p *Pipeline) Run(v Value, ctx Context) (Value, error) {
	if p == nil {
		return v, nil
	}
	cur := v
	for _, step := range p.steps {
		var err error
		cur, err = step.Run(cur, ctx)
		if err != nil {
			return cur, err
		}
	}
	return cur, nil
}

// The following are the fixed capability interfaces named in the design
// notes ("a small set of user-extension points exposed by capability
// interface"): Transform performs a pure value rewrite, Validate checks
// without rewriting, CoerceTo additionally needs the target FieldType.
// Wrapping one of these in a Transformer keeps the transformer set closed
// over these three shapes rather than open dynamic dispatch.

type Transform func(v Value, ctx Context) Value

func (t Transform) Run(v Value, ctx Context) (Value, error) { return t(v, ctx), nil }

type Validate func(v Value, ctx Context) error

func (vf Validate) Run(v Value, ctx Context) (Value, error) { return v, vf(v, ctx) }

type CoerceTo struct {
	Target FieldType
	Coerce func(v Value, target FieldType) (Value, error)
}

func (c CoerceTo) Run(v Value, ctx Context) (Value, error) { return c.Coerce(v, c.Target) }
