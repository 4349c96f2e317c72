package dataengine

import (
	"context"

	"go.uber.org/zap"
)

// Engine is the immutable, process-wide handle replacing the original
// application's mutable singleton (design note: "Global mutable context").
// It is built once via New and never mutated afterward; Graph is read-only
// at request time and Connector pooling is the connector's own
// responsibility.
type Engine struct {
	graph     *Graph
	connector Connector
	config    Config
	log       *zap.Logger
}

// New builds the Graph from builder, connects and migrates the given
// Connector, and returns the immutable Engine handle. Config's ConnectorURL
// and LogLevel drive the connector and logger respectively.
func New(ctx context.Context, cfg Config, connector Connector, build func(*Builder)) (*Engine, error) {
	b := NewBuilder()
	build(b)
	graph, err := b.Finalize()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, InternalError(err)
	}

	if err := connector.Connect(ctx, cfg.ConnectorURL); err != nil {
		return nil, ConnectorError(err)
	}
	if err := connector.Migrate(ctx, graph.Models(), cfg.ResetOnMigrate); err != nil {
		return nil, ConnectorError(err)
	}

	e := &Engine{graph: graph, connector: connector, config: cfg, log: log}
	if fr, ok := connector.(FactoryReceiver); ok {
		fr.SetFactory(e)
	}
	return e, nil
}

func (e *Engine) Graph() *Graph       { return e.graph }
func (e *Engine) Connector() Connector { return e.connector }
func (e *Engine) Logger() *zap.Logger { return e.log }

// NewObject implements ObjectFactory for connectors materializing rows.
func (e *Engine) NewObject(m *Model, env *Env, isNew bool) *Object {
	return newObject(e, m, env, isNew)
}

// Create decodes payload against model, builds a new Object, and saves it
// through the Write Planner.
func (e *Engine) Create(env *Env, modelPath string, payload map[string]any) (*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	plan, err := Decode(e.graph, m, payload, true, nil)
	if err != nil {
		return nil, err
	}
	obj := e.NewObject(m, env, true)
	if err := applyInputPlan(obj, plan); err != nil {
		return nil, err
	}
	if err := obj.Save(); err != nil {
		return nil, err
	}
	return obj, nil
}

// Update decodes payload against an existing object located by where, and
// saves the merged plan.
func (e *Engine) Update(env *Env, modelPath string, where UniqueFilter, payload map[string]any) (*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	existing, err := e.connector.FindUnique(env.Ctx, m, where, MutationEnabled)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ObjectNotFound()
	}
	plan, err := Decode(e.graph, m, payload, false, existing)
	if err != nil {
		return nil, err
	}
	if err := applyInputPlan(existing, plan); err != nil {
		return nil, err
	}
	if err := existing.Save(); err != nil {
		return nil, err
	}
	return existing, nil
}

func applyInputPlan(obj *Object, plan *InputPlan) error {
	for field, v := range plan.SetFields {
		if err := obj.Set(field, v); err != nil {
			return err
		}
	}
	for relName, directive := range plan.Nested {
		obj.include[relName] = directive // realized by the Write Planner at Save time
	}
	return nil
}

// FindUnique locates a single row by a unique filter. q is optional
// (nil means "every output field, no relations embedded"); when given, its
// Select and Include are applied to the result the same way FindMany applies
// them to a page, per the Query Compiler's select/include post-processor.
func (e *Engine) FindUnique(env *Env, modelPath string, where UniqueFilter, q *QueryRequest) (*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	obj, err := e.connector.FindUnique(env.Ctx, m, where, MutationDisabled)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ObjectNotFound()
	}
	if q != nil {
		applySelect(obj, q.Select)
		if err := e.resolveIncludes(env, m, []*Object{obj}, q.Include); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (e *Engine) FindMany(env *Env, modelPath string, q *QueryRequest) ([]*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	normalizePaging(q)
	q.OrderBy = withOrderingTiebreak(m, q.OrderBy)
	rows, err := e.connector.FindMany(env.Ctx, m, q, MutationDisabled)
	if err != nil {
		return nil, err
	}
	rows = applyDistinct(rows, q.Distinct)
	for _, row := range rows {
		applySelect(row, q.Select)
	}
	if err := e.resolveIncludes(env, m, rows, q.Include); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) Count(env *Env, modelPath string, where *Where) (int64, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return 0, err
	}
	return e.connector.Count(env.Ctx, m, where)
}

func (e *Engine) Aggregate(env *Env, modelPath string, spec *AggregateSpec) (map[string]Value, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	return e.connector.Aggregate(env.Ctx, m, spec)
}

func (e *Engine) GroupBy(env *Env, modelPath string, spec *GroupBySpec) ([]map[string]Value, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	return e.connector.GroupBy(env.Ctx, m, spec)
}

// Delete removes the row located by where and returns the deleted object;
// ToJSON and Get remain legal on it after deletion; Set, Save and Delete
// refuse with ObjectIsDeleted.
func (e *Engine) Delete(env *Env, modelPath string, where UniqueFilter) (*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	obj, err := e.connector.FindUnique(env.Ctx, m, where, MutationEnabled)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ObjectNotFound()
	}
	if err := obj.Delete(); err != nil {
		return nil, err
	}
	return obj, nil
}

// Upsert updates the row located by where when it exists, otherwise creates
// one from createPayload. The two payloads are decoded independently against
// the model's create and update input shapes.
func (e *Engine) Upsert(env *Env, modelPath string, where UniqueFilter, createPayload, updatePayload map[string]any) (*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	existing, err := e.connector.FindUnique(env.Ctx, m, where, MutationEnabled)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return e.Create(env, modelPath, createPayload)
	}
	plan, err := Decode(e.graph, m, updatePayload, false, existing)
	if err != nil {
		return nil, err
	}
	if err := applyInputPlan(existing, plan); err != nil {
		return nil, err
	}
	if err := existing.Save(); err != nil {
		return nil, err
	}
	return existing, nil
}

// CreateMany creates one object per payload, in order, aborting on the first
// failure. Each create runs its own write plan; callers needing all-or-nothing
// semantics wrap the call in Connector.Transaction themselves.
func (e *Engine) CreateMany(env *Env, modelPath string, payloads []map[string]any) ([]*Object, error) {
	out := make([]*Object, 0, len(payloads))
	for _, payload := range payloads {
		obj, err := e.Create(env, modelPath, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// UpdateMany applies one decoded update payload to every row matching where.
func (e *Engine) UpdateMany(env *Env, modelPath string, where *Where, payload map[string]any) ([]*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	rows, err := e.connector.FindMany(env.Ctx, m, &QueryRequest{Where: where}, MutationEnabled)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		plan, err := Decode(e.graph, m, payload, false, row)
		if err != nil {
			return nil, err
		}
		if err := applyInputPlan(row, plan); err != nil {
			return nil, err
		}
		if err := row.Save(); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// DeleteMany removes every row matching where, returning how many went.
func (e *Engine) DeleteMany(env *Env, modelPath string, where *Where) (int64, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return 0, err
	}
	rows, err := e.connector.FindMany(env.Ctx, m, &QueryRequest{Where: where}, MutationEnabled)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, row := range rows {
		if err := row.Delete(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// SignIn authenticates against a model carrying an AuthIdentity field: the
// credentials map supplies exactly one identity-field value plus any number
// of checker fields, each of which is run through its own on_save pipeline
// (so a hashed password compares hash-to-hash) and compared with the stored
// value. On success env.Identity is set to the matched object and the object
// is returned.
func (e *Engine) SignIn(env *Env, modelPath string, credentials map[string]any) (*Object, error) {
	m, err := e.graph.Model(modelPath)
	if err != nil {
		return nil, err
	}
	var identityField *Field
	var identityRaw any
	checkers := make(map[string]any)
	for key, raw := range credentials {
		f, ok := m.Field(key)
		if !ok {
			return nil, KeysUnallowed(key)
		}
		if f.AuthIdentity {
			if identityField != nil {
				return nil, InvalidOperation("multiple identity fields supplied")
			}
			identityField = f
			identityRaw = raw
			continue
		}
		checkers[key] = raw
	}
	if identityField == nil {
		return nil, InvalidOperation("no identity field supplied")
	}
	identityValue, err := coerceField(e.graph, identityRaw, identityField)
	if err != nil {
		return nil, err
	}
	obj, err := e.connector.FindUnique(env.Ctx, m, UniqueFilter{identityField.Name: identityValue}, MutationDisabled)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ValidationErrors(map[string]*Error{
			identityField.Name: {Kind: ErrKindValidationError, Field: identityField.Name, Message: "Authentication failed."},
		})
	}
	for key, raw := range checkers {
		f, _ := m.Field(key)
		candidate, err := coerceField(e.graph, raw, f)
		if err != nil {
			return nil, err
		}
		if f.OnSave != nil {
			candidate, err = f.OnSave.Run(candidate, Context{Stage: StageOnSave, FieldPath: key, Object: obj, Env: env})
			if err != nil {
				return nil, err
			}
		}
		stored, ok := obj.Get(key)
		if !ok || !stored.Equal(candidate) {
			return nil, ValidationErrors(map[string]*Error{
				key: {Kind: ErrKindValidationError, Field: key, Message: "Authentication failed."},
			})
		}
	}
	env.Identity = obj
	return obj, nil
}

// Identity returns the object SignIn bound to env, or ObjectNotFound when the
// env carries none (or one for a different model).
func (e *Engine) Identity(env *Env, modelPath string) (*Object, error) {
	obj, ok := env.Identity.(*Object)
	if !ok || obj == nil {
		return nil, ObjectNotFound()
	}
	if obj.model.Path != modelPath {
		return nil, ObjectNotFound()
	}
	return obj, nil
}
