package dataengine

// ObjectState names the Object state machine: New -> (save) -> Persisted ->
// (modify) -> Dirty -> (save) -> Persisted -> (delete) -> Deleted.
type ObjectState int

const (
	StateNew ObjectState = iota
	StatePersisted
	StateDirty
	StateDeleted
)

// Object is the runtime row instance, created only via Engine/Graph
// operations (never constructed directly by callers).
type Object struct {
	graph  *Graph
	model  *Model
	env    *Env
	engine *Engine

	previousValues map[string]Value
	currentValues  map[string]Value
	modified       map[string]bool
	selectedFields map[string]bool // nil means "all"
	include        map[string]any  // relation name -> *Object or []*Object

	state                ObjectState
	ignoreRequiredCheck  bool
	mutationDisabled     bool
}

func newObject(engine *Engine, model *Model, env *Env, isNew bool) *Object {
	o := &Object{
		graph:          engine.graph,
		model:          model,
		env:            env,
		engine:         engine,
		previousValues: make(map[string]Value),
		currentValues:  make(map[string]Value),
		modified:       make(map[string]bool),
		include:        make(map[string]any),
	}
	if isNew {
		o.state = StateNew
	} else {
		o.state = StatePersisted
	}
	return o
}

func (o *Object) Model() *Model   { return o.model }
func (o *Object) IsNew() bool     { return o.state == StateNew }
func (o *Object) IsDeleted() bool { return o.state == StateDeleted }
func (o *Object) IsModified() bool { return len(o.modified) > 0 }

// Set assigns a value to a field, running its on_set pipeline. It does not
// persist; call Save to write through the Write Planner and Connector.
func (o *Object) Set(field string, v Value) error {
	if o.state == StateDeleted {
		return ObjectIsDeleted()
	}
	f, ok := o.model.Field(field)
	if !ok {
		return InternalError(errUnknownField(o.model.Path, field))
	}
	out, err := f.OnSet.Run(v, Context{Stage: StageOnSet, FieldPath: field, Object: o, Env: o.env})
	if err != nil {
		return err
	}
	prev, hadPrev := o.currentValues[field]
	o.currentValues[field] = out
	if !hadPrev || !prev.Equal(out) {
		if pv, ok := o.previousValues[field]; !ok || !pv.Equal(out) {
			o.modified[field] = true
		} else {
			delete(o.modified, field)
		}
	}
	if o.state == StatePersisted {
		o.state = StateDirty
	}
	return nil
}

func (o *Object) Get(field string) (Value, bool) {
	v, ok := o.currentValues[field]
	return v, ok
}

// ModifiedFields lists the field names changed since the last committed
// state, in no particular order. Connectors use this to build a minimal
// update document rather than rewriting every scalar field on every save.
func (o *Object) ModifiedFields() []string {
	fields := make([]string, 0, len(o.modified))
	for f := range o.modified {
		fields = append(fields, f)
	}
	return fields
}

// AllFields lists every scalar field name stored on the underlying model,
// the set SaveObject writes in full for a newly created row.
func (o *Object) AllFields() []string {
	fields := make([]string, 0, len(o.model.Fields))
	for _, f := range o.model.Fields {
		if f.Store == StoreCalculated {
			continue
		}
		fields = append(fields, f.Name)
	}
	return fields
}

// EnvForConnector exposes the Object's owning Env to a connector
// implementation, so SaveObject/DeleteObject can detect and join an open
// transaction handle rather than always writing outside one.
func (o *Object) EnvForConnector() *Env { return o.env }

// setCommitted is used by connectors materializing a freshly read row: it
// sets both previous and current to the same value without marking the
// field modified, matching "previous_values reflects the last committed
// row".
func (o *Object) setCommitted(field string, v Value) {
	o.previousValues[field] = v
	o.currentValues[field] = v
}

// SetCommitted is setCommitted exported for connector packages, which cannot
// reach the unexported method directly. A connector materializing a row from
// storage calls this instead of Set so the freshly loaded object starts
// clean (IsModified false, Save a no-op) rather than reporting every scanned
// column as a pending change.
func (o *Object) SetCommitted(field string, v Value) error {
	if _, ok := o.model.Field(field); !ok {
		return InternalError(errUnknownField(o.model.Path, field))
	}
	o.setCommitted(field, v)
	return nil
}

// Freeze marks the object read-only: Save and Delete refuse with
// InvalidOperation rather than writing. Connectors call this after
// materializing a FindUnique/FindMany result under MutationDisabled, per the
// Connector Contract's read-only gate.
func (o *Object) Freeze() { o.mutationDisabled = true }

// Save runs the Write Planner with this object as root. A no-op per the
// save() semantics when the object is already persisted, unmodified, and
// every included object is clean.
func (o *Object) Save() error {
	if o.state == StateDeleted {
		return ObjectIsDeleted()
	}
	if o.mutationDisabled {
		return InvalidOperation("object was loaded read-only; mutation disabled")
	}
	if o.state == StatePersisted && len(o.modified) == 0 && o.includeAllClean() {
		return nil
	}
	planner := &WritePlanner{engine: o.engine}
	if err := planner.Save(o); err != nil {
		return err
	}
	o.state = StatePersisted
	for f, v := range o.currentValues {
		o.previousValues[f] = v
	}
	o.modified = make(map[string]bool)
	return nil
}

func (o *Object) includeAllClean() bool {
	for _, inc := range o.include {
		switch v := inc.(type) {
		case *Object:
			if v.IsModified() || v.IsNew() {
				return false
			}
		case []*Object:
			for _, child := range v {
				if child.IsModified() || child.IsNew() {
					return false
				}
			}
		}
	}
	return true
}

func (o *Object) Delete() error {
	if o.state == StateDeleted {
		return ObjectIsDeleted()
	}
	if o.mutationDisabled {
		return InvalidOperation("object was loaded read-only; mutation disabled")
	}
	if err := o.engine.connector.DeleteObject(o.env.Ctx, o); err != nil {
		return err
	}
	o.state = StateDeleted
	return nil
}

// ToJSON materializes the object's output fields through on_output,
// respecting an optional select set; include graph entries are embedded
// keyed by relation name.
func (o *Object) ToJSON() (map[string]any, error) {
	out := make(map[string]any)
	for _, key := range o.model.OutputKeys {
		if o.selectedFields != nil && !o.selectedFields[key] {
			continue
		}
		f, isField := o.model.Field(key)
		if isField {
			v, ok := o.currentValues[key]
			if !ok {
				continue
			}
			transformed, err := f.OnOutput.Run(v, Context{Stage: StageOnOutput, FieldPath: key, Object: o, Env: o.env})
			if err != nil {
				return nil, err
			}
			if transformed.IsNull() {
				continue
			}
			out[key] = transformed.Raw()
			continue
		}
		if p, isProp := o.model.Property(key); isProp && p.hasGetter() {
			v, ok := o.currentValues[key]
			if !ok {
				continue
			}
			transformed, err := p.Getter.Run(v, Context{Stage: StageOnOutput, FieldPath: key, Object: o, Env: o.env})
			if err != nil {
				return nil, err
			}
			out[key] = transformed.Raw()
		}
	}
	for relName, inc := range o.include {
		switch v := inc.(type) {
		case *Object:
			j, err := v.ToJSON()
			if err != nil {
				return nil, err
			}
			out[relName] = j
		case []*Object:
			list := make([]map[string]any, 0, len(v))
			for _, child := range v {
				j, err := child.ToJSON()
				if err != nil {
					return nil, err
				}
				list = append(list, j)
			}
			out[relName] = list
		}
	}
	return out, nil
}

func errUnknownField(modelPath, field string) error {
	return &Error{Kind: ErrKindInternalError, Message: "unknown field " + field + " on model " + modelPath}
}
