package dataengine

import (
	"fmt"

	"go.uber.org/zap"
)

// Action names one entry of the uniform action surface a transport posts to
// `/{model-url-segment}/action` as `{"action": <Name>, ...params}`. The
// transport itself lives outside this module; Dispatcher is the table it
// calls into.
type Action string

const (
	ActionCreate     Action = "Create"
	ActionFindUnique Action = "FindUnique"
	ActionFindFirst  Action = "FindFirst"
	ActionFindMany   Action = "FindMany"
	ActionUpdate     Action = "Update"
	ActionUpsert     Action = "Upsert"
	ActionDelete     Action = "Delete"
	ActionCreateMany Action = "CreateMany"
	ActionUpdateMany Action = "UpdateMany"
	ActionDeleteMany Action = "DeleteMany"
	ActionCount      Action = "Count"
	ActionAggregate  Action = "Aggregate"
	ActionGroupBy    Action = "GroupBy"
	ActionSignIn     Action = "SignIn"
	ActionIdentity   Action = "Identity"
)

// Meta carries list-action metadata alongside data.
type Meta struct {
	Count *int64 `json:"count,omitempty"`
}

func countMeta(n int64) *Meta { return &Meta{Count: &n} }

// ErrorBody is the wire shape of a failed response's "error" key.
type ErrorBody struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Response is the uniform response envelope: {"data": ...} on success,
// {"error": {...}} on failure, with optional {"meta": {"count": n}}.
type Response struct {
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
	Meta  *Meta      `json:"meta,omitempty"`
}

// HTTPStatus maps an ErrorKind to the status code the transport should
// respond with. Unknown kinds map to 500.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case ErrKindValueRequired, ErrKindUnexpectedInputValue, ErrKindUnexpectedInputKey,
		ErrKindKeysUnallowed, ErrKindUnexpectedEnumValue, ErrKindUniqueViolation,
		ErrKindValidationError, ErrKindInvalidOperation, ErrKindObjectIsDeleted:
		return 400
	case ErrKindObjectNotFound:
		return 404
	default:
		return 500
	}
}

// Handler is the capability interface one dispatch-table entry implements.
// Custom actions install additional Handler entries on the Dispatcher the
// same way the defaults are installed.
type Handler interface {
	Handle(env *Env, m *Model, params map[string]any) (data any, meta *Meta, err error)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(env *Env, m *Model, params map[string]any) (any, *Meta, error)

func (f HandlerFunc) Handle(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
	return f(env, m, params)
}

type dispatchKey struct {
	model  string
	action Action
}

// Dispatcher is the table from (model, action) to Handler. NewDispatcher
// installs the default handler set for every model in the graph; Install
// adds or overrides entries for custom actions.
type Dispatcher struct {
	engine *Engine
	table  map[dispatchKey]Handler
}

func NewDispatcher(e *Engine) *Dispatcher {
	d := &Dispatcher{engine: e, table: make(map[dispatchKey]Handler)}
	defaults := defaultHandlers(e)
	for _, m := range e.graph.Models() {
		for action, h := range defaults {
			d.Install(m.Path, action, h)
		}
	}
	return d
}

func (d *Dispatcher) Install(modelPath string, action Action, h Handler) {
	d.table[dispatchKey{model: modelPath, action: action}] = h
}

// Dispatch resolves the model by URL segment, pulls "action" out of the body,
// and runs the matching handler, folding any error into the response
// envelope. It never returns a Go error; transports translate the envelope
// via HTTPStatus.
func (d *Dispatcher) Dispatch(env *Env, urlSegment string, body map[string]any) *Response {
	m, err := d.engine.graph.ModelByURLSegment(urlSegment)
	if err != nil {
		return d.errorResponse(ObjectNotFound())
	}
	actionName, _ := body["action"].(string)
	if actionName == "" {
		return d.errorResponse(InvalidOperation("missing action"))
	}
	h, ok := d.table[dispatchKey{model: m.Path, action: Action(actionName)}]
	if !ok {
		return d.errorResponse(InvalidOperation("unknown action " + actionName))
	}
	params := make(map[string]any, len(body))
	for k, v := range body {
		if k != "action" {
			params[k] = v
		}
	}
	data, meta, err := h.Handle(env, m, params)
	if err != nil {
		return d.errorResponse(err)
	}
	return &Response{Data: data, Meta: meta}
}

// errorResponse builds the failure envelope. Field-attributable 4xx errors
// carry their errors map; 5xx responses carry only the message and are
// logged at error level with the full cause chain.
func (d *Dispatcher) errorResponse(err error) *Response {
	e, ok := err.(*Error)
	if !ok {
		e = InternalError(err)
	}
	body := &ErrorBody{Type: string(e.Kind), Message: e.Message}
	if HTTPStatus(e.Kind) < 500 {
		body.Errors = e.Errors
	} else if d.engine.log != nil {
		d.engine.log.Error("action failed",
			zap.String("kind", string(e.Kind)),
			zap.Error(e),
			zap.NamedError("cause", e.Cause),
		)
	}
	return &Response{Error: body}
}

func defaultHandlers(e *Engine) map[Action]Handler {
	return map[Action]Handler{
		ActionCreate: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			payload, err := objectParam(params, "create")
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.Create(env, m.Path, payload)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionFindUnique: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := uniqueParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			q, err := ParseQueryRequest(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.FindUnique(env, m.Path, where, q)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionFindFirst: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			q, err := ParseQueryRequest(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.FindFirst(env, m.Path, q)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionFindMany: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			q, err := ParseQueryRequest(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			rows, err := e.FindMany(env, m.Path, q)
			if err != nil {
				return nil, nil, err
			}
			data, err := rowsToJSON(rows)
			if err != nil {
				return nil, nil, err
			}
			return data, countMeta(int64(len(rows))), nil
		}),
		ActionUpdate: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := uniqueParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			payload, err := objectParam(params, "update")
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.Update(env, m.Path, where, payload)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionUpsert: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := uniqueParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			create, err := objectParam(params, "create")
			if err != nil {
				return nil, nil, err
			}
			update, err := objectParam(params, "update")
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.Upsert(env, m.Path, where, create, update)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionDelete: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := uniqueParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.Delete(env, m.Path, where)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionCreateMany: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			payloads, err := objectListParam(params, "create")
			if err != nil {
				return nil, nil, err
			}
			rows, err := e.CreateMany(env, m.Path, payloads)
			if err != nil {
				return nil, nil, err
			}
			data, err := rowsToJSON(rows)
			if err != nil {
				return nil, nil, err
			}
			return data, countMeta(int64(len(rows))), nil
		}),
		ActionUpdateMany: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := whereParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			payload, err := objectParam(params, "update")
			if err != nil {
				return nil, nil, err
			}
			rows, err := e.UpdateMany(env, m.Path, where, payload)
			if err != nil {
				return nil, nil, err
			}
			data, err := rowsToJSON(rows)
			if err != nil {
				return nil, nil, err
			}
			return data, countMeta(int64(len(rows))), nil
		}),
		ActionDeleteMany: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := whereParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			n, err := e.DeleteMany(env, m.Path, where)
			if err != nil {
				return nil, nil, err
			}
			return n, countMeta(n), nil
		}),
		ActionCount: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			where, err := whereParam(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			n, err := e.Count(env, m.Path, where)
			if err != nil {
				return nil, nil, err
			}
			return n, nil, nil
		}),
		ActionAggregate: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			spec, err := parseAggregateSpec(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			result, err := e.Aggregate(env, m.Path, spec)
			if err != nil {
				return nil, nil, err
			}
			return valueMapToJSON(result), nil, nil
		}),
		ActionGroupBy: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			spec, err := parseGroupBySpec(e.graph, m, params)
			if err != nil {
				return nil, nil, err
			}
			groups, err := e.GroupBy(env, m.Path, spec)
			if err != nil {
				return nil, nil, err
			}
			out := make([]map[string]any, 0, len(groups))
			for _, g := range groups {
				out = append(out, valueMapToJSON(g))
			}
			return out, countMeta(int64(len(out))), nil
		}),
		ActionSignIn: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			credentials, err := objectParam(params, "credentials")
			if err != nil {
				return nil, nil, err
			}
			obj, err := e.SignIn(env, m.Path, credentials)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
		ActionIdentity: HandlerFunc(func(env *Env, m *Model, params map[string]any) (any, *Meta, error) {
			obj, err := e.Identity(env, m.Path)
			if err != nil {
				return nil, nil, err
			}
			data, err := obj.ToJSON()
			return data, nil, err
		}),
	}
}

func rowsToJSON(rows []*Object) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		j, err := row.ToJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func valueMapToJSON(m map[string]Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Raw()
	}
	return out
}

func objectParam(params map[string]any, key string) (map[string]any, error) {
	raw, ok := params[key]
	if !ok {
		return nil, InvalidOperation("missing " + key)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, InvalidOperation(key + " must be an object")
	}
	return obj, nil
}

func objectListParam(params map[string]any, key string) ([]map[string]any, error) {
	raw, ok := params[key]
	if !ok {
		return nil, InvalidOperation("missing " + key)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, InvalidOperation(key + " must be an array")
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, InvalidOperation(key + " entries must be objects")
		}
		out = append(out, obj)
	}
	return out, nil
}

func uniqueParam(g *Graph, m *Model, params map[string]any) (UniqueFilter, error) {
	raw, err := objectParam(params, "where")
	if err != nil {
		return nil, err
	}
	filter, err := parseUniqueFilter(g, m, raw)
	if err != nil {
		return nil, err
	}
	return filter, nil
}

func whereParam(g *Graph, m *Model, params map[string]any) (*Where, error) {
	raw, ok := params["where"]
	if !ok {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, InvalidOperation("where must be an object")
	}
	return ParseWhere(g, m, obj)
}

// ParseQueryRequest decodes the uniform query params (where, orderBy, take,
// skip, pageSize, pageNumber, cursor, distinct, select, include) from a raw
// action body into a QueryRequest. Validation of the paging constraints
// happens later, in QueryRequest.Validate.
func ParseQueryRequest(g *Graph, m *Model, params map[string]any) (*QueryRequest, error) {
	q := &QueryRequest{}
	var err error
	if q.Where, err = whereParam(g, m, params); err != nil {
		return nil, err
	}
	if raw, ok := params["orderBy"]; ok {
		if q.OrderBy, err = parseOrderBy(m, raw); err != nil {
			return nil, err
		}
	}
	for key, dst := range map[string]**int{
		"take": &q.Take, "skip": &q.Skip, "pageSize": &q.PageSize, "pageNumber": &q.PageNumber,
	} {
		raw, ok := params[key]
		if !ok {
			continue
		}
		f, ok := toFloat(raw)
		if !ok || f != float64(int(f)) {
			return nil, InvalidOperation(key + " must be an integer")
		}
		n := int(f)
		*dst = &n
	}
	if raw, ok := params["cursor"]; ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, InvalidOperation("cursor must be an object")
		}
		filter, err := parseUniqueFilter(g, m, obj)
		if err != nil {
			return nil, err
		}
		q.Cursor = filter
	}
	if raw, ok := params["distinct"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, InvalidOperation("distinct must be an array of field names")
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, InvalidOperation("distinct entries must be field names")
			}
			q.Distinct = append(q.Distinct, s)
		}
	}
	if raw, ok := params["select"]; ok {
		if q.Select, err = parseFieldSet(raw, "select"); err != nil {
			return nil, err
		}
	}
	if raw, ok := params["include"]; ok {
		if q.Include, err = parseFieldSet(raw, "include"); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func parseFieldSet(raw any, key string) (map[string]bool, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, InvalidOperation(key + " must be an object of field: true pairs")
	}
	out := make(map[string]bool, len(obj))
	for field, v := range obj {
		b, ok := v.(bool)
		if !ok {
			return nil, InvalidOperation(key + "." + field + " must be a bool")
		}
		if b {
			out[field] = true
		}
	}
	return out, nil
}

func parseOrderBy(m *Model, raw any) ([]OrderTerm, error) {
	entries, ok := raw.([]any)
	if !ok {
		// a single {field: "asc"} object is accepted as shorthand
		entries = []any{raw}
	}
	var out []OrderTerm
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, InvalidOperation("orderBy entries must be objects")
		}
		for field, dirRaw := range obj {
			if !stringSliceContains(m.SortKeys, field) {
				return nil, InvalidOperation("field " + field + " is not sortable")
			}
			dir, ok := dirRaw.(string)
			if !ok {
				return nil, InvalidOperation("orderBy direction must be \"asc\" or \"desc\"")
			}
			switch dir {
			case "asc":
				out = append(out, OrderTerm{Field: field, Direction: Asc})
			case "desc":
				out = append(out, OrderTerm{Field: field, Direction: Desc})
			default:
				return nil, InvalidOperation("orderBy direction must be \"asc\" or \"desc\"")
			}
		}
	}
	return out, nil
}

// aggregate term keys accepted in Aggregate/GroupBy bodies: each maps a list
// of field names to one AggregateOp ("_count" also accepts true for a bare
// row count).
var aggregateOpKeys = []struct {
	key string
	op  AggregateOp
}{
	{"_count", AggCount},
	{"_sum", AggSum},
	{"_avg", AggAvg},
	{"_min", AggMin},
	{"_max", AggMax},
}

func parseAggregateTerms(m *Model, params map[string]any) ([]AggregateTerm, error) {
	var terms []AggregateTerm
	for _, ak := range aggregateOpKeys {
		raw, ok := params[ak.key]
		if !ok {
			continue
		}
		if b, isBool := raw.(bool); isBool {
			if ak.op != AggCount {
				return nil, InvalidOperation(ak.key + " must be an array of field names")
			}
			if b {
				terms = append(terms, AggregateTerm{Op: AggCount})
			}
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, InvalidOperation(ak.key + " must be an array of field names")
		}
		for _, item := range list {
			field, ok := item.(string)
			if !ok {
				return nil, InvalidOperation(ak.key + " entries must be field names")
			}
			if _, exists := m.Field(field); !exists {
				return nil, InvalidOperation(fmt.Sprintf("unknown field %q in %s", field, ak.key))
			}
			terms = append(terms, AggregateTerm{Op: ak.op, Field: field})
		}
	}
	if len(terms) == 0 {
		return nil, InvalidOperation("no aggregate terms supplied")
	}
	return terms, nil
}

func parseAggregateSpec(g *Graph, m *Model, params map[string]any) (*AggregateSpec, error) {
	where, err := whereParam(g, m, params)
	if err != nil {
		return nil, err
	}
	terms, err := parseAggregateTerms(m, params)
	if err != nil {
		return nil, err
	}
	return &AggregateSpec{Where: where, Terms: terms}, nil
}

func parseGroupBySpec(g *Graph, m *Model, params map[string]any) (*GroupBySpec, error) {
	byRaw, ok := params["by"].([]any)
	if !ok {
		return nil, InvalidOperation("by must be an array of field names")
	}
	spec := &GroupBySpec{}
	for _, item := range byRaw {
		field, ok := item.(string)
		if !ok {
			return nil, InvalidOperation("by entries must be field names")
		}
		if _, exists := m.Field(field); !exists {
			return nil, InvalidOperation(fmt.Sprintf("unknown field %q in by", field))
		}
		spec.By = append(spec.By, field)
	}
	var err error
	if spec.Where, err = whereParam(g, m, params); err != nil {
		return nil, err
	}
	if spec.Terms, err = parseAggregateTerms(m, params); err != nil {
		return nil, err
	}
	if raw, ok := params["having"]; ok {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, InvalidOperation("having must be an object")
		}
		if spec.Having, err = ParseWhere(g, m, obj); err != nil {
			return nil, err
		}
	}
	return spec, nil
}
