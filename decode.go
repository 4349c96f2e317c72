package dataengine

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func stringSliceContains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// RelationDirectiveKind tags the RelationDirective union named in the Input
// Decoder component design.
type RelationDirectiveKind int

const (
	DirectiveCreate RelationDirectiveKind = iota
	DirectiveCreateMany
	DirectiveConnectOrCreate
	DirectiveConnect
	DirectiveSet
	DirectiveDisconnect
	DirectiveDelete
	DirectiveDeleteMany
	DirectiveUpdate
	DirectiveUpdateMany
	DirectiveUpsert
)

// UniqueFilter is a where-clause keyed exactly by some unique index's
// fields.
type UniqueFilter map[string]Value

// RelationDirective is the tagged union of nested-write operations a caller
// may request for one relation.
type RelationDirective struct {
	Kind RelationDirectiveKind

	Create     *InputPlan
	CreateMany []*InputPlan

	ConnectOrCreateWhere  UniqueFilter
	ConnectOrCreateCreate *InputPlan

	ConnectFilter UniqueFilter
	SetFilters    []UniqueFilter

	DisconnectAll    bool
	DisconnectFilter UniqueFilter

	DeleteAll    bool
	DeleteFilter UniqueFilter

	DeleteManyWhere *Where

	UpdateWhere UniqueFilter
	UpdatePlan  *InputPlan

	UpdateManyWhere *Where
	UpdateManyPlan  *InputPlan

	UpsertWhere  UniqueFilter
	UpsertCreate *InputPlan
	UpsertUpdate *InputPlan
}

// InputPlan is the decoded, validated shape of a mutation payload.
type InputPlan struct {
	Model     *Model
	SetFields map[string]Value
	Nested    map[string]*RelationDirective
}

// Decode normalizes a raw JSON-shaped payload (map[string]any, as produced by
// encoding/json.Unmarshal into `any`) against a model's input shape,
// producing a typed InputPlan. set_json's partial-failure rule applies:
// every field error is collected before returning.
func Decode(g *Graph, m *Model, payload map[string]any, isCreate bool, existing *Object) (*InputPlan, error) {
	plan := &InputPlan{Model: m, SetFields: make(map[string]Value), Nested: make(map[string]*RelationDirective)}
	fieldErrs := make(map[string]*Error)

	allowed := make(map[string]bool, len(m.InputKeys))
	for _, k := range m.InputKeys {
		allowed[k] = true
	}

	var unallowedKeys []string
	for key := range payload {
		if !allowed[key] {
			unallowedKeys = append(unallowedKeys, key)
		}
	}
	if len(unallowedKeys) > 0 {
		return nil, KeysUnallowed(unallowedKeys...)
	}

	for _, f := range m.Fields {
		raw, present := payload[f.Name]
		if !present {
			if isCreate && !f.Optional && !f.inputOmissible() {
				fieldErrs[f.Name] = ValueRequired(f.Name)
			}
			continue
		}
		if f.WriteRule == WriteNone {
			return nil, KeysUnallowed(f.Name)
		}
		if f.WriteRule == WriteOnce && existing != nil {
			if _, hadValue := existing.previousValues[f.Name]; hadValue {
				fieldErrs[f.Name] = &Error{Kind: ErrKindInvalidOperation, Field: f.Name, Message: "Field is write-once."}
				continue
			}
		}
		if f.WriteRule == WriteOnCreate && !isCreate {
			return nil, KeysUnallowed(f.Name)
		}
		if raw == nil {
			if f.WriteRule == WriteNonNull {
				fieldErrs[f.Name] = &Error{Kind: ErrKindInvalidOperation, Field: f.Name, Message: "Field rejects explicit null."}
				continue
			}
			if !f.Optional {
				fieldErrs[f.Name] = &Error{Kind: ErrKindUnexpectedInputValue, Field: f.Name, Message: "Unexpected null value."}
				continue
			}
			plan.SetFields[f.Name] = Null()
			continue
		}
		v, err := coerceField(g, raw, f)
		if err != nil {
			fieldErrs[f.Name] = &Error{Kind: ErrKindUnexpectedInputValue, Field: f.Name, Message: err.Error()}
			continue
		}
		if f.OnSet != nil {
			if _, err := f.OnSet.Run(v, Context{Stage: StageOnSet, FieldPath: f.Name, Object: existing}); err != nil {
				msg := err.Error()
				if perr, ok := err.(*Error); ok {
					msg = perr.Message
				}
				fieldErrs[f.Name] = &Error{Kind: ErrKindValidationError, Field: f.Name, Message: msg}
				continue
			}
		}
		plan.SetFields[f.Name] = v
	}

	for _, r := range m.Relations {
		raw, present := payload[r.Name]
		if !present {
			continue
		}
		directive, err := decodeRelationDirective(g, m, r, raw)
		if err != nil {
			fieldErrs[r.Name] = &Error{Kind: ErrKindUnexpectedInputValue, Field: r.Name, Message: err.Error()}
			continue
		}
		plan.Nested[r.Name] = directive
	}

	if len(fieldErrs) > 0 {
		return nil, ValidationErrors(fieldErrs)
	}

	applyDefaultsAndCompute(plan, m, isCreate)

	return plan, nil
}

func applyDefaultsAndCompute(plan *InputPlan, m *Model, isCreate bool) {
	if !isCreate {
		return
	}
	for _, f := range m.Fields {
		if _, set := plan.SetFields[f.Name]; set {
			continue
		}
		if f.Default != nil {
			plan.SetFields[f.Name] = *f.Default
		}
	}
}

// relationPeerModel resolves the model a relation directive's nested payload
// should decode against: the directly-referenced model, or for a
// through-relation, the model on the far side of the through model's
// opposite relation.
func relationPeerModel(g *Graph, r *Relation) (*Model, error) {
	if r.isDirect() {
		return g.Model(r.ModelPath)
	}
	return g.Model(r.ModelPath)
}

// decodeRelationDirective recognizes the single-key shape
// {"create": {...}}, {"connect": {...}}, etc. against the RelationDirective
// union, recursively decoding nested payloads (InputPlans, UniqueFilters,
// Where clauses) against the relation's peer model. Unknown shapes return an
// error rather than being silently ignored.
func decodeRelationDirective(g *Graph, owner *Model, r *Relation, raw any) (*RelationDirective, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errCoerce("relation directive must be an object")
	}
	peer, err := relationPeerModel(g, r)
	if err != nil {
		return nil, err
	}
	d := &RelationDirective{}

	if v, ok := obj["create"]; ok {
		d.Kind = DirectiveCreate
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("create must be an object")
		}
		plan, err := Decode(g, peer, sub, true, nil)
		if err != nil {
			return nil, err
		}
		d.Create = plan
		return d, nil
	}
	if v, ok := obj["createMany"]; ok {
		d.Kind = DirectiveCreateMany
		list, ok := v.([]any)
		if !ok {
			return nil, errCoerce("createMany must be an array")
		}
		for _, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				return nil, errCoerce("createMany entries must be objects")
			}
			plan, err := Decode(g, peer, sub, true, nil)
			if err != nil {
				return nil, err
			}
			d.CreateMany = append(d.CreateMany, plan)
		}
		return d, nil
	}
	if v, ok := obj["connectOrCreate"]; ok {
		d.Kind = DirectiveConnectOrCreate
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("connectOrCreate must be an object")
		}
		whereRaw, ok := sub["where"].(map[string]any)
		if !ok {
			return nil, errCoerce("connectOrCreate.where must be an object")
		}
		createRaw, ok := sub["create"].(map[string]any)
		if !ok {
			return nil, errCoerce("connectOrCreate.create must be an object")
		}
		where, err := parseUniqueFilter(g, peer, whereRaw)
		if err != nil {
			return nil, err
		}
		plan, err := Decode(g, peer, createRaw, true, nil)
		if err != nil {
			return nil, err
		}
		d.ConnectOrCreateWhere = where
		d.ConnectOrCreateCreate = plan
		return d, nil
	}
	if v, ok := obj["connect"]; ok {
		d.Kind = DirectiveConnect
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("connect must be an object")
		}
		where, err := parseUniqueFilter(g, peer, sub)
		if err != nil {
			return nil, err
		}
		d.ConnectFilter = where
		return d, nil
	}
	if v, ok := obj["set"]; ok {
		d.Kind = DirectiveSet
		list, ok := v.([]any)
		if !ok {
			return nil, errCoerce("set must be an array")
		}
		for _, item := range list {
			sub, ok := item.(map[string]any)
			if !ok {
				return nil, errCoerce("set entries must be objects")
			}
			where, err := parseUniqueFilter(g, peer, sub)
			if err != nil {
				return nil, err
			}
			d.SetFilters = append(d.SetFilters, where)
		}
		return d, nil
	}
	if v, ok := obj["disconnect"]; ok {
		d.Kind = DirectiveDisconnect
		if b, ok := v.(bool); ok {
			d.DisconnectAll = b
			return d, nil
		}
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("disconnect must be a bool or an object")
		}
		where, err := parseUniqueFilter(g, peer, sub)
		if err != nil {
			return nil, err
		}
		d.DisconnectFilter = where
		return d, nil
	}
	if v, ok := obj["delete"]; ok {
		d.Kind = DirectiveDelete
		if b, ok := v.(bool); ok {
			d.DeleteAll = b
			return d, nil
		}
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("delete must be a bool or an object")
		}
		where, err := parseUniqueFilter(g, peer, sub)
		if err != nil {
			return nil, err
		}
		d.DeleteFilter = where
		return d, nil
	}
	if v, ok := obj["deleteMany"]; ok {
		d.Kind = DirectiveDeleteMany
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("deleteMany must be an object")
		}
		where, err := ParseWhere(g, peer, sub)
		if err != nil {
			return nil, err
		}
		d.DeleteManyWhere = where
		return d, nil
	}
	if v, ok := obj["update"]; ok {
		d.Kind = DirectiveUpdate
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("update must be an object")
		}
		whereRaw, dataRaw, err := splitWhereData(sub)
		if err != nil {
			return nil, err
		}
		where, err := parseUniqueFilter(g, peer, whereRaw)
		if err != nil {
			return nil, err
		}
		plan, err := Decode(g, peer, dataRaw, false, nil)
		if err != nil {
			return nil, err
		}
		d.UpdateWhere = where
		d.UpdatePlan = plan
		return d, nil
	}
	if v, ok := obj["updateMany"]; ok {
		d.Kind = DirectiveUpdateMany
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("updateMany must be an object")
		}
		whereRaw, dataRaw, err := splitWhereData(sub)
		if err != nil {
			return nil, err
		}
		where, err := ParseWhere(g, peer, whereRaw)
		if err != nil {
			return nil, err
		}
		plan, err := Decode(g, peer, dataRaw, false, nil)
		if err != nil {
			return nil, err
		}
		d.UpdateManyWhere = where
		d.UpdateManyPlan = plan
		return d, nil
	}
	if v, ok := obj["upsert"]; ok {
		d.Kind = DirectiveUpsert
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errCoerce("upsert must be an object")
		}
		whereRaw, ok := sub["where"].(map[string]any)
		if !ok {
			return nil, errCoerce("upsert.where must be an object")
		}
		createRaw, ok := sub["create"].(map[string]any)
		if !ok {
			return nil, errCoerce("upsert.create must be an object")
		}
		updateRaw, ok := sub["update"].(map[string]any)
		if !ok {
			return nil, errCoerce("upsert.update must be an object")
		}
		where, err := parseUniqueFilter(g, peer, whereRaw)
		if err != nil {
			return nil, err
		}
		createPlan, err := Decode(g, peer, createRaw, true, nil)
		if err != nil {
			return nil, err
		}
		updatePlan, err := Decode(g, peer, updateRaw, false, nil)
		if err != nil {
			return nil, err
		}
		d.UpsertWhere = where
		d.UpsertCreate = createPlan
		d.UpsertUpdate = updatePlan
		return d, nil
	}
	return nil, errCoerce("unrecognized relation directive keys")
}

func splitWhereData(sub map[string]any) (map[string]any, map[string]any, error) {
	whereRaw, ok := sub["where"].(map[string]any)
	if !ok {
		return nil, nil, errCoerce("missing where object")
	}
	dataRaw, ok := sub["data"].(map[string]any)
	if !ok {
		return nil, nil, errCoerce("missing data object")
	}
	return whereRaw, dataRaw, nil
}

// parseUniqueFilter coerces a raw JSON object into a UniqueFilter, validating
// that every key names a field on the peer model (the caller is responsible
// for checking it actually corresponds to a declared unique index; that
// check happens connector-side, since only the connector knows the finalized
// index set at query time).
func parseUniqueFilter(g *Graph, m *Model, raw map[string]any) (UniqueFilter, error) {
	filter := make(UniqueFilter, len(raw))
	for key, val := range raw {
		f, ok := m.Field(key)
		if !ok {
			return nil, errCoerce("unknown field " + key + " in unique filter")
		}
		v, err := coerceField(g, val, f)
		if err != nil {
			return nil, err
		}
		filter[key] = v
	}
	return filter, nil
}

// coerceField coerces a raw JSON value against a field's declared type;
// coerceTyped also checks enum variants against the Graph.
func coerceField(g *Graph, raw any, f *Field) (Value, error) {
	return coerceTyped(g, raw, f.Type)
}

// coerceTyped implements the total, data-loss-free coercion matrix:
// integer widening is always permitted, narrowing requires the literal to
// fit, strings parse into Date/DateTime/Decimal/ObjectId by strict format,
// booleans never accept numeric forms, and enum values must be an exact
// variant name of the named enum.
func coerceTyped(g *Graph, raw any, ft FieldType) (Value, error) {
	switch ft.Kind {
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, errCoerce("expected bool")
		}
		return NewBool(b), nil
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeI128, TypeU8, TypeU16, TypeU32, TypeU64, TypeU128:
		return coerceInt(raw, ft.Kind)
	case TypeF32, TypeF64:
		f, ok := toFloat(raw)
		if !ok {
			return Value{}, errCoerce("expected number")
		}
		if ft.Kind == TypeF32 {
			return NewF32(float32(f)), nil
		}
		return NewF64(f), nil
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, errCoerce("expected string")
		}
		return NewString(s), nil
	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return Value{}, errCoerce("expected date string")
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return Value{}, errCoerce("invalid date format, expected YYYY-MM-DD")
		}
		return NewDate(t), nil
	case TypeDateTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, errCoerce("expected RFC3339 datetime string")
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Value{}, errCoerce("invalid datetime format, expected RFC3339")
		}
		return NewDateTime(t), nil
	case TypeDecimal:
		s, ok := raw.(string)
		if !ok {
			return Value{}, errCoerce("expected decimal string")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, errCoerce("invalid decimal format")
		}
		return NewDecimal(d), nil
	case TypeObjectID:
		s, ok := raw.(string)
		if !ok {
			return Value{}, errCoerce("expected object id string")
		}
		id, err := bson.ObjectIDFromHex(s)
		if err != nil {
			return Value{}, errCoerce("invalid object id format")
		}
		return NewObjectID(id), nil
	case TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, errCoerce("expected enum variant string")
		}
		// FromStruct's enum=a|b|c tag has no Graph-registered Enum to look up;
		// it stashes the variant list directly as the pipe-joined "path".
		if strings.Contains(ft.EnumPath, "|") {
			if !stringSliceContains(strings.Split(ft.EnumPath, "|"), s) {
				return Value{}, UnexpectedEnumValue(ft.EnumPath)
			}
			return NewString(s), nil
		}
		if g != nil {
			e, err := g.Enum(ft.EnumPath)
			if err != nil {
				return Value{}, err
			}
			if !e.hasVariant(s) {
				return Value{}, UnexpectedEnumValue(ft.EnumPath)
			}
		}
		return NewString(s), nil
	case TypeVec:
		items, ok := raw.([]any)
		if !ok {
			return Value{}, errCoerce("expected array")
		}
		out := make([]Value, 0, len(items))
		for _, item := range items {
			v, err := coerceTyped(g, item, *ft.Element)
			if err != nil {
				return Value{}, err
			}
			out = append(out, v)
		}
		return NewVec(out), nil
	case TypeMap:
		obj, ok := raw.(map[string]any)
		if !ok {
			return Value{}, errCoerce("expected object")
		}
		out := make(map[string]Value, len(obj))
		for k, item := range obj {
			v, err := coerceTyped(g, item, *ft.Element)
			if err != nil {
				return Value{}, err
			}
			out[k] = v
		}
		return NewMap(out), nil
	default:
		return Value{}, errCoerce("unsupported field type")
	}
}

func coerceInt(raw any, k TypeKind) (Value, error) {
	f, ok := toFloat(raw)
	if !ok {
		return Value{}, errCoerce("expected integer")
	}
	if f != float64(int64(f)) {
		return Value{}, errCoerce("expected integer, got fractional number")
	}
	n := int64(f)
	width := intWidth(k)
	signed := typeKindIsSigned(k)
	if !fitsInWidth(n, width, signed) {
		return Value{}, errCoerce("integer literal does not fit in target type")
	}
	switch k {
	case TypeI8:
		return NewI8(int8(n)), nil
	case TypeI16:
		return NewI16(int16(n)), nil
	case TypeI32:
		return NewI32(int32(n)), nil
	case TypeI64, TypeI128:
		return NewI64(n), nil
	case TypeU8:
		return NewU8(uint8(n)), nil
	case TypeU16:
		return NewU16(uint16(n)), nil
	case TypeU32:
		return NewU32(uint32(n)), nil
	default:
		return NewU64(uint64(n)), nil
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func errCoerce(msg string) error {
	return &Error{Kind: ErrKindUnexpectedInputValue, Message: msg}
}
