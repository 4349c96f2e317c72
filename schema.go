package dataengine

import (
	"fmt"
	"regexp"
	"strings"
)

// Store names where a field's value actually lives, per the data model.
type Store int

const (
	StoreEmbedded Store = iota
	StoreLocalKey
	StoreForeignKey
	StoreTemp
	StoreCalculated
)

// WriteRule constrains when a caller-supplied value for a field is accepted.
type WriteRule int

const (
	WriteAllowed WriteRule = iota
	WriteNone
	WriteOnce
	WriteOnCreate
	WriteNonNull
)

// ReadRule constrains whether a field is ever surfaced in output.
type ReadRule int

const (
	ReadAllowed ReadRule = iota
	ReadNone
)

// IndexRole names the kind of index, if any, a field participates in.
type IndexRole int

const (
	IndexNone IndexRole = iota
	IndexUnique
	IndexNormal
	IndexPrimary
	IndexCompoundUnique
	IndexCompoundNormal
)

// QueryAbility gates whether a field may appear in a Where clause.
type QueryAbility int

const (
	Queryable QueryAbility = iota
	Unqueryable
)

// Field is one stored scalar/composite slot on a Model.
type Field struct {
	id          int
	Name        string
	ColumnName  string // explicit override else snake_case(Name), assigned at finalize
	Type        FieldType
	Optional    bool
	Store       Store
	ForeignKeyOf string // the local field this one mirrors, when Store == StoreForeignKey
	ReadRule    ReadRule
	WriteRule   WriteRule
	IndexRole   IndexRole
	CompoundKey string // the shared key name when IndexRole is one of the Compound* roles
	QueryAbility QueryAbility
	Sortable    bool
	Default     *Value
	OnSet       *Pipeline
	OnSave      *Pipeline
	OnOutput    *Pipeline
	AssignedByDatabase bool
	AuthIdentity       bool
}

func (f *Field) inputOmissible() bool {
	return f.Default != nil || f.Store == StoreCalculated || f.AssignedByDatabase
}

// Property is a computed field backed by getter/setter pipelines instead of
// storage.
type Property struct {
	Name   string
	Type   FieldType
	Getter *Pipeline
	Setter *Pipeline
}

func (p *Property) hasGetter() bool { return p.Getter != nil }
func (p *Property) hasSetter() bool { return p.Setter != nil }

// Relation is a typed link to another model, direct (foreign-key mapping) or
// mediated by a through model.
type Relation struct {
	Name       string
	ModelPath  string
	Fields     []string // local field names, when direct and owner-side
	References []string // peer field names, when direct and owner-side
	Through    string    // through-model path, when indirect
	Foreign    string    // this relation's name on the through model, when indirect
	Opposite   string    // this relation's peer-side name on ModelPath, when direct
	IsVec      bool
	Optional   bool
}

func (r *Relation) isDirect() bool { return r.Through == "" }

// ownerSide reports whether this relation's Fields (the foreign-key columns)
// live on the model declaring the relation — per the Write Planner's
// ownership classification in the component design.
func (r *Relation) ownerSide() bool { return r.isDirect() && len(r.Fields) > 0 }

// Enum is a named, ordered set of string variants.
type Enum struct {
	Path     string
	Name     string
	Variants []string
}

func (e *Enum) hasVariant(v string) bool {
	for _, variant := range e.Variants {
		if variant == v {
			return true
		}
	}
	return false
}

// Index is a declared unique or non-unique index over one or more fields.
type Index struct {
	Name   string
	Fields []string
	Unique bool
	Primary bool
}

// Model is a named row-shaped entity. Derived key sets (InputKeys,
// OutputKeys, QueryKeys, SortKeys) are computed once at Graph finalize and
// are immutable thereafter.
type Model struct {
	id             int
	Path           string
	Name           string
	URLSegment     string
	Fields         []*Field
	Properties     []*Property
	Relations      []*Relation
	Indices        []*Index
	PrimaryIndex   *Index
	fieldByName    map[string]*Field
	relationByName map[string]*Relation
	propertyByName map[string]*Property

	InputKeys  []string
	OutputKeys []string
	QueryKeys  []string
	SortKeys   []string
}

func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fieldByName[name]
	return f, ok
}

func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relationByName[name]
	return r, ok
}

func (m *Model) Property(name string) (*Property, bool) {
	p, ok := m.propertyByName[name]
	return p, ok
}

var snakeRe = regexp.MustCompile(`([a-z0-9])([A-Z])`)
var acronymRe = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)

func toSnakeCase(s string) string {
	s = acronymRe.ReplaceAllString(s, "${1}_${2}")
	snake := snakeRe.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(snake)
}

// Graph is the finalized, immutable schema: every enum and model reachable
// by name or URL segment, plus the resolved opposite-relation lookup. It is
// built once by a Builder and never mutated afterward — the "explicit,
// immutable Engine handle" redesign note applies to Graph first, Engine
// wraps it alongside a Connector.
type Graph struct {
	models        []*Model
	enums         []*Enum
	dataSets      []*DataSet
	modelByPath   map[string]*Model
	modelBySeg    map[string]*Model
	enumByPath    map[string]*Enum
	dataSetByName map[string]*DataSet
}

func (g *Graph) Model(path string) (*Model, error) {
	m, ok := g.modelByPath[path]
	if !ok {
		return nil, InternalError(fmt.Errorf("unknown model %q", path))
	}
	return m, nil
}

func (g *Graph) ModelByURLSegment(seg string) (*Model, error) {
	m, ok := g.modelBySeg[seg]
	if !ok {
		return nil, InternalError(fmt.Errorf("unknown url segment %q", seg))
	}
	return m, nil
}

func (g *Graph) Enum(path string) (*Enum, error) {
	e, ok := g.enumByPath[path]
	if !ok {
		return nil, InternalError(fmt.Errorf("unknown enum %q", path))
	}
	return e, nil
}

func (g *Graph) Models() []*Model { return g.models }
func (g *Graph) Enums() []*Enum  { return g.enums }

// OppositeRelation returns the peer relation on the referenced model. For a
// through-relation it resolves transitively via the through model's matching
// relation. For a direct relation, the peer-side
// name is the declared Opposite rather than an inferred Fields/References
// match, since only one side of a direct relation carries the FK columns.
func (g *Graph) OppositeRelation(r *Relation) (*Model, *Relation, error) {
	if !r.isDirect() {
		through, err := g.Model(r.Through)
		if err != nil {
			return nil, nil, err
		}
		foreign, ok := through.Relation(r.Foreign)
		if !ok {
			return nil, nil, InternalError(fmt.Errorf("through model %q has no relation %q", r.Through, r.Foreign))
		}
		return g.OppositeRelation(foreign)
	}
	peer, err := g.Model(r.ModelPath)
	if err != nil {
		return nil, nil, err
	}
	candidate, ok := peer.Relation(r.Opposite)
	if !ok {
		return nil, nil, InternalError(fmt.Errorf("relation %q on %q: opposite %q not found on %q", r.Name, r.ModelPath, r.Opposite, peer.Path))
	}
	return peer, candidate, nil
}

// DataSetRecord names one seedable row by a handle stable across reseeds,
// per the data model: "(dataset, model, record_name)" survives as a
// correlation key even though the underlying primary key is regenerated on
// every seed run.
type DataSetRecord struct {
	Name  string
	Value map[string]any
}

// DataSetGroup is one model's worth of records within a DataSet.
type DataSetGroup struct {
	Model   string
	Records []DataSetRecord
}

// DataSet is a named, declarative fixture: a group of records per model,
// keyed by (dataset, model, record_name) for seed/reset correlation. The
// seed/reset execution driver itself is an external collaborator out of
// this module's scope; DataSet here is the declarative shape a
// driver would consume, carried on the Graph like any other schema
// declaration.
type DataSet struct {
	Name     string
	Groups   []DataSetGroup
	Autoseed bool
	Notrack  bool
}

func (g *Graph) DataSet(name string) (*DataSet, error) {
	d, ok := g.dataSetByName[name]
	if !ok {
		return nil, InternalError(fmt.Errorf("unknown dataset %q", name))
	}
	return d, nil
}

func (g *Graph) DataSets() []*DataSet { return g.dataSets }
