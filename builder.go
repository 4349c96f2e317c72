package dataengine

import "fmt"

// Builder is the non-DSL entry point callers use to declare a schema
// programmatically via nested GraphBuilder /
// ModelBuilder / FieldBuilder closures. Since this repo has no DSL parser
// (out of scope, per the purpose statement), this builder stands in for the
// "fully-resolved namespace tree" the parser would otherwise hand the graph.
type Builder struct {
	enums    map[string][]string
	models   []*ModelBuilder
	dataSets []*DataSetBuilder
}

func NewBuilder() *Builder {
	return &Builder{enums: make(map[string][]string)}
}

func (b *Builder) Enum(path string, variants ...string) *Builder {
	b.enums[path] = variants
	return b
}

func (b *Builder) Model(path string, build func(*ModelBuilder)) *Builder {
	mb := newModelBuilder(path)
	build(mb)
	b.models = append(b.models, mb)
	return b
}

// DataSet declares a named seed fixture. The seed/reset driver that would
// consume this is an external collaborator (out of scope); DataSet just
// carries the declarative shape onto the finalized Graph.
func (b *Builder) DataSet(name string, build func(*DataSetBuilder)) *Builder {
	db := &DataSetBuilder{name: name}
	build(db)
	b.dataSets = append(b.dataSets, db)
	return b
}

// DataSetBuilder accumulates the groups of one DataSet declaration.
type DataSetBuilder struct {
	name     string
	groups   []DataSetGroup
	autoseed bool
	notrack  bool
}

func (db *DataSetBuilder) Autoseed() *DataSetBuilder { db.autoseed = true; return db }
func (db *DataSetBuilder) Notrack() *DataSetBuilder  { db.notrack = true; return db }

func (db *DataSetBuilder) Group(model string, records ...DataSetRecord) *DataSetBuilder {
	db.groups = append(db.groups, DataSetGroup{Model: model, Records: records})
	return db
}

func (db *DataSetBuilder) build() *DataSet {
	return &DataSet{Name: db.name, Groups: db.groups, Autoseed: db.autoseed, Notrack: db.notrack}
}

// Finalize compiles the builder into an immutable Graph, computing derived
// key sets and reporting the errors named in the Schema Graph component
// design: redefinition, dangling relation, type mismatch in a relation's
// field/reference pair, missing primary index, illegal default, and invalid
// compound-unique key composition.
func (b *Builder) Finalize() (*Graph, error) {
	g := &Graph{
		modelByPath:   make(map[string]*Model),
		modelBySeg:    make(map[string]*Model),
		enumByPath:    make(map[string]*Enum),
		dataSetByName: make(map[string]*DataSet),
	}

	for path, variants := range b.enums {
		e := &Enum{Path: path, Name: path, Variants: variants}
		g.enums = append(g.enums, e)
		g.enumByPath[path] = e
	}

	for i, mb := range b.models {
		if _, dup := g.modelByPath[mb.path]; dup {
			return nil, InternalError(fmt.Errorf("model %q redefined", mb.path))
		}
		m := mb.build(i)
		g.models = append(g.models, m)
		g.modelByPath[m.Path] = m
		seg := m.URLSegment
		if seg == "" {
			seg = pluralSnakeCase(m.Name)
			m.URLSegment = seg
		}
		if _, dup := g.modelBySeg[seg]; dup {
			return nil, InternalError(fmt.Errorf("url segment %q redefined by model %q", seg, m.Path))
		}
		g.modelBySeg[seg] = m
	}

	for _, m := range g.models {
		if err := finalizeModel(g, m); err != nil {
			return nil, err
		}
	}

	for _, m := range g.models {
		for _, r := range m.Relations {
			if !r.isDirect() || r.Opposite == "" {
				continue
			}
			peer, err := g.Model(r.ModelPath)
			if err != nil {
				return nil, err
			}
			if _, ok := peer.Relation(r.Opposite); !ok {
				return nil, InternalError(fmt.Errorf("relation %q on %q: opposite %q not found on %q", r.Name, m.Path, r.Opposite, peer.Path))
			}
		}
	}

	for _, db := range b.dataSets {
		if _, dup := g.dataSetByName[db.name]; dup {
			return nil, InternalError(fmt.Errorf("dataset %q redefined", db.name))
		}
		for _, grp := range db.groups {
			if _, err := g.Model(grp.Model); err != nil {
				return nil, InternalError(fmt.Errorf("dataset %q: %w", db.name, err))
			}
		}
		ds := db.build()
		g.dataSets = append(g.dataSets, ds)
		g.dataSetByName[db.name] = ds
	}

	return g, nil
}

func finalizeModel(g *Graph, m *Model) error {
	if m.fieldByName == nil {
		m.fieldByName = make(map[string]*Field)
	}
	if m.relationByName == nil {
		m.relationByName = make(map[string]*Relation)
	}
	if m.propertyByName == nil {
		m.propertyByName = make(map[string]*Property)
	}

	compoundUnique := make(map[string][]string)
	compoundIndex := make(map[string][]string)
	var primary *Index

	for _, f := range m.Fields {
		if f.ColumnName == "" {
			f.ColumnName = toSnakeCase(f.Name)
		}
		if _, dup := m.fieldByName[f.Name]; dup {
			return InternalError(fmt.Errorf("field %q redefined on model %q", f.Name, m.Path))
		}
		m.fieldByName[f.Name] = f

		if f.Optional && f.Type.Arity() == ArityList && f.Default != nil && !f.Default.IsNull() && len(f.Default.Vec()) > 0 {
			return InternalError(fmt.Errorf("field %q: illegal default (optional list field with non-empty default)", f.Name))
		}

		switch f.IndexRole {
		case IndexPrimary:
			if primary != nil {
				return InternalError(fmt.Errorf("model %q: more than one primary index", m.Path))
			}
			idx := &Index{Name: "primary", Fields: []string{f.Name}, Unique: true, Primary: true}
			primary = idx
			m.Indices = append(m.Indices, idx)
		case IndexUnique:
			m.Indices = append(m.Indices, &Index{Name: f.Name, Fields: []string{f.Name}, Unique: true})
		case IndexNormal:
			m.Indices = append(m.Indices, &Index{Name: f.Name, Fields: []string{f.Name}})
		case IndexCompoundUnique:
			compoundUnique[f.CompoundKey] = append(compoundUnique[f.CompoundKey], f.Name)
		case IndexCompoundNormal:
			compoundIndex[f.CompoundKey] = append(compoundIndex[f.CompoundKey], f.Name)
		}
	}

	for key, fields := range compoundUnique {
		if len(fields) < 2 {
			return InternalError(fmt.Errorf("model %q: invalid compound-unique key %q needs at least two fields", m.Path, key))
		}
		m.Indices = append(m.Indices, &Index{Name: key, Fields: fields, Unique: true})
	}
	for key, fields := range compoundIndex {
		if len(fields) < 2 {
			return InternalError(fmt.Errorf("model %q: invalid compound-index key %q needs at least two fields", m.Path, key))
		}
		m.Indices = append(m.Indices, &Index{Name: key, Fields: fields})
	}

	if primary == nil {
		return InternalError(fmt.Errorf("model %q: missing primary index", m.Path))
	}
	m.PrimaryIndex = primary

	for _, idx := range m.Indices {
		for _, fname := range idx.Fields {
			if _, ok := m.fieldByName[fname]; !ok {
				return InternalError(fmt.Errorf("model %q: index %q references unknown field %q", m.Path, idx.Name, fname))
			}
		}
	}

	for _, p := range m.Properties {
		if _, dup := m.propertyByName[p.Name]; dup {
			return InternalError(fmt.Errorf("property %q redefined on model %q", p.Name, m.Path))
		}
		m.propertyByName[p.Name] = p
	}

	for _, r := range m.Relations {
		if _, dup := m.relationByName[r.Name]; dup {
			return InternalError(fmt.Errorf("relation %q redefined on model %q", r.Name, m.Path))
		}
		m.relationByName[r.Name] = r

		if r.isDirect() {
			if len(r.Fields) != len(r.References) {
				return InternalError(fmt.Errorf("relation %q on %q: fields/references length mismatch", r.Name, m.Path))
			}
			peer, ok := g.modelByPath[r.ModelPath]
			if !ok {
				return InternalError(fmt.Errorf("relation %q on %q: dangling reference to model %q", r.Name, m.Path, r.ModelPath))
			}
			for i, fname := range r.Fields {
				lf, ok := m.fieldByName[fname]
				if !ok {
					return InternalError(fmt.Errorf("relation %q on %q: dangling field %q", r.Name, m.Path, fname))
				}
				rfname := r.References[i]
				rf, ok := peer.fieldByName[rfname]
				if !ok {
					return InternalError(fmt.Errorf("relation %q on %q: dangling reference field %q", r.Name, m.Path, rfname))
				}
				if lf.Type.Kind != rf.Type.Kind {
					return InternalError(fmt.Errorf("relation %q on %q: type mismatch between %q and %q", r.Name, m.Path, fname, rfname))
				}
			}
		} else {
			if _, ok := g.modelByPath[r.Through]; !ok {
				return InternalError(fmt.Errorf("relation %q on %q: dangling through model %q", r.Name, m.Path, r.Through))
			}
		}
	}

	m.InputKeys = computeInputKeys(m)
	m.OutputKeys = computeOutputKeys(m)
	m.QueryKeys = computeQueryKeys(m)
	m.SortKeys = computeSortKeys(m)
	return nil
}

// computeOutputKeys: every field not marked NoRead plus every property with
// a getter, per the finalize rule in the Schema Graph component design.
func computeOutputKeys(m *Model) []string {
	var keys []string
	for _, f := range m.Fields {
		if f.ReadRule != ReadNone {
			keys = append(keys, f.Name)
		}
	}
	for _, p := range m.Properties {
		if p.hasGetter() {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// computeInputKeys: every field not NoWrite plus properties with setters
// plus relations.
func computeInputKeys(m *Model) []string {
	var keys []string
	for _, f := range m.Fields {
		if f.WriteRule != WriteNone {
			keys = append(keys, f.Name)
		}
	}
	for _, p := range m.Properties {
		if p.hasSetter() {
			keys = append(keys, p.Name)
		}
	}
	for _, r := range m.Relations {
		keys = append(keys, r.Name)
	}
	return keys
}

// computeQueryKeys: fields marked Queryable plus relations.
func computeQueryKeys(m *Model) []string {
	var keys []string
	for _, f := range m.Fields {
		if f.QueryAbility == Queryable {
			keys = append(keys, f.Name)
		}
	}
	for _, r := range m.Relations {
		keys = append(keys, r.Name)
	}
	return keys
}

// computeSortKeys: scalar fields marked sortable.
func computeSortKeys(m *Model) []string {
	var keys []string
	for _, f := range m.Fields {
		if f.Sortable && f.Type.Arity() == ArityScalar {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

func pluralSnakeCase(name string) string {
	snake := toSnakeCase(name)
	if len(snake) == 0 {
		return snake
	}
	switch snake[len(snake)-1] {
	case 's', 'x', 'z':
		return snake + "es"
	case 'y':
		if len(snake) >= 2 {
			c := snake[len(snake)-2]
			if c != 'a' && c != 'e' && c != 'i' && c != 'o' && c != 'u' {
				return snake[:len(snake)-1] + "ies"
			}
		}
		return snake + "s"
	default:
		return snake + "s"
	}
}

// ModelBuilder configures one model's fields, properties, relations, and
// surface metadata.
type ModelBuilder struct {
	path        string
	name        string
	urlSegment  string
	identity    bool
	fields      []*FieldBuilder
	properties  []*Property
	relations   []*Relation
}

func newModelBuilder(path string) *ModelBuilder {
	return &ModelBuilder{path: path, name: path}
}

func (mb *ModelBuilder) Name(name string) *ModelBuilder { mb.name = name; return mb }
func (mb *ModelBuilder) URLSegment(seg string) *ModelBuilder { mb.urlSegment = seg; return mb }
func (mb *ModelBuilder) Identity() *ModelBuilder { mb.identity = true; return mb }

func (mb *ModelBuilder) Field(name string, build func(*FieldBuilder)) *ModelBuilder {
	fb := newFieldBuilder(name)
	build(fb)
	mb.fields = append(mb.fields, fb)
	return mb
}

func (mb *ModelBuilder) Property(p *Property) *ModelBuilder {
	mb.properties = append(mb.properties, p)
	return mb
}

func (mb *ModelBuilder) Relation(r *Relation) *ModelBuilder {
	mb.relations = append(mb.relations, r)
	return mb
}

func (mb *ModelBuilder) build(id int) *Model {
	m := &Model{
		id:         id,
		Path:       mb.path,
		Name:       mb.name,
		URLSegment: mb.urlSegment,
		Properties: mb.properties,
		Relations:  mb.relations,
	}
	for i, fb := range mb.fields {
		m.Fields = append(m.Fields, fb.build(i))
	}
	return m
}

// FieldBuilder configures one field: its type, arity, write/read rules,
// index participation, and the three pipeline stages.
type FieldBuilder struct {
	field *Field
}

func newFieldBuilder(name string) *FieldBuilder {
	return &FieldBuilder{field: &Field{Name: name, QueryAbility: Queryable}}
}

func (fb *FieldBuilder) ObjectID() *FieldBuilder { fb.field.Type = Scalar(TypeObjectID); return fb }
func (fb *FieldBuilder) Bool() *FieldBuilder     { fb.field.Type = Scalar(TypeBool); return fb }
func (fb *FieldBuilder) I8() *FieldBuilder       { fb.field.Type = Scalar(TypeI8); return fb }
func (fb *FieldBuilder) I16() *FieldBuilder      { fb.field.Type = Scalar(TypeI16); return fb }
func (fb *FieldBuilder) I32() *FieldBuilder      { fb.field.Type = Scalar(TypeI32); return fb }
func (fb *FieldBuilder) I64() *FieldBuilder      { fb.field.Type = Scalar(TypeI64); return fb }
func (fb *FieldBuilder) U8() *FieldBuilder       { fb.field.Type = Scalar(TypeU8); return fb }
func (fb *FieldBuilder) U16() *FieldBuilder      { fb.field.Type = Scalar(TypeU16); return fb }
func (fb *FieldBuilder) U32() *FieldBuilder      { fb.field.Type = Scalar(TypeU32); return fb }
func (fb *FieldBuilder) U64() *FieldBuilder      { fb.field.Type = Scalar(TypeU64); return fb }
func (fb *FieldBuilder) F32() *FieldBuilder      { fb.field.Type = Scalar(TypeF32); return fb }
func (fb *FieldBuilder) F64() *FieldBuilder      { fb.field.Type = Scalar(TypeF64); return fb }
func (fb *FieldBuilder) String() *FieldBuilder   { fb.field.Type = Scalar(TypeString); return fb }
func (fb *FieldBuilder) Date() *FieldBuilder     { fb.field.Type = Scalar(TypeDate); return fb }
func (fb *FieldBuilder) DateTime() *FieldBuilder { fb.field.Type = Scalar(TypeDateTime); return fb }
func (fb *FieldBuilder) Decimal() *FieldBuilder  { fb.field.Type = Scalar(TypeDecimal); return fb }
func (fb *FieldBuilder) Enum(path string) *FieldBuilder { fb.field.Type = EnumType(path); return fb }
func (fb *FieldBuilder) Vec(elem FieldType) *FieldBuilder { fb.field.Type = VecType(elem); return fb }
func (fb *FieldBuilder) Map(elem FieldType) *FieldBuilder { fb.field.Type = MapType(elem); return fb }

func (fb *FieldBuilder) Primary() *FieldBuilder {
	fb.field.IndexRole = IndexPrimary
	return fb
}
func (fb *FieldBuilder) Optional() *FieldBuilder { fb.field.Optional = true; return fb }
func (fb *FieldBuilder) Required() *FieldBuilder { fb.field.Optional = false; return fb }

func (fb *FieldBuilder) Readonly() *FieldBuilder { fb.field.WriteRule = WriteNone; return fb }
func (fb *FieldBuilder) Writeonly() *FieldBuilder {
	fb.field.ReadRule = ReadNone
	fb.field.QueryAbility = Unqueryable
	return fb
}
func (fb *FieldBuilder) Internal() *FieldBuilder {
	fb.field.WriteRule = WriteNone
	fb.field.ReadRule = ReadNone
	return fb
}
func (fb *FieldBuilder) WriteOnce() *FieldBuilder     { fb.field.WriteRule = WriteOnce; return fb }
func (fb *FieldBuilder) WriteOnCreate() *FieldBuilder { fb.field.WriteRule = WriteOnCreate; return fb }
func (fb *FieldBuilder) WriteNonNull() *FieldBuilder  { fb.field.WriteRule = WriteNonNull; return fb }

func (fb *FieldBuilder) Unique() *FieldBuilder { fb.field.IndexRole = IndexUnique; return fb }
func (fb *FieldBuilder) Index() *FieldBuilder  { fb.field.IndexRole = IndexNormal; return fb }
func (fb *FieldBuilder) CompoundUnique(key string) *FieldBuilder {
	fb.field.IndexRole = IndexCompoundUnique
	fb.field.CompoundKey = key
	return fb
}
func (fb *FieldBuilder) CompoundIndex(key string) *FieldBuilder {
	fb.field.IndexRole = IndexCompoundNormal
	fb.field.CompoundKey = key
	return fb
}

func (fb *FieldBuilder) Sortable() *FieldBuilder { fb.field.Sortable = true; return fb }

func (fb *FieldBuilder) Calculated() *FieldBuilder {
	fb.field.Store = StoreCalculated
	fb.field.WriteRule = WriteNone
	return fb
}
func (fb *FieldBuilder) Temp() *FieldBuilder { fb.field.Store = StoreTemp; return fb }
func (fb *FieldBuilder) LinkedBy(field string) *FieldBuilder {
	fb.field.Store = StoreForeignKey
	fb.field.ForeignKeyOf = field
	return fb
}
func (fb *FieldBuilder) LinkTo() *FieldBuilder { fb.field.Store = StoreLocalKey; return fb }

func (fb *FieldBuilder) AssignedByDatabase() *FieldBuilder {
	fb.field.AssignedByDatabase = true
	return fb
}
func (fb *FieldBuilder) AuthIdentity() *FieldBuilder { fb.field.AuthIdentity = true; return fb }

func (fb *FieldBuilder) Default(v Value) *FieldBuilder { fb.field.Default = &v; return fb }

func (fb *FieldBuilder) OnSet(build func(*Pipeline)) *FieldBuilder {
	fb.field.OnSet = buildPipeline(build)
	return fb
}
func (fb *FieldBuilder) OnSave(build func(*Pipeline)) *FieldBuilder {
	fb.field.OnSave = buildPipeline(build)
	return fb
}
func (fb *FieldBuilder) OnOutput(build func(*Pipeline)) *FieldBuilder {
	fb.field.OnOutput = buildPipeline(build)
	return fb
}

func (fb *FieldBuilder) build(id int) *Field {
	fb.field.id = id
	return fb.field
}

func buildPipeline(build func(*Pipeline)) *Pipeline {
	p := &Pipeline{}
	build(p)
	return p
}

// NewRelation is the direct-relation constructor. On the owner side (the
// model holding the FK columns), fields map pairwise to references on the
// peer model and opposite names this relation's peer-side name. On the
// non-owner side, fields/references are nil and opposite still names the
// owner-side relation, so OppositeRelation can resolve either direction.
func NewRelation(name, modelPath string, fields, references []string, opposite string, isVec, optional bool) *Relation {
	return &Relation{Name: name, ModelPath: modelPath, Fields: fields, References: references, Opposite: opposite, IsVec: isVec, Optional: optional}
}

// NewThroughRelation is the through-table relation constructor.
func NewThroughRelation(name, modelPath, through, foreign string, optional bool) *Relation {
	return &Relation{Name: name, ModelPath: modelPath, Through: through, Foreign: foreign, IsVec: true, Optional: optional}
}
