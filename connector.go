package dataengine

import "context"

// ConnectorState is the per-instance connector state machine: Uninitialized
// -> Connected -> (migrate) -> Ready -> Closed. Ready is the only state in
// which queries may execute.
type ConnectorState int

const (
	ConnectorUninitialized ConnectorState = iota
	ConnectorConnected
	ConnectorReady
	ConnectorClosed
)

// MutationMode gates whether objects returned by a find are eligible for
// Save/Delete (true) or are read-only with modified frozen empty (false).
type MutationMode bool

const (
	MutationEnabled  MutationMode = true
	MutationDisabled MutationMode = false
)

// Connector is the interface every storage driver implements, per the
// Connector Contract component design. Find*/Count/Aggregate/GroupBy take
// the already-compiled Where/QueryRequest shape; the Query Compiler (query.go)
// is responsible for producing it, so a Connector never sees raw payloads.
type Connector interface {
	// Connect transitions Uninitialized -> Connected.
	Connect(ctx context.Context, url string) error
	// Migrate transitions Connected -> Ready, creating missing storage
	// (tables, collections, indexes) for the given models; existing storage
	// is not altered. reset drops and recreates when true.
	Migrate(ctx context.Context, models []*Model, reset bool) error
	// Close transitions Ready -> Closed.
	Close(ctx context.Context) error

	FindUnique(ctx context.Context, m *Model, where UniqueFilter, mode MutationMode) (*Object, error)
	FindMany(ctx context.Context, m *Model, q *QueryRequest, mode MutationMode) ([]*Object, error)
	Count(ctx context.Context, m *Model, where *Where) (int64, error)
	Aggregate(ctx context.Context, m *Model, spec *AggregateSpec) (map[string]Value, error)
	GroupBy(ctx context.Context, m *Model, spec *GroupBySpec) ([]map[string]Value, error)

	// SaveObject writes all modified scalar fields of obj, returning the
	// row's assigned primary key when the model has an AssignedByDatabase
	// field, and a distinct UniqueViolation error naming the offending index
	// on conflict.
	SaveObject(ctx context.Context, obj *Object) error
	DeleteObject(ctx context.Context, obj *Object) error

	// Transaction runs fn with a transaction-scoped Env; nested calls within
	// the same scope join the outer transaction rather than nesting, per the
	// concurrency design. Connectors without native transaction support
	// (e.g. MongoDB without a session) may run fn without one.
	Transaction(ctx context.Context, env *Env, fn func(txEnv *Env) error) error

	// SupportsTransactions reports whether Transaction provides atomic
	// rollback, which the Write Planner needs to choose its execution
	// discipline.
	SupportsTransactions() bool
}

// ObjectFactory lets a Connector materialize Objects without importing the
// root package's unexported construction path twice; Engine implements it.
type ObjectFactory interface {
	NewObject(m *Model, env *Env, isNew bool) *Object
	Graph() *Graph
}

// FactoryReceiver is implemented by connectors that need an ObjectFactory to
// materialize rows returned from Find*. A Connector's Connect/Migrate run
// before the Engine wrapping it exists, so the factory can only be handed
// over after New finishes constructing the Engine; New wires it
// automatically via this optional interface rather than widening the
// Connector contract itself.
type FactoryReceiver interface {
	SetFactory(ObjectFactory)
}
