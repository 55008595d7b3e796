// Package storage persists scraped records into a relational table.
//
// Backends register themselves under a kind ("mysql", "mssql", "postgres",
// "sqlite") from an init function; import storage/all to get every one.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config locates a database. DSN wins when set; otherwise each backend
// builds a connection string from the discrete fields.
type Config struct {
	Kind     string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// CreateDatabase asks backends that support it to create Database first.
	CreateDatabase bool
}

// Repository is the per-backend table writer.
type Repository interface {
	Dialect() Dialect

	// PrepareTable makes sure spec's table exists. With recreate, an existing
	// table is dropped first.
	PrepareTable(ctx context.Context, spec TableSpec, recreate bool) error

	// InsertRows inserts rows in a single transaction and returns the number
	// of rows written. On error nothing is committed.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	Close()
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Repository using the backend registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
