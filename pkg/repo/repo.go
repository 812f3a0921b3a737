// Package repo defines the generic write-side repository used by sinks.
package repo

import "context"

// Repository stores entities of type T keyed by ID. Writes are idempotent:
// storing the same entity twice leaves one record.
type Repository[T any, ID comparable] interface {
	Upsert(ctx context.Context, entity T) error
	Link(ctx context.Context, id ID, rel Relation) error
	Count(ctx context.Context) (int64, error)
}

// Relation describes an outgoing edge from an entity to a keyed target node.
type Relation struct {
	Type        string // relationship type, e.g. IN_CATEGORY
	TargetLabel string // label of the target node, e.g. Category
	TargetKey   string // property identifying the target, e.g. name
	TargetValue any
	Props       map[string]any
}
