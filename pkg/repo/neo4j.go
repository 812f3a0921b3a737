package repo

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// cursor is the slice of neo4j.ResultWithContext the repo reads.
type cursor interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// session is the slice of neo4j.SessionWithContext the repo drives.
type session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (cursor, error)
	Close(ctx context.Context) error
}

type driverSession struct{ neo4j.SessionWithContext }

func (s driverSession) Run(ctx context.Context, cypher string, params map[string]any) (cursor, error) {
	return s.SessionWithContext.Run(ctx, cypher, params)
}

// Neo4jRepo stores T as nodes with one label, keyed by a single property.
type Neo4jRepo[T any, ID comparable] struct {
	driver   neo4j.DriverWithContext
	label    string
	idKey    string
	database string
	props    func(T) map[string]any
	open     func(ctx context.Context) session
}

var _ Repository[struct{}, string] = (*Neo4jRepo[struct{}, string])(nil)

// Neo4jOption customizes a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey names the key property. The default is "id".
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = sanitizeIdent(key) }
}

// WithDatabase targets a named database instead of the server default.
func WithDatabase[T any, ID comparable](name string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.database = name }
}

// NewNeo4jRepo returns a repo for nodes labelled label. props must emit the
// key property alongside the rest.
func NewNeo4jRepo[T any, ID comparable](driver neo4j.DriverWithContext, label string, props func(T) map[string]any, opts ...Neo4jOption[T, ID]) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{driver: driver, label: sanitizeIdent(label), idKey: "id", props: props}
	for _, o := range opts {
		o(r)
	}
	r.open = func(ctx context.Context) session {
		return driverSession{r.driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeWrite,
			DatabaseName: r.database,
		})}
	}
	return r
}

// run sends one statement in its own session and hands every record to
// each. Results are always consumed so server errors are reported.
func (r *Neo4jRepo[T, ID]) run(ctx context.Context, cypher string, params map[string]any, each func(*neo4j.Record) error) error {
	s := r.open(ctx)
	defer s.Close(ctx)

	cur, err := s.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	for cur.Next(ctx) {
		if each == nil {
			continue
		}
		if err := each(cur.Record()); err != nil {
			return err
		}
	}
	return cur.Err()
}

// EnsureUnique creates the uniqueness constraint on the key property if it
// is missing.
func (r *Neo4jRepo[T, ID]) EnsureUnique(ctx context.Context) error {
	name := strings.ToLower(r.label) + "_" + r.idKey + "_unique"
	cypher := fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, r.label, r.idKey)
	if err := r.run(ctx, cypher, nil, nil); err != nil {
		return fmt.Errorf("constraint %s: %w", name, err)
	}
	return nil
}

// Upsert merges on the key property and then overlays every property.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entity T) error {
	props := r.props(entity)
	id, ok := props[r.idKey]
	if !ok {
		return fmt.Errorf("upsert %s: no %q property", r.label, r.idKey)
	}
	cypher := "MERGE (n:" + r.label + " {" + r.idKey + ": $id}) SET n += $props"
	if err := r.run(ctx, cypher, map[string]any{"id": id, "props": props}, nil); err != nil {
		return fmt.Errorf("upsert %s %v: %w", r.label, id, err)
	}
	return nil
}

// Link merges rel's target node and the edge to it. The source node must
// already exist.
func (r *Neo4jRepo[T, ID]) Link(ctx context.Context, id ID, rel Relation) error {
	edge := strings.ToUpper(sanitizeIdent(rel.Type))
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s {%s: $id})\n", r.label, r.idKey)
	fmt.Fprintf(&b, "MERGE (t:%s {%s: $target})\n", sanitizeIdent(rel.TargetLabel), sanitizeIdent(rel.TargetKey))
	fmt.Fprintf(&b, "MERGE (n)-[e:%s]->(t)\nSET e += $props", edge)

	props := rel.Props
	if props == nil {
		props = map[string]any{}
	}
	params := map[string]any{"id": id, "target": rel.TargetValue, "props": props}
	if err := r.run(ctx, b.String(), params, nil); err != nil {
		return fmt.Errorf("link %s %v -[%s]-> %v: %w", r.label, id, edge, rel.TargetValue, err)
	}
	return nil
}

// Count returns how many nodes carry the label.
func (r *Neo4jRepo[T, ID]) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.run(ctx, "MATCH (n:"+r.label+") RETURN count(n) AS total", nil, func(rec *neo4j.Record) error {
		v, ok := rec.Get("total")
		if !ok {
			return fmt.Errorf("no total column")
		}
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("total is %T", v)
		}
		total = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.label, err)
	}
	return total, nil
}

// sanitizeIdent drops everything but letters, digits and '_' so the result
// can be spliced into cypher as a label, key or relationship type.
func sanitizeIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '_', unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		}
		return -1
	}, s)
}
