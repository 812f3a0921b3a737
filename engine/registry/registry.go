// Package registry mirrors materialized collectibles into Neo4j: one
// Collectible node per item, linked to the Category node it matched.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tom-jm69/cs-medal-parser/engine/classify"
	"github.com/tom-jm69/cs-medal-parser/engine/collectible"
	"github.com/tom-jm69/cs-medal-parser/pkg/repo"
)

const (
	NodeLabel     = "Collectible"
	CategoryLabel = "Category"
	RelInCategory = "IN_CATEGORY"
)

// Node is the stored form of one collectible.
type Node struct {
	ID         string
	Name       string
	Type       string
	FileName   string
	OutputPath string
	Status     string // "materialized", "skipped" or "failed"
	Error      string
	RunID      string
	UpdatedAt  time.Time
}

func toMap(n Node) map[string]any {
	return map[string]any{
		"id":          n.ID,
		"name":        n.Name,
		"type":        n.Type,
		"file_name":   n.FileName,
		"output_path": n.OutputPath,
		"status":      n.Status,
		"error":       n.Error,
		"run_id":      n.RunID,
		"updated_at":  n.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Registry writes run results into the graph.
type Registry struct {
	nodes repo.Repository[Node, string]
	close func(context.Context) error
	now   func() time.Time
	log   *slog.Logger
}

// New wraps an existing repository.
func New(nodes repo.Repository[Node, string], log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{nodes: nodes, now: time.Now, log: log}
}

// Open connects to Neo4j and verifies the connection.
func Open(ctx context.Context, url, user, pass, database string, log *slog.Logger) (*Registry, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("registry: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("registry: neo4j connectivity: %w", err)
	}
	var opts []repo.Neo4jOption[Node, string]
	if database != "" {
		opts = append(opts, repo.WithDatabase[Node, string](database))
	}
	nodes := repo.NewNeo4jRepo[Node, string](driver, NodeLabel, toMap, opts...)
	if err := nodes.EnsureUnique(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("registry: %w", err)
	}
	r := New(nodes, log)
	r.close = driver.Close
	return r, nil
}

// Close releases the driver, if Open created one.
func (r *Registry) Close(ctx context.Context) error {
	if r.close == nil {
		return nil
	}
	return r.close(ctx)
}

// Record stores every outcome of a run. Succeeded items are linked to the
// category their classification matched. Write errors are collected and
// returned together after all outcomes have been tried.
func (r *Registry) Record(ctx context.Context, runID string, items map[string]collectible.Item, outcomes []collectible.Outcome, m *classify.Matcher) error {
	var errs []error
	linked := 0
	now := r.now()
	for _, o := range outcomes {
		it := items[o.ItemID]
		n := Node{
			ID:         o.ItemID,
			Name:       it.Name,
			Type:       it.Type,
			FileName:   o.FileName,
			OutputPath: o.OutputPath,
			Status:     status(o),
			Error:      o.ErrorDetail,
			RunID:      runID,
			UpdatedAt:  now,
		}
		if err := r.nodes.Upsert(ctx, n); err != nil {
			errs = append(errs, err)
			continue
		}
		if !o.Succeeded || m == nil {
			continue
		}
		match, ok := m.Classify(it)
		if !ok {
			continue
		}
		rel := repo.Relation{
			Type:        RelInCategory,
			TargetLabel: CategoryLabel,
			TargetKey:   "name",
			TargetValue: match.Keyword,
			Props:       map[string]any{"field": string(match.Field)},
		}
		if err := r.nodes.Link(ctx, o.ItemID, rel); err != nil {
			errs = append(errs, err)
			continue
		}
		linked++
	}
	r.log.Info("registry updated", "run_id", runID, "nodes", len(outcomes)-len(errs), "linked", linked, "errors", len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("registry: %d writes failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Count is the number of Collectible nodes in the graph.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.nodes.Count(ctx)
}

func status(o collectible.Outcome) string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Succeeded:
		return "materialized"
	default:
		return "failed"
	}
}
