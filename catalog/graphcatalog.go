package catalog

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"flowcore.dev/engine/node"
)

// Lineage answers ancestry questions over the committed node graph --
// would adding this edge create a cycle, what feeds this node
// transitively, what would an eviction or teardown affect -- using
// Neo4j's native graph traversal rather than recursive SQL, the same
// division of labor the teacher's GraphRepository drew between
// Neo4j (topology) and PostgreSQL (history). graph.ValidateDAG already
// rejects cycles within a single migration batch; Lineage additionally
// catches a parent named in spec.Parents that was committed in an
// earlier batch and would close a cycle across batches, which a
// single-batch DFS can never see.
type Lineage struct {
	driver neo4j.DriverWithContext
}

// OpenLineage connects to a Neo4j instance and verifies connectivity.
func OpenLineage(uri, username, password string) (*Lineage, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("catalog: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, fmt.Errorf("catalog: neo4j connect: %w", err)
	}
	return &Lineage{driver: driver}, nil
}

// Close releases the underlying driver.
func (l *Lineage) Close(ctx context.Context) error {
	return l.driver.Close(ctx)
}

// RecordNode merges a node and its parent edges into the lineage
// graph. Called once per node alongside catalog.Store.SaveNode so the
// two stores never drift -- the relational row is the source of
// truth for a node's own shape, the graph is the source of truth for
// its position in the topology.
func (l *Lineage) RecordNode(ctx context.Context, idx node.Index, name string, parents []node.Index) error {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (n:Node {id: $id})
			SET n.name = $name
		`, map[string]any{"id": idx.Int(), "name": name}); err != nil {
			return nil, err
		}
		for _, p := range parents {
			if _, err := tx.Run(ctx, `
				MATCH (n:Node {id: $id})
				MERGE (p:Node {id: $parentId})
				MERGE (p)-[:FEEDS]->(n)
			`, map[string]any{"id": idx.Int(), "parentId": p.Int()}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// WouldCreateCycle reports whether wiring parent as an upstream of
// child would close a cycle, by checking for an existing path from
// child back to parent -- the same shortestPath-free reachability
// check the teacher's Neo4jRepository.WouldCreateCycle ran over
// REQUIRES edges, retargeted to FEEDS edges.
func (l *Lineage) WouldCreateCycle(ctx context.Context, parent, child node.Index) (bool, error) {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH path = (c:Node {id: $childId})-[:FEEDS*]->(p:Node {id: $parentId})
			RETURN count(path) > 0 as hasCycle
		`, map[string]any{"childId": child.Int(), "parentId": parent.Int()})
		if err != nil {
			return false, err
		}
		if result.Next(ctx) {
			if v, ok := result.Record().Get("hasCycle"); ok {
				return v.(bool), nil
			}
		}
		return false, result.Err()
	})
	if err != nil {
		return false, fmt.Errorf("catalog: cycle check %s->%s: %w", parent, child, err)
	}
	return result.(bool), nil
}

// Ancestors returns every node transitively feeding idx, used to scope
// a full-replay or teardown to the subgraph it actually touches.
func (l *Lineage) Ancestors(ctx context.Context, idx node.Index) ([]node.Index, error) {
	return l.traverse(ctx, idx, `
		MATCH (a:Node)-[:FEEDS*]->(n:Node {id: $id})
		RETURN DISTINCT a.id as other
	`)
}

// Descendants returns every node transitively fed by idx, used to
// find what would be affected by dropping or re-sharding it.
func (l *Lineage) Descendants(ctx context.Context, idx node.Index) ([]node.Index, error) {
	return l.traverse(ctx, idx, `
		MATCH (n:Node {id: $id})-[:FEEDS*]->(d:Node)
		RETURN DISTINCT d.id as other
	`)
}

func (l *Lineage) traverse(ctx context.Context, idx node.Index, query string) ([]node.Index, error) {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": idx.Int()})
		if err != nil {
			return nil, err
		}
		var out []node.Index
		for result.Next(ctx) {
			if v, ok := result.Record().Get("other"); ok {
				out = append(out, node.NewIndex(int(v.(int64))))
			}
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: traverse from %s: %w", idx, err)
	}
	return result.([]node.Index), nil
}

// DeleteNode removes idx and its edges from the lineage graph.
func (l *Lineage) DeleteNode(ctx context.Context, idx node.Index) error {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (n:Node {id: $id}) DETACH DELETE n`, map[string]any{"id": idx.Int()})
		return nil, err
	})
	return err
}
