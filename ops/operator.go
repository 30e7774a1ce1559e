// Package ops implements the fixed set of relational operators from
// §4.1: Base, Identity, Project, Filter, Join, Aggregation, TopK,
// Union, Sharder, Egress, Ingress. Every operator is pure with respect
// to state -- all memory lives in the state package's Index, never in
// operator fields -- and the domain dispatches through the Operator
// interface over exactly this fixed set of types, never an open
// registry.
package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Origin names one column's provenance: a parent node and, for
// non-computed columns, the parent's column index.
type Origin struct {
	Parent node.Index
	Column int
	// Computed is true when the output column has no single parent
	// origin (e.g. a Project literal or an Aggregation value).
	Computed bool
}

// Context carries replay/packet metadata into on_input so operators
// can tell a regular update from a replay piece without touching
// domain internals.
type Context struct {
	IsReplay bool
	Tag      node.Tag
}

// Result is what on_input produces: the delta to forward, plus any
// misses encountered against partial parent state.
type Result struct {
	Delta  record.Delta
	Misses []state.Miss
}

// IndexRequest is one entry of suggest_indexes: the node whose state
// needs an index, and the index spec it needs.
type IndexRequest struct {
	On   node.Index
	Spec state.Spec
}

// Operator is the contract every node variant satisfies. Parent
// references are by node.IndexPair before commit and node.LocalIndex
// after -- OnCommit is where an operator localizes them.
type Operator interface {
	Kind() node.Kind
	Ancestors() []node.Index

	// OnCommit resolves parent references to local indices. self is
	// the node's own newly assigned index pair.
	OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex)

	// OnInput processes one delta arriving from local parent `from`.
	// states is keyed by the local index of every node this operator
	// may need to look up (its own state plus any parent partial
	// state it queries through).
	OnInput(from node.LocalIndex, delta record.Delta, ctx Context, states map[node.LocalIndex]*state.NodeState) Result

	SuggestIndexes(self node.Index) []IndexRequest

	// Resolve returns the column origin for non-computed output
	// columns, or ok=false if column c is synthesized.
	Resolve(c int) (Origin, bool)

	// ParentColumns returns every origin contributing to output
	// column c (a superset of Resolve; used for provenance closure).
	ParentColumns(c int) []Origin

	Description(detailed bool) string
}
