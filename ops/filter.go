package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// CompareOp is a predicate comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// Predicate tests one column against either a fixed literal or a
// parameter bound at lookup time. Param supplements the base
// column/op/value predicate from §4.1 with the original's parameterized
// filter pushdown (param_filter.rs): when Param is true the comparison
// value is supplied per-lookup via Bind rather than fixed at commit.
type Predicate struct {
	Column  int
	Op      CompareOp
	Value   record.Value
	Param   bool
	bound   record.Value
	hasBind bool
}

func (p *Predicate) Bind(v record.Value) { p.bound = v; p.hasBind = true }

func (p Predicate) compareValue() record.Value {
	if p.Param && p.hasBind {
		return p.bound
	}
	return p.Value
}

func (p Predicate) eval(row record.Row) bool {
	cmp := row[p.Column].Compare(p.compareValue())
	switch p.Op {
	case OpEq:
		return cmp == 0
	case OpNeq:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// Filter evaluates a conjunction of predicates; a record passes only
// if every predicate passes. Never misses.
type Filter struct {
	self       node.Index
	parent     node.IndexPair
	Predicates []Predicate
	nCols      int
}

func NewFilter(parent node.IndexPair, nCols int, predicates []Predicate) *Filter {
	return &Filter{parent: parent, Predicates: predicates, nCols: nCols}
}

func (f *Filter) Kind() node.Kind         { return node.KindFilter }
func (f *Filter) Ancestors() []node.Index { return []node.Index{f.parent.Global} }

func (f *Filter) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	f.self = self.Global
	if l, ok := remap[f.parent.Global]; ok {
		f.parent.Remap(l)
	}
}

func (f *Filter) passes(row record.Row) bool {
	for _, p := range f.Predicates {
		if !p.eval(row) {
			return false
		}
	}
	return true
}

func (f *Filter) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	var b record.Builder
	for _, rec := range delta.Records {
		if f.passes(rec.Row) {
			b.Add(rec)
		}
	}
	return Result{Delta: b.Build()}
}

func (f *Filter) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (f *Filter) Resolve(c int) (Origin, bool) {
	return Origin{Parent: f.parent.Global, Column: c}, true
}

func (f *Filter) ParentColumns(c int) []Origin {
	return []Origin{{Parent: f.parent.Global, Column: c}}
}

func (f *Filter) Description(detailed bool) string {
	if !detailed {
		return "σ"
	}
	return "Filter"
}
