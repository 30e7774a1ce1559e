package ops

import (
	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Base is a root operator: its inputs are external writes (via
// domain.Packet Input), not edges from another node. It holds the
// primary key columns (possibly empty) and a list of dropped-column
// defaults so rows written under an older schema still decode after a
// column is removed.
type Base struct {
	self           node.Index
	local          node.LocalIndex
	PrimaryKey     []int
	DroppedDefaults map[int]record.Value
}

func NewBase(primaryKey []int) *Base {
	return &Base{PrimaryKey: primaryKey, DroppedDefaults: map[int]record.Value{}}
}

func (b *Base) Kind() node.Kind          { return node.KindBase }
func (b *Base) Ancestors() []node.Index  { return nil }

func (b *Base) OnCommit(self node.IndexPair, _ map[node.Index]node.LocalIndex) {
	b.self = self.Global
	if l, ok := self.Local(); ok {
		b.local = l
	}
}

// OnInput is never invoked with a delta from a parent edge for a base
// -- external writes arrive through domain.BaseHandle, which builds the
// delta with Apply below and submits it as an input packet; OnInput
// passes it through unchanged, and the domain then applies it to the
// base's own state and forwards it to children exactly as any other
// operator's output.
func (b *Base) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	return Result{Delta: delta}
}

// Apply validates and applies one external write, returning the delta
// to forward downstream. uniqueConstraint controls whether an insert
// colliding with an existing primary key is rejected.
func (b *Base) Apply(primary *state.Index, write Write, uniqueConstraint bool) (record.Delta, error) {
	switch write.Kind {
	case WriteInsert:
		if uniqueConstraint && len(b.PrimaryKey) > 0 {
			k := write.Row.Key(b.PrimaryKey)
			if rows, _ := primary.Lookup(k); len(rows) > 0 {
				return record.Delta{}, errs.WriteRejected("base.insert", errDuplicateKey)
			}
		}
		return record.NewDelta(record.Pos(write.Row)), nil
	case WriteDelete:
		return record.NewDelta(record.Neg(write.Row)), nil
	case WriteUpdate:
		return record.NewDelta(record.Neg(write.Old), record.Pos(write.Row)), nil
	}
	return record.Delta{}, errs.Invariant("base.apply", errUnknownWriteKind)
}

func (b *Base) SuggestIndexes(self node.Index) []IndexRequest {
	if len(b.PrimaryKey) == 0 {
		return nil
	}
	return []IndexRequest{{On: self, Spec: state.Spec{Columns: b.PrimaryKey, Unique: true}}}
}

func (b *Base) Resolve(c int) (Origin, bool) {
	return Origin{Parent: b.self, Column: c}, true
}

func (b *Base) ParentColumns(c int) []Origin { return []Origin{{Parent: b.self, Column: c}} }

func (b *Base) Description(detailed bool) string {
	if !detailed {
		return "B"
	}
	return "Base"
}

// WriteKind distinguishes the three external write operations a base
// accepts per §6.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteUpdate
	WriteDelete
)

// Write is one external write request against a base.
type Write struct {
	Kind WriteKind
	Row  record.Row // new row, for Insert/Update/Delete (delete carries the row to remove)
	Old  record.Row // prior row, for Update only
}

var (
	errDuplicateKey     = errDup{}
	errUnknownWriteKind = errUnknown{}
)

type errDup struct{}

func (errDup) Error() string { return "primary key already exists" }

type errUnknown struct{}

func (errUnknown) Error() string { return "unknown write kind" }
