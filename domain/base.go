package domain

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/ops"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// BaseHandle is §6's write path made concrete: the external-facing
// insert(row)/update(key,row)/delete(key) surface over one base node.
// It bundles the domain that owns the base, the base's local index and
// *ops.Base instance, and the uniqueConstraint flag that decides
// whether a colliding insert is rejected -- everything ops.Base.Apply
// needs but cannot hold itself, since an operator is pure with respect
// to state (§4.1) and never retains its own materialization.
type BaseHandle struct {
	dom              *Domain
	local            node.LocalIndex
	op               *ops.Base
	uniqueConstraint bool
}

// NewBaseHandle wraps dom's base node at local for external writes.
// uniqueConstraint mirrors §6's "insert with an existing primary key
// is an error iff a unique constraint is declared".
func NewBaseHandle(dom *Domain, local node.LocalIndex, op *ops.Base, uniqueConstraint bool) *BaseHandle {
	return &BaseHandle{dom: dom, local: local, op: op, uniqueConstraint: uniqueConstraint}
}

func (h *BaseHandle) primary() (*state.Index, bool) {
	ns, ok := h.dom.state[h.local]
	if !ok {
		return nil, false
	}
	return ns.Primary()
}

// apply resolves write into a delta against the base's own primary
// index and submits it as a PacketInput, blocking until the owning
// domain has applied it and forwarded it to every child -- the same
// synchronous contract Submit already gives the control plane.
func (h *BaseHandle) apply(write ops.Write) error {
	primary, _ := h.primary()
	delta, err := h.op.Apply(primary, write, h.uniqueConstraint)
	if err != nil {
		return err
	}
	return h.dom.Submit(Packet{Kind: PacketInput, To: h.local, Delta: delta})
}

// Insert applies an external insert of row.
func (h *BaseHandle) Insert(row record.Row) error {
	return h.apply(ops.Write{Kind: ops.WriteInsert, Row: row})
}

// Update applies an external update: old is replaced by row. Both are
// required since an update is always a negative/positive pair (§3),
// never a mutation in place.
func (h *BaseHandle) Update(old, row record.Row) error {
	return h.apply(ops.Write{Kind: ops.WriteUpdate, Old: old, Row: row})
}

// Delete applies an external delete of row.
func (h *BaseHandle) Delete(row record.Row) error {
	return h.apply(ops.Write{Kind: ops.WriteDelete, Row: row})
}
