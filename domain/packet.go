// Package domain implements the single-threaded, per-(domain,shard)
// execution container from §4.2, generalized from the teacher's
// worker.Pool (one goroutine draining one named queue to completion
// before pulling the next job) to a fixed packet-dispatch executor
// over an ordered LocalIndex -> node.Node table.
package domain

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/ops"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// PacketKind enumerates the packet variants from §4.2.
type PacketKind int

const (
	PacketMessage PacketKind = iota
	PacketInput
	PacketReplayPiece
	PacketRequestPartialReplay
	PacketSetupReplayPath
	PacketAddNode
	PacketUpdateEgress
	PacketUpdateSharder
	PacketPrepareState
	PacketReady
	PacketGetStatistics
	PacketQuit
)

// KeyOrFull distinguishes a keyed replay piece from a full-replay
// stream chunk.
type KeyOrFull struct {
	Key      record.Key
	IsFull   bool
	HasMore  bool // more chunks of this full replay will follow
}

// ReplayContext travels with a ReplayPiece so intermediate operators
// know to mark outgoing packets as replay, not regular updates.
type ReplayContext struct {
	Tag      node.Tag
	IsReplay bool
}

// Packet is the sum type processed by a domain's run loop, one at a
// time, strictly in arrival order.
type Packet struct {
	Kind PacketKind

	// PacketMessage / PacketInput
	To    node.LocalIndex
	From  node.LocalIndex
	Delta record.Delta

	// PacketReplayPiece / PacketRequestPartialReplay / PacketSetupReplayPath
	Tag       node.Tag
	KeyOrFull KeyOrFull
	ReplayCtx ReplayContext
	Path      []node.LocalIndex
	Source    node.Index
	Trigger   node.Address

	// PacketAddNode
	NewNode *node.Node

	// PacketUpdateEgress
	EgressNode node.LocalIndex
	NewTarget  ops.Target

	// PacketUpdateSharder
	SharderNode node.LocalIndex
	NewTargets  []node.Address

	// PacketPrepareState
	StateNode node.LocalIndex
	IndexSpec state.Spec

	// PacketReady
	ReadyNode  node.LocalIndex
	ReadyIndex int

	// acknowledgement channel; nil for fire-and-forget packets
	Ack chan error
}

func (p Packet) acknowledge(err error) {
	if p.Ack != nil {
		p.Ack <- err
	}
}
