// Package controlbus fans control-plane packets -- egress/sharder
// retargeting and domain shutdown -- out from the
// process holding the authority lease to every domain process, over
// AMQP. Each domain consumes its own durable queue with a bounded
// worker pool, generalized from the teacher's worker.Pool (one
// goroutine per named queue, blocking dequeue with a timeout, mark/
// complete/fail bookkeeping) and queue.RabbitMQService (connection and
// channel lifecycle, durable queue declaration, JSON publish).
//
// Data packets (Message, Input, ReplayPiece) never travel over
// controlbus -- those go through channel.Coordinator's direct
// transport. controlbus only carries the comparatively rare messages
// that reconfigure a running graph.
package controlbus

import (
	"encoding/json"
	"fmt"

	"flowcore.dev/engine/domain"
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/ops"
)

// Kind enumerates the control operations carried over the bus. It is a
// strict subset of domain.PacketKind: only the packets meaningful to
// send across a process boundary, where the operator closures AddNode
// would require can't travel (see the catalog package doc).
type Kind string

const (
	KindUpdateEgress  Kind = "update_egress"
	KindUpdateSharder Kind = "update_sharder"
	KindQuit          Kind = "quit"
)

// Target mirrors ops.Target as plain, JSON-friendly data.
type Target struct {
	Ingress AddressMsg `json:"ingress"`
	Tag     string     `json:"tag"`
}

// Message is the wire shape of one control operation, addressed to a
// single domain-shard. Only one of the Update* fields is populated,
// matching Kind.
type Message struct {
	Kind   Kind        `json:"kind"`
	Domain int         `json:"domain"`
	Shard  int         `json:"shard"`

	// KindUpdateEgress
	EgressNode int    `json:"egress_node,omitempty"`
	NewTarget  *Target `json:"new_target,omitempty"`

	// KindUpdateSharder
	SharderNode int           `json:"sharder_node,omitempty"`
	NewTargets  []AddressMsg `json:"new_targets,omitempty"`
}

// AddressMsg is the wire shape of node.Address.
type AddressMsg struct {
	Domain int `json:"domain"`
	Shard  int `json:"shard"`
}

func (a AddressMsg) toAddress() node.Address {
	return node.Address{Domain: node.NewDomainIndex(a.Domain), Shard: node.Shard(a.Shard)}
}

func addressToMsg(a node.Address) AddressMsg {
	return AddressMsg{Domain: a.Domain.Int(), Shard: int(a.Shard)}
}

// ForAddress reports the domain-shard this message targets.
func (m Message) ForAddress() node.Address {
	return node.Address{Domain: node.NewDomainIndex(m.Domain), Shard: node.Shard(m.Shard)}
}

// Encode/Decode use JSON, matching queue.RabbitMQService.PublishMessage's
// wire format: this is the control plane, not the hot data path, so
// wire.EncodeFrame's compact binary framing isn't warranted here.
func Encode(m Message) ([]byte, error) { return json.Marshal(m) }

func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("controlbus: decode: %w", err)
	}
	return m, nil
}

// ToPacket converts a decoded Message into the domain.Packet it
// represents, resolving wire-level node/shard ids back into the
// LocalIndex values the target domain already assigned at boot.
func ToPacket(m Message) (domain.Packet, error) {
	switch m.Kind {
	case KindUpdateEgress:
		if m.NewTarget == nil {
			return domain.Packet{}, fmt.Errorf("controlbus: update_egress missing new_target")
		}
		return domain.Packet{
			Kind:       domain.PacketUpdateEgress,
			EgressNode: node.MakeLocalIndex(uint32(m.EgressNode)),
			NewTarget: ops.Target{
				Ingress: m.NewTarget.Ingress.toAddress(),
				Tag:     node.Tag(m.NewTarget.Tag),
			},
		}, nil
	case KindUpdateSharder:
		targets := make([]node.Address, len(m.NewTargets))
		for i, t := range m.NewTargets {
			targets[i] = t.toAddress()
		}
		return domain.Packet{
			Kind:        domain.PacketUpdateSharder,
			SharderNode: node.MakeLocalIndex(uint32(m.SharderNode)),
			NewTargets:  targets,
		}, nil
	case KindQuit:
		return domain.Packet{Kind: domain.PacketQuit}, nil
	default:
		return domain.Packet{}, fmt.Errorf("controlbus: unknown kind %q", m.Kind)
	}
}

// UpdateEgress builds a Message instructing the domain owning
// egressNode to add or replace a replay-tagged target.
func UpdateEgress(addr node.Address, egressNode node.LocalIndex, target ops.Target) Message {
	return Message{
		Kind:       KindUpdateEgress,
		Domain:     addr.Domain.Int(),
		Shard:      int(addr.Shard),
		EgressNode: egressNode.ID(),
		NewTarget:  &Target{Ingress: addressToMsg(target.Ingress), Tag: string(target.Tag)},
	}
}

// UpdateSharder builds a Message addressed to the domain owning
// sharderNode, carrying its new shard targets. domain.Domain
// acknowledges the resulting PacketUpdateSharder without changing any
// routing; a Sharder keeps forwarding by its children's order.
func UpdateSharder(addr node.Address, sharderNode node.LocalIndex, targets []node.Address) Message {
	msgs := make([]AddressMsg, len(targets))
	for i, t := range targets {
		msgs[i] = addressToMsg(t)
	}
	return Message{
		Kind:        KindUpdateSharder,
		Domain:      addr.Domain.Int(),
		Shard:       int(addr.Shard),
		SharderNode: sharderNode.ID(),
		NewTargets:  msgs,
	}
}

// Quit builds a Message instructing the domain at addr to shut down.
func Quit(addr node.Address) Message {
	return Message{Kind: KindQuit, Domain: addr.Domain.Int(), Shard: int(addr.Shard)}
}
