package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
)

func TestEgressUpdateTargetReplacesExistingByIngress(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	e := NewEgress(parent)

	dst := node.Address{Domain: node.NewDomainIndex(1), Shard: 0}
	e.AddTarget(Target{Ingress: dst, Tag: "tag-a"})
	e.AddTarget(Target{Ingress: node.Address{Domain: node.NewDomainIndex(2), Shard: 0}, Tag: "tag-b"})
	require.Len(t, e.Targets(), 2)

	e.UpdateTarget(Target{Ingress: dst, Tag: "tag-c"})
	targets := e.Targets()
	require.Len(t, targets, 2)
	require.Equal(t, node.Tag("tag-c"), targets[0].Tag)
}

func TestEgressAndIngressPassDeltaThroughUnchanged(t *testing.T) {
	parent := node.NewIndexPair(node.NewIndex(1))
	e := NewEgress(parent)
	delta := record.NewDelta(record.Pos(row(1, 2)))
	result := e.OnInput(node.LocalIndex{}, delta, Context{}, nil)
	require.Equal(t, delta, result.Delta)

	i := NewIngress(node.NewIndex(1))
	result2 := i.OnInput(node.LocalIndex{}, delta, Context{}, nil)
	require.Equal(t, delta, result2.Delta)
}
