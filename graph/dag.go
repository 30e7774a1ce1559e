// Package graph implements the control-plane migration assembler from
// §6: it takes a batch of NodeSpecs describing the dataflow graph to
// add, validates it as a DAG, assigns each node to a domain-shard,
// splices in the ingress/egress/sharder nodes an edge needs when its
// two endpoints don't share a domain-shard, and drives each affected
// domain through AddNode/PrepareState/Ready so the new nodes become
// live. It is the generalization of the teacher's action-graph
// cycle-detection and Kahn's-algorithm ordering (graph.ValidateDAG/
// GetExecutionOrder), retargeted from *semantic.SemanticScheduledAction
// dependency edges to node.Index dataflow edges.
package graph

import (
	"fmt"

	"flowcore.dev/engine/node"
)

// ValidateDAG checks a migration batch for circular dependencies
// before Commit touches any domain, using the same recursion-stack
// depth-first search the teacher's checkCycleManual used for action
// graphs.
func ValidateDAG(specs []NodeSpec) error {
	byIndex := make(map[node.Index]NodeSpec, len(specs))
	for _, s := range specs {
		byIndex[s.Index] = s
	}
	visited := make(map[node.Index]bool)
	stack := make(map[node.Index]bool)
	for _, s := range specs {
		if !visited[s.Index] {
			if err := checkCycleRecursive(s.Index, byIndex, visited, stack); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkCycleRecursive(idx node.Index, byIndex map[node.Index]NodeSpec, visited, stack map[node.Index]bool) error {
	visited[idx] = true
	stack[idx] = true
	defer func() { stack[idx] = false }()

	spec, inBatch := byIndex[idx]
	if !inBatch {
		// idx refers to a node committed in an earlier migration; it
		// can't participate in a cycle with this batch.
		return nil
	}
	for _, parent := range spec.Parents {
		if !visited[parent] {
			if err := checkCycleRecursive(parent, byIndex, visited, stack); err != nil {
				return err
			}
		} else if stack[parent] {
			return fmt.Errorf("graph: circular dependency detected: %s -> %s", idx, parent)
		}
	}
	return nil
}

// topoOrder returns specs ordered so every parent precedes its
// children, using Kahn's algorithm exactly as the teacher's
// GetExecutionOrder did for action dependencies. Commit processes
// specs in this order so a child's parent is always already known to
// the assembler (domain-assigned, local-indexed, wired) by the time
// the child is processed.
func topoOrder(specs []NodeSpec) ([]NodeSpec, error) {
	inBatch := make(map[node.Index]bool, len(specs))
	for _, s := range specs {
		inBatch[s.Index] = true
	}

	children := make(map[node.Index][]NodeSpec)
	inDegree := make(map[node.Index]int, len(specs))
	for _, s := range specs {
		inDegree[s.Index] = 0
	}
	for _, s := range specs {
		for _, parent := range s.Parents {
			if !inBatch[parent] {
				continue // satisfied by an earlier migration, not an in-batch edge
			}
			children[parent] = append(children[parent], s)
			inDegree[s.Index]++
		}
	}

	var queue []NodeSpec
	for _, s := range specs {
		if inDegree[s.Index] == 0 {
			queue = append(queue, s)
		}
	}

	var order []NodeSpec
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, child := range children[cur.Index] {
			inDegree[child.Index]--
			if inDegree[child.Index] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(specs) {
		return nil, fmt.Errorf("graph: circular dependency detected in migration batch")
	}
	return order, nil
}
