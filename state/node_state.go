package state

// NodeState is the set of indices materialized for one node. Most
// nodes hold exactly one; joins and aggregations may request more than
// one (suggest_indexes).
type NodeState struct {
	indices map[string]*Index // keyed by a stable name, e.g. "primary"
	order   []string
}

func NewNodeState() *NodeState {
	return &NodeState{indices: make(map[string]*Index)}
}

func (ns *NodeState) AddIndex(name string, ix *Index) {
	if _, exists := ns.indices[name]; !exists {
		ns.order = append(ns.order, name)
	}
	ns.indices[name] = ix
}

func (ns *NodeState) Index(name string) (*Index, bool) {
	ix, ok := ns.indices[name]
	return ix, ok
}

// GetOrAdd returns the index already registered under name, or creates
// one via create and registers it first. Used by operators (e.g.
// Aggregation, TopK) that keep their own per-group computation state as
// a node-state index rather than an operator field: the first call
// installs it, every later call returns the same instance the prior
// call wrote to.
func (ns *NodeState) GetOrAdd(name string, create func() *Index) *Index {
	if ix, ok := ns.indices[name]; ok {
		return ix
	}
	ix := create()
	ns.AddIndex(name, ix)
	return ix
}

// Primary returns the first-registered index, the conventional default
// for single-index nodes (identity, filter, project, base).
func (ns *NodeState) Primary() (*Index, bool) {
	if len(ns.order) == 0 {
		return nil, false
	}
	return ns.indices[ns.order[0]], true
}

// Indices returns the number of indices registered so far, used to
// name newly prepared indices deterministically.
func (ns *NodeState) Indices() int { return len(ns.order) }

func (ns *NodeState) Len() int {
	if ix, ok := ns.Primary(); ok {
		return ix.Len()
	}
	return 0
}

func (ns *NodeState) Each(fn func(name string, ix *Index)) {
	for _, name := range ns.order {
		fn(name, ns.indices[name])
	}
}
