package ops

import (
	"flowcore.dev/engine/node"
	"flowcore.dev/engine/record"
	"flowcore.dev/engine/state"
)

// Project emits a subset of parent columns followed by a fixed list of
// constant literals. resolve is identity for the projected columns and
// None for literals, since a literal has no parent origin.
type Project struct {
	self     node.Index
	parent   node.IndexPair
	Columns  []int // parent column indices to keep, in output order
	Literals []record.Value
}

func NewProject(parent node.IndexPair, columns []int, literals []record.Value) *Project {
	return &Project{parent: parent, Columns: columns, Literals: literals}
}

func (p *Project) Kind() node.Kind         { return node.KindProject }
func (p *Project) Ancestors() []node.Index { return []node.Index{p.parent.Global} }

func (p *Project) OnCommit(self node.IndexPair, remap map[node.Index]node.LocalIndex) {
	p.self = self.Global
	if l, ok := remap[p.parent.Global]; ok {
		p.parent.Remap(l)
	}
}

func (p *Project) project(row record.Row) record.Row {
	out := make(record.Row, 0, len(p.Columns)+len(p.Literals))
	for _, c := range p.Columns {
		out = append(out, row[c])
	}
	out = append(out, p.Literals...)
	return out
}

func (p *Project) OnInput(_ node.LocalIndex, delta record.Delta, _ Context, _ map[node.LocalIndex]*state.NodeState) Result {
	var b record.Builder
	for _, rec := range delta.Records {
		b.Add(record.Record{Row: p.project(rec.Row), Sign: rec.Sign})
	}
	return Result{Delta: b.Build()}
}

func (p *Project) SuggestIndexes(node.Index) []IndexRequest { return nil }

func (p *Project) Resolve(c int) (Origin, bool) {
	if c < len(p.Columns) {
		return Origin{Parent: p.parent.Global, Column: p.Columns[c]}, true
	}
	return Origin{}, false
}

func (p *Project) ParentColumns(c int) []Origin {
	if c < len(p.Columns) {
		return []Origin{{Parent: p.parent.Global, Column: p.Columns[c]}}
	}
	return []Origin{{Computed: true}}
}

func (p *Project) Description(detailed bool) string {
	if !detailed {
		return "π"
	}
	return "Project"
}
