package record

// Delta is an ordered multiset of signed records flowing along one
// edge of the graph. Application order matters at the boundary between
// deltas (apply every positive, then every negative, within a single
// delta) but a Delta itself is the unit forwarded between operators.
type Delta struct {
	Records []Record
}

func NewDelta(records ...Record) Delta {
	return Delta{Records: records}
}

func (d Delta) Len() int { return len(d.Records) }

func (d Delta) IsEmpty() bool { return len(d.Records) == 0 }

// Append returns a new Delta with rec appended.
func (d Delta) Append(rec Record) Delta {
	return Delta{Records: append(append([]Record(nil), d.Records...), rec)}
}

// Positives returns only the positively-signed records, preserving order.
func (d Delta) Positives() []Record {
	out := make([]Record, 0, len(d.Records))
	for _, r := range d.Records {
		if r.Sign == Positive {
			out = append(out, r)
		}
	}
	return out
}

// Negatives returns only the negatively-signed records, preserving order.
func (d Delta) Negatives() []Record {
	out := make([]Record, 0, len(d.Records))
	for _, r := range d.Records {
		if r.Sign == Negative {
			out = append(out, r)
		}
	}
	return out
}

// Builder accumulates records into a Delta. Used by operators to
// assemble on_input results without repeated slice reallocation.
type Builder struct {
	records []Record
}

func (b *Builder) Pos(r Row) *Builder {
	b.records = append(b.records, Pos(r))
	return b
}

func (b *Builder) Neg(r Row) *Builder {
	b.records = append(b.records, Neg(r))
	return b
}

func (b *Builder) Add(rec Record) *Builder {
	b.records = append(b.records, rec)
	return b
}

func (b *Builder) Build() Delta {
	return Delta{Records: b.records}
}
