package record

import "strings"

// Row is an ordered tuple of values, positionally aligned with a node's
// field list.
type Row []Value

// Clone returns a row with no shared variable-length storage.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for i, v := range r {
		out[i] = v.DeepClone()
	}
	return out
}

// Project returns a new row containing only the given column indices,
// in the given order.
func (r Row) Project(cols []int) Row {
	out := make(Row, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Key extracts the values at cols as a comparable map key.
func (r Row) Key(cols []int) Key {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = r[c].String()
	}
	return Key(strings.Join(parts, "\x1f"))
}

// Key is an opaque, comparable representation of a row's indexed
// columns, suitable for use as a map key.
type Key string

// Sign is the polarity of a Record: a positive record is an insertion,
// a negative record is a deletion. Updates are always a negative/
// positive pair, never a mutation.
type Sign bool

const (
	Positive Sign = true
	Negative Sign = false
)

func (s Sign) String() string {
	if s == Positive {
		return "+"
	}
	return "-"
}

// Record is a single signed row.
type Record struct {
	Row  Row
	Sign Sign
}

func Pos(r Row) Record { return Record{Row: r, Sign: Positive} }
func Neg(r Row) Record { return Record{Row: r, Sign: Negative} }

// Negate returns the opposite-signed record over the same row.
func (rec Record) Negate() Record {
	return Record{Row: rec.Row, Sign: !rec.Sign}
}
