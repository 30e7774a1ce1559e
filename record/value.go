// Package record defines the value, row and delta primitives that flow
// through every operator in the graph.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Kind tags the variant carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindUint
	KindFloat
	KindDecimal
	KindBool
	KindText
	KindBytes
	KindTimestamp
	KindJSON
)

// Value is a tagged union over the column types the engine understands.
// Zero value is Null. Construct with the New* helpers, never by
// populating fields directly — callers outside this package never need
// to know which field backs which Kind.
type Value struct {
	kind  Kind
	i     int64
	u     uint64
	f     float64
	dec   Decimal
	b     bool
	s     string
	bytes []byte
	ts    time.Time
	json  string
}

// Decimal is a fixed-precision decimal: unscaled * 10^-scale.
type Decimal struct {
	Unscaled int64
	Scale    int32
}

func (d Decimal) Float64() float64 {
	return float64(d.Unscaled) / math.Pow10(int(d.Scale))
}

func NullValue() Value               { return Value{kind: KindNull} }
func IntValue(i int64) Value         { return Value{kind: KindInt, i: i} }
func UintValue(u uint64) Value       { return Value{kind: KindUint, u: u} }
func FloatValue(f float64) Value     { return Value{kind: KindFloat, f: f} }
func DecimalValue(d Decimal) Value   { return Value{kind: KindDecimal, dec: d} }
func BoolValue(b bool) Value         { return Value{kind: KindBool, b: b} }
func TextValue(s string) Value       { return Value{kind: KindText, s: s} }
func BytesValue(b []byte) Value      { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func TimestampValue(t time.Time) Value {
	return Value{kind: KindTimestamp, ts: t.UTC()}
}
func JSONValue(raw string) Value { return Value{kind: KindJSON, json: raw} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Int() (int64, bool)         { return v.i, v.kind == KindInt }
func (v Value) Uint() (uint64, bool)       { return v.u, v.kind == KindUint }
func (v Value) Float() (float64, bool)     { return v.f, v.kind == KindFloat }
func (v Value) Decimal() (Decimal, bool)   { return v.dec, v.kind == KindDecimal }
func (v Value) Bool() (bool, bool)         { return v.b, v.kind == KindBool }
func (v Value) Text() (string, bool)       { return v.s, v.kind == KindText }
func (v Value) Bytes() ([]byte, bool)      { return v.bytes, v.kind == KindBytes }
func (v Value) Timestamp() (time.Time, bool) { return v.ts, v.kind == KindTimestamp }
func (v Value) JSON() (string, bool)       { return v.json, v.kind == KindJSON }

// DeepClone returns a value with no shared backing storage. Scalar
// kinds are already copy-by-value in Go; only the variable-length
// kinds (bytes) need an explicit copy.
func (v Value) DeepClone() Value {
	if v.kind == KindBytes {
		return BytesValue(v.bytes)
	}
	return v
}

// Compare orders two values of the same Kind. NaN floats sort after
// every other float and compare equal to another NaN.
func (v Value) Compare(other Value) int {
	if v.kind != other.kind {
		// Cross-kind comparison is only meaningful for ordering
		// stability in mixed-type defensive code paths; order by kind.
		if v.kind < other.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindInt:
		return compareOrdered(v.i, other.i)
	case KindUint:
		return compareOrdered(v.u, other.u)
	case KindFloat:
		return compareFloat(v.f, other.f)
	case KindDecimal:
		return compareFloat(v.dec.Float64(), other.dec.Float64())
	case KindBool:
		return compareOrdered(boolToInt(v.b), boolToInt(other.b))
	case KindText:
		return compareOrdered(v.s, other.s)
	case KindBytes:
		return compareBytes(v.bytes, other.bytes)
	case KindTimestamp:
		if v.ts.Before(other.ts) {
			return -1
		}
		if v.ts.After(other.ts) {
			return 1
		}
		return 0
	case KindJSON:
		return compareOrdered(v.json, other.json)
	}
	return 0
}

// compareFloat treats NaN as greater than every other value and equal
// to another NaN, so NaN sorts last in ascending order and rows holding
// NaN still match each other when removed from an index.
func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return compareOrdered(len(a), len(b))
}

type ordered interface {
	~int | ~int64 | ~uint64 | ~string
}

func compareOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// wireValue is Value's on-the-wire JSON shape. Value keeps its fields
// unexported so callers can't construct one outside the New*Value
// helpers; this is the one place that reaches past that to give
// durability.Log and durability.PostgresLog something round-trippable.
type wireValue struct {
	Kind      Kind      `json:"kind"`
	Int       int64     `json:"i,omitempty"`
	Uint      uint64    `json:"u,omitempty"`
	Float     float64   `json:"f,omitempty"`
	Decimal   Decimal   `json:"d,omitempty"`
	Bool      bool      `json:"b,omitempty"`
	Text      string    `json:"s,omitempty"`
	Bytes     []byte    `json:"by,omitempty"`
	Timestamp time.Time `json:"ts,omitempty"`
	JSON      string    `json:"j,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireValue{
		Kind: v.kind, Int: v.i, Uint: v.u, Float: v.f, Decimal: v.dec,
		Bool: v.b, Text: v.s, Bytes: v.bytes, Timestamp: v.ts, JSON: v.json,
	})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = Value{
		kind: w.Kind, i: w.Int, u: w.Uint, f: w.Float, dec: w.Decimal,
		b: w.Bool, s: w.Text, bytes: w.Bytes, ts: w.Timestamp, json: w.JSON,
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUint:
		return fmt.Sprintf("%d", v.u)
	case KindFloat:
		return fmt.Sprintf("%v", v.f)
	case KindDecimal:
		return fmt.Sprintf("%v", v.dec.Float64())
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindText:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.bytes)
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano)
	case KindJSON:
		return v.json
	default:
		return "?"
	}
}
