package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeltaPositivesAndNegatives(t *testing.T) {
	d := NewDelta(
		Pos(Row{IntValue(1)}),
		Neg(Row{IntValue(2)}),
		Pos(Row{IntValue(3)}),
	)

	require.Len(t, d.Positives(), 2)
	require.Len(t, d.Negatives(), 1)
	require.Equal(t, 3, d.Len())
	require.False(t, d.IsEmpty())
}

func TestDeltaAppendDoesNotMutateOriginal(t *testing.T) {
	d1 := NewDelta(Pos(Row{IntValue(1)}))
	d2 := d1.Append(Pos(Row{IntValue(2)}))

	require.Equal(t, 1, d1.Len())
	require.Equal(t, 2, d2.Len())
}

func TestBuilderAccumulatesInOrder(t *testing.T) {
	d := (&Builder{}).
		Pos(Row{IntValue(1)}).
		Neg(Row{IntValue(2)}).
		Build()

	require.Equal(t, 2, d.Len())
	require.Equal(t, Positive, d.Records[0].Sign)
	require.Equal(t, Negative, d.Records[1].Sign)
}

func TestRecordNegateFlipsSignOnly(t *testing.T) {
	r := Pos(Row{TextValue("a")})
	n := r.Negate()

	require.Equal(t, Negative, n.Sign)
	require.Equal(t, r.Row, n.Row)
}

func TestRowProjectAndKey(t *testing.T) {
	row := Row{IntValue(1), TextValue("x"), BoolValue(true)}

	projected := row.Project([]int{2, 0})
	require.Len(t, projected, 2)
	b, _ := projected[0].Bool()
	require.True(t, b)

	k1 := row.Key([]int{0, 1})
	k2 := Row{IntValue(1), TextValue("x")}.Key([]int{0, 1})
	require.Equal(t, k1, k2, "Key only depends on the indexed columns")
}

func TestRowCloneDeepCopiesBytes(t *testing.T) {
	orig := []byte{1, 2, 3}
	row := Row{BytesValue(orig)}
	clone := row.Clone()

	b, _ := clone[0].Bytes()
	b[0] = 99

	origBytes, _ := row[0].Bytes()
	require.Equal(t, byte(1), origBytes[0])
}

func TestDeltaJSONRoundTrip(t *testing.T) {
	d := NewDelta(
		Pos(Row{IntValue(1), TextValue("a")}),
		Neg(Row{IntValue(2), TextValue("b")}),
	)

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got Delta
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, d.Len(), got.Len())
	for i, rec := range d.Records {
		require.Equal(t, rec.Sign, got.Records[i].Sign)
		for j, v := range rec.Row {
			require.Equal(t, v.Kind(), got.Records[i].Row[j].Kind())
		}
	}
}
