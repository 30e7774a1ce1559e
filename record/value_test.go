package record

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []Value{
		NullValue(),
		IntValue(-42),
		UintValue(42),
		FloatValue(3.25),
		DecimalValue(Decimal{Unscaled: 1250, Scale: 2}),
		BoolValue(true),
		TextValue("hello"),
		BytesValue([]byte{0x00, 0x01, 0xff}),
		TimestampValue(ts),
		JSONValue(`{"a":1}`),
	}

	for _, v := range cases {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var got Value
		require.NoError(t, json.Unmarshal(data, &got))
		require.Equal(t, v.Kind(), got.Kind())

		switch v.Kind() {
		case KindInt:
			want, _ := v.Int()
			have, ok := got.Int()
			require.True(t, ok)
			require.Equal(t, want, have)
		case KindText:
			want, _ := v.Text()
			have, ok := got.Text()
			require.True(t, ok)
			require.Equal(t, want, have)
		case KindBytes:
			want, _ := v.Bytes()
			have, ok := got.Bytes()
			require.True(t, ok)
			require.Equal(t, want, have)
		case KindTimestamp:
			want, _ := v.Timestamp()
			have, ok := got.Timestamp()
			require.True(t, ok)
			require.True(t, want.Equal(have))
		}
	}
}

func TestValueCompareOrdersWithinKind(t *testing.T) {
	require.Equal(t, -1, IntValue(1).Compare(IntValue(2)))
	require.Equal(t, 1, IntValue(2).Compare(IntValue(1)))
	require.Equal(t, 0, IntValue(2).Compare(IntValue(2)))
	require.Equal(t, -1, TextValue("a").Compare(TextValue("b")))
}

func TestValueCompareNaNSortsLastAndEqualsNaN(t *testing.T) {
	nan := FloatValue(math.NaN())
	require.Equal(t, 1, nan.Compare(FloatValue(1)))
	require.Equal(t, -1, FloatValue(1).Compare(nan))
	require.Equal(t, 0, nan.Compare(nan), "NaN vs NaN is unordered, treated as equal for sort stability")
}

func TestBytesValueDeepCloneDoesNotShareBacking(t *testing.T) {
	orig := []byte{1, 2, 3}
	v := BytesValue(orig)
	orig[0] = 99

	b, ok := v.Bytes()
	require.True(t, ok)
	require.Equal(t, byte(1), b[0], "BytesValue must copy its input")

	clone := v.DeepClone()
	cb, _ := clone.Bytes()
	cb[0] = 77
	b2, _ := v.Bytes()
	require.Equal(t, byte(1), b2[0], "DeepClone must not share backing storage")
}
