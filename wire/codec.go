package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/record"
)

// Version is the single byte identifying the payload encoding. A
// receiver rejects unknown version bytes rather than attempting
// best-effort decode, per §9.
const Version byte = 1

// Tag bytes for each record.Kind, plus a sign byte for Record polarity.
const (
	tagNull byte = iota
	tagInt
	tagUint
	tagFloat
	tagDecimal
	tagBool
	tagText
	tagBytes
	tagTimestamp
	tagJSON
)

// EncodeRow writes one row's wire representation: leading varint column
// count, then per-column tag byte + tag-specific body.
func EncodeRow(buf *bytes.Buffer, row record.Row) {
	writeUvarint(buf, uint64(len(row)))
	for _, v := range row {
		encodeValue(buf, v)
	}
}

func encodeValue(buf *bytes.Buffer, v record.Value) {
	switch v.Kind() {
	case record.KindNull:
		buf.WriteByte(tagNull)
	case record.KindInt:
		buf.WriteByte(tagInt)
		i, _ := v.Int()
		writeInt64(buf, i)
	case record.KindUint:
		buf.WriteByte(tagUint)
		u, _ := v.Uint()
		writeUvarint(buf, u)
	case record.KindFloat:
		buf.WriteByte(tagFloat)
		f, _ := v.Float()
		writeUint64(buf, math.Float64bits(f))
	case record.KindDecimal:
		buf.WriteByte(tagDecimal)
		d, _ := v.Decimal()
		writeInt64(buf, d.Unscaled)
		writeInt64(buf, int64(d.Scale))
	case record.KindBool:
		buf.WriteByte(tagBool)
		b, _ := v.Bool()
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case record.KindText:
		buf.WriteByte(tagText)
		s, _ := v.Text()
		writeString(buf, s)
	case record.KindBytes:
		buf.WriteByte(tagBytes)
		b, _ := v.Bytes()
		writeUvarint(buf, uint64(len(b)))
		buf.Write(b)
	case record.KindTimestamp:
		buf.WriteByte(tagTimestamp)
		ts, _ := v.Timestamp()
		writeInt64(buf, ts.UnixMicro())
	case record.KindJSON:
		buf.WriteByte(tagJSON)
		s, _ := v.JSON()
		writeString(buf, s)
	}
}

// DecodeRow reads one row from r, returning the row and bytes consumed.
func DecodeRow(data []byte) (record.Row, int, error) {
	n, off, err := readUvarint(data, 0)
	if err != nil {
		return nil, 0, errs.Decode("wire.decode_row", err)
	}
	row := make(record.Row, n)
	for i := uint64(0); i < n; i++ {
		v, consumed, err := decodeValue(data[off:])
		if err != nil {
			return nil, 0, errs.Decode("wire.decode_row", err)
		}
		row[i] = v
		off += consumed
	}
	return row, off, nil
}

func decodeValue(data []byte) (record.Value, int, error) {
	if len(data) == 0 {
		return record.Value{}, 0, fmt.Errorf("empty value")
	}
	tag := data[0]
	body := data[1:]
	switch tag {
	case tagNull:
		return record.NullValue(), 1, nil
	case tagInt:
		i, n, err := readInt64(body)
		return record.IntValue(i), 1 + n, err
	case tagUint:
		u, n, err := readUvarint(body, 0)
		return record.UintValue(u), 1 + n, err
	case tagFloat:
		u, n, err := readUint64(body)
		return record.FloatValue(math.Float64frombits(u)), 1 + n, err
	case tagDecimal:
		unscaled, n1, err := readInt64(body)
		if err != nil {
			return record.Value{}, 0, err
		}
		scale, n2, err := readInt64(body[n1:])
		if err != nil {
			return record.Value{}, 0, err
		}
		return record.DecimalValue(record.Decimal{Unscaled: unscaled, Scale: int32(scale)}), 1 + n1 + n2, nil
	case tagBool:
		if len(body) < 1 {
			return record.Value{}, 0, fmt.Errorf("truncated bool")
		}
		return record.BoolValue(body[0] != 0), 2, nil
	case tagText:
		s, n, err := readString(body)
		return record.TextValue(s), 1 + n, err
	case tagBytes:
		ln, off, err := readUvarint(body, 0)
		if err != nil {
			return record.Value{}, 0, err
		}
		if uint64(len(body)-off) < ln {
			return record.Value{}, 0, fmt.Errorf("truncated bytes")
		}
		b := append([]byte(nil), body[off:off+int(ln)]...)
		return record.BytesValue(b), 1 + off + int(ln), nil
	case tagTimestamp:
		micros, n, err := readInt64(body)
		if err != nil {
			return record.Value{}, 0, err
		}
		t := time.UnixMicro(micros).UTC()
		return record.TimestampValue(t), 1 + n, nil
	case tagJSON:
		s, n, err := readString(body)
		return record.JSONValue(s), 1 + n, err
	default:
		return record.Value{}, 0, fmt.Errorf("unknown value tag %d", tag)
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readUvarint(data []byte, _ int) (uint64, int, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, fmt.Errorf("malformed varint")
	}
	return v, n, nil
}

func readInt64(data []byte) (int64, int, error) {
	if len(data) < 8 {
		return 0, 0, fmt.Errorf("truncated int64")
	}
	return int64(binary.BigEndian.Uint64(data[:8])), 8, nil
}

func readUint64(data []byte) (uint64, int, error) {
	if len(data) < 8 {
		return 0, 0, fmt.Errorf("truncated uint64")
	}
	return binary.BigEndian.Uint64(data[:8]), 8, nil
}

func readString(data []byte) (string, int, error) {
	ln, off, err := readUvarint(data, 0)
	if err != nil {
		return "", 0, err
	}
	if uint64(len(data)-off) < ln {
		return "", 0, fmt.Errorf("truncated string")
	}
	return string(data[off : off+int(ln)]), off + int(ln), nil
}
