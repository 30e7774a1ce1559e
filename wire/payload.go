package wire

import (
	"bytes"
	"fmt"

	"flowcore.dev/engine/errs"
	"flowcore.dev/engine/record"
)

// EncodeDelta renders a full wire payload for a delta: version byte,
// record count, then per-record sign byte + row body.
func EncodeDelta(delta record.Delta) []byte {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	writeUvarint(&buf, uint64(len(delta.Records)))
	for _, rec := range delta.Records {
		if rec.Sign == record.Positive {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		EncodeRow(&buf, rec.Row)
	}
	return buf.Bytes()
}

// DecodeDelta parses a payload produced by EncodeDelta, rejecting any
// version byte other than the one this build understands.
func DecodeDelta(payload []byte) (record.Delta, error) {
	if len(payload) < 1 {
		return record.Delta{}, errs.Decode("wire.decode_delta", fmt.Errorf("empty payload"))
	}
	if payload[0] != Version {
		return record.Delta{}, errs.Decode("wire.decode_delta", fmt.Errorf("unknown wire version %d", payload[0]))
	}
	body := payload[1:]
	n, off, err := readUvarint(body, 0)
	if err != nil {
		return record.Delta{}, errs.Decode("wire.decode_delta", err)
	}
	records := make([]record.Record, 0, n)
	for i := uint64(0); i < n; i++ {
		if off >= len(body) {
			return record.Delta{}, errs.Decode("wire.decode_delta", fmt.Errorf("truncated record stream"))
		}
		sign := record.Negative
		if body[off] == 1 {
			sign = record.Positive
		}
		off++
		row, consumed, err := DecodeRow(body[off:])
		if err != nil {
			return record.Delta{}, err
		}
		off += consumed
		records = append(records, record.Record{Row: row, Sign: sign})
	}
	return record.Delta{Records: records}, nil
}

// FrameDelta is the convenience wrapper most senders use: encode the
// delta payload, then length-prefix it per §6.
func FrameDelta(delta record.Delta) []byte {
	return EncodeFrame(EncodeDelta(delta))
}
