// Package wire implements the bit-exact cross-process frame format
// from §6: a 4-byte big-endian length prefix followed by a
// self-describing, versioned payload, rows carrying a leading varint
// column count and per-column tag bytes.
package wire

import (
	"encoding/binary"
	"fmt"

	"flowcore.dev/engine/errs"
)

// DefaultMaxFrameBytes is the default frame-size ceiling from §6.
const DefaultMaxFrameBytes = 64 * 1024 * 1024

const lengthPrefixSize = 4

// EncodeFrame prepends payload with its 4-byte big-endian length.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out[:lengthPrefixSize], uint32(len(payload)))
	copy(out[lengthPrefixSize:], payload)
	return out
}

// DecodeFrame reads one length-prefixed frame from buf, returning the
// payload and the number of bytes consumed. It rejects frames larger
// than maxBytes and truncated input with a structured DecodeError.
func DecodeFrame(buf []byte, maxBytes uint32) (payload []byte, consumed int, err error) {
	if len(buf) < lengthPrefixSize {
		return nil, 0, errs.Decode("wire.decode_frame", fmt.Errorf("short buffer: need %d bytes, have %d", lengthPrefixSize, len(buf)))
	}
	n := binary.BigEndian.Uint32(buf[:lengthPrefixSize])
	if maxBytes > 0 && n > maxBytes {
		return nil, 0, errs.Decode("wire.decode_frame", fmt.Errorf("frame of %d bytes exceeds ceiling %d", n, maxBytes))
	}
	total := lengthPrefixSize + int(n)
	if len(buf) < total {
		return nil, 0, errs.Decode("wire.decode_frame", fmt.Errorf("truncated frame: need %d bytes, have %d", total, len(buf)))
	}
	return buf[lengthPrefixSize:total], total, nil
}
