package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxFrameLength bounds a single frame's payload size absent an
// explicit override; it applies to both request and response directions.
const DefaultMaxFrameLength = 16 << 20 // 16 MiB

// ExtractFrame implements the reader side of spec.md §4.4's state
// machine: it tries to pull one complete length-prefixed frame off the
// front of buf.
//
//   - If buf does not yet hold a full varint length, it returns
//     ok=false, err=nil (the caller should read more and retry).
//   - If buf holds a length but not yet that many payload bytes, same:
//     ok=false, err=nil.
//   - If the decoded length exceeds maxLen, it returns a fatal error —
//     frames longer than the configured maximum are rejected outright
//     rather than accumulated.
//
// On success it returns the frame's payload and the remaining,
// unconsumed bytes of buf.
func ExtractFrame(buf []byte, maxLen int) (payload []byte, rest []byte, ok bool, err error) {
	length, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		if len(buf) > protowire.SizeVarint(^uint64(0)) {
			return nil, buf, false, fmt.Errorf("wire: malformed frame length")
		}
		return nil, buf, false, nil
	}
	if length > uint64(maxLen) {
		return nil, buf, false, fmt.Errorf("wire: frame length %d exceeds maximum %d", length, maxLen)
	}
	remaining := buf[n:]
	if uint64(len(remaining)) < length {
		return nil, buf, false, nil
	}
	payload = remaining[:length]
	rest = remaining[length:]
	return payload, rest, true, nil
}

// AppendFrame encodes payload as a length-prefixed frame and appends it
// to dst, implementing the writer side of spec.md §4.4.
func AppendFrame(dst []byte, payload []byte, maxLen int) ([]byte, error) {
	if len(payload) > maxLen {
		return nil, fmt.Errorf("wire: payload of %d bytes exceeds maximum frame length %d", len(payload), maxLen)
	}
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	dst = append(dst, payload...)
	return dst, nil
}
