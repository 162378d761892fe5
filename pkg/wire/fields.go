package wire

import "google.golang.org/protobuf/encoding/protowire"

// appendString/appendUint64/appendInt64 and their consume counterparts
// are the small set of field-encoding primitives every message in this
// package is built from — there being no generated code, each message
// type hand-rolls its Marshal/Unmarshal over these.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	if msg == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// consumeFields walks a protowire-encoded message, invoking set for
// each (field number, wire type, raw remainder) triple so the caller
// can decode the value with the matching protowire.Consume* helper.
// set must return the number of bytes it consumed from data *or* a
// negative n to signal a malformed field.
func consumeFields(data []byte, set func(num protowire.Number, typ protowire.Type, data []byte) (n int)) error {
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		data = data[tagLen:]
		n := set(num, typ, data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}
	return nil
}

func consumeString(data []byte) (string, int) {
	v, n := protowire.ConsumeString(data)
	return v, n
}

func consumeUint64(data []byte) (uint64, int) {
	return protowire.ConsumeVarint(data)
}

func consumeBytesSkip(typ protowire.Type, data []byte) int {
	n := protowire.ConsumeFieldValue(0, typ, data)
	return n
}
