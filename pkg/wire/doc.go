// Package wire implements the daemon's on-the-wire framing and request
// payload codec: a varint length prefix (per Protocol Buffers' own
// base-128 varint encoding) followed by that many bytes of a
// protowire-encoded tagged-union message, exactly as spec'd for the
// Unix stream socket transport. It intentionally avoids the full
// generated-message machinery of protoc — there is no .proto source —
// and instead hand-encodes the small, fixed set of command/result
// shapes directly against google.golang.org/protobuf/encoding/protowire,
// the same wire-format primitives protoc-generated code itself bottoms
// out to.
package wire
