/*
Package codec implements envelope encode/decode for the SDK (spec.md
§4.2): a compact binary format (msgpack, via the teacher's indirect
hashicorp/go-msgpack dependency promoted to direct use here) and a
textual JSON format, with auto-detection on read by inspecting the
first byte of the payload.

Binary encodes as a msgpack map, whose first byte is always in the
0x80-0x8f (fixmap) or 0xde/0xdf (map16/map32) range. JSON payloads
always start with '{' (0x7b) once whitespace is trimmed. Readers use
this distinction to auto-detect; it holds because every envelope is
encoded as a top-level map/object, never a bare scalar or array.
*/
package codec
