package migrator

import "encoding/binary"

// buildTapConnect assembles a TAP_CONNECT request per spec.md §6: extras
// carry the 4-byte flags word, the key carries the optional client name, and
// the value carries a u16 bucket count followed by that many u16 bucket ids
// — the "4-byte flags, then optional name, then u16 count, then count×u16
// ids" layout spec.md describes, split across extras/key/value the way the
// wire protocol's request fields are normally apportioned.
func buildTapConnect(flags uint32, name string, buckets []uint16) *Message {
	extras := make([]byte, 4)
	binary.BigEndian.PutUint32(extras, flags)

	value := make([]byte, 2+2*len(buckets))
	binary.BigEndian.PutUint16(value[0:2], uint16(len(buckets)))
	for i, id := range buckets {
		binary.BigEndian.PutUint16(value[2+2*i:4+2*i], id)
	}

	return NewRequest(OpTapConnect, 0, extras, []byte(name), value, 0)
}
