package migrator

import "encoding/binary"

// Message is an owned, contiguous header+body buffer. Ownership is single:
// whoever holds a Message either forwards it (transferring ownership) or
// releases it. There is no refcount and no aliasing — spec.md §3's explicit
// departure from the original's shared-ownership BinaryMessage, adopted
// because this generation is 1:1 source→destination (spec.md §9).
type Message struct {
	buf []byte
}

// newMessageFromHeader allocates a Message sized for the body the given
// header advertises and copies the header prefix in, mirroring
// BinaryMessage(const protocol_binary_request_header&) in
// original_source/src/binarymessage.h.
func newMessageFromHeader(h *header) *Message {
	buf := make([]byte, headerSize+int(h.BodyLen()))
	copy(buf, h[:])
	return &Message{buf: buf}
}

// WrapMessage builds a Message from a raw, already assembled header+body
// buffer, taking ownership of buf.
func WrapMessage(buf []byte) *Message { return &Message{buf: buf} }

func (m *Message) header() *header { return (*header)(m.buf[0:headerSize]) }

// Bytes returns the full wire representation (header + body), ready to
// write to a socket.
func (m *Message) Bytes() []byte { return m.buf }

func (m *Message) Magic() byte     { return m.header().Magic() }
func (m *Message) Opcode() byte    { return m.header().Opcode() }
func (m *Message) KeyLen() uint16  { return m.header().KeyLen() }
func (m *Message) ExtLen() uint8   { return m.header().ExtLen() }
func (m *Message) VBucket() uint16 { return m.header().VBucket() }
func (m *Message) Status() uint16  { return m.header().Status() }
func (m *Message) BodyLen() uint32 { return m.header().BodyLen() }
func (m *Message) Opaque() uint32  { return m.header().Opaque() }
func (m *Message) Cas() uint64     { return m.header().Cas() }

// body returns extras||key||value, i.e. everything after the 24-byte
// header.
func (m *Message) body() []byte { return m.buf[headerSize:] }

// Extras returns the extras region of the body.
func (m *Message) Extras() []byte {
	return m.body()[:m.ExtLen()]
}

// Key returns the key region of the body.
func (m *Message) Key() []byte {
	el := int(m.ExtLen())
	return m.body()[el : el+int(m.KeyLen())]
}

// Value returns the value region of the body (everything past extras and
// key).
func (m *Message) Value() []byte {
	off := int(m.ExtLen()) + int(m.KeyLen())
	return m.body()[off:]
}

// SetVBucket overwrites the request vbucket field in place.
func (m *Message) SetVBucket(id uint16) { m.header().setVBucket(id) }

// tapMutationExtras is the extras layout for TAP_MUTATION frames: an 8-byte
// TAP engine-private header (length, flags, ttl, reserved) followed by the
// 4-byte item flags and 4-byte item expiration fields that -E/-f rewrite.
const (
	tapMutationItemFlagsOffset = 8
	tapMutationItemExpOffset   = 12
	tapMutationExtrasLen       = 16
)

// SetExpiry overwrites the 4-byte item expiration field inside a
// TAP_MUTATION message's extras with v in network order, per spec.md §4.4.
// No-op (and safe) on any other opcode or on extras too short to carry it.
func (m *Message) SetExpiry(v uint32) bool {
	if m.Opcode() != OpTapMutation || len(m.Extras()) < tapMutationExtrasLen {
		return false
	}
	binary.BigEndian.PutUint32(m.Extras()[tapMutationItemExpOffset:], v)
	return true
}

// SetFlags overwrites the 4-byte item flags field inside a TAP_MUTATION
// message's extras with v in network order, per spec.md §4.4.
func (m *Message) SetFlags(v uint32) bool {
	if m.Opcode() != OpTapMutation || len(m.Extras()) < tapMutationExtrasLen {
		return false
	}
	binary.BigEndian.PutUint32(m.Extras()[tapMutationItemFlagsOffset:], v)
	return true
}

// VbucketSetState decodes the 4-byte vbucket_state_t carried in a
// TAP_VBUCKET_SET message's value, per spec.md §6. ok is false if the
// message isn't a TAP_VBUCKET_SET or its value is too short.
func (m *Message) VbucketSetState() (state uint32, ok bool) {
	if m.Opcode() != OpTapVBucketSet || len(m.Value()) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Value()[0:4]), true
}

// NewRequest builds a request Message with zero-initialized fields set per
// the arguments, writing multibyte fields in network order, per spec.md
// §4.1 ("Emits requests by zero-initializing a buffer, setting fields, and
// writing bytes in network order").
func NewRequest(opcode byte, vbucket uint16, extras, key, value []byte, opaque uint32) *Message {
	bodylen := len(extras) + len(key) + len(value)
	buf := make([]byte, headerSize+bodylen)
	h := (*header)(buf[0:headerSize])
	h.setMagic(magicRequest)
	h.setOpcode(opcode)
	h.setKeyLen(uint16(len(key)))
	h.setExtLen(uint8(len(extras)))
	h.setVBucket(vbucket)
	h.setBodyLen(uint32(bodylen))
	h.setOpaque(opaque)

	body := buf[headerSize:]
	n := copy(body, extras)
	n += copy(body[n:], key)
	copy(body[n:], value)

	return &Message{buf: buf}
}
