package migrator

import "encoding/binary"

// Wire opcodes relevant to the core, per spec.md §6.
const (
	OpNoop           = 0x0A
	OpSaslListMechs  = 0x20
	OpSaslAuth       = 0x21
	OpSaslStep       = 0x22
	OpFlushQ         = 0x18
	OpGetVBucket     = 0x3B
	OpGetVBucketAlt  = 0x84
	OpTapConnect     = 0x40
	OpTapMutation    = 0x41
	OpTapDelete      = 0x42
	OpTapFlush       = 0x43
	OpTapOpaque      = 0x44
	OpTapVBucketSet  = 0x45
)

// Response status codes used by the synchronous sub-protocol.
const (
	StatusSuccess     = 0x00
	StatusAuthError   = 0x20
	StatusAuthContinue = 0x21
)

// TAP_CONNECT flag bits, per spec.md §6.
const (
	TapFlagListVbuckets     uint32 = 0x01
	TapFlagTakeoverVbuckets uint32 = 0x02
	TapFlagSupportAck       uint32 = 0x10
	TapFlagRegisteredClient uint32 = 0x20
)

// Vbucket states carried in a TAP_VBUCKET_SET value, per spec.md §6.
const (
	VbucketStateActive  = 1
	VbucketStateReplica = 2
	VbucketStatePending = 3
	VbucketStateDead    = 4
)

const (
	headerSize = 24

	magicRequest  = 0x80
	magicResponse = 0x81

	// MaxFrameSize is the implementation-chosen cap on bodylen; a header
	// advertising more than this is fatal to the pipe (spec.md §4.1).
	MaxFrameSize = 20 * 1024 * 1024
)

// header is a fixed 24-byte memcached binary protocol header, addressed
// directly as a byte slice the way the teacher's rawHeader/updHeader types
// expose accessor methods over a fixed-size buffer.
type header [headerSize]byte

func (h *header) Magic() byte     { return h[0] }
func (h *header) Opcode() byte    { return h[1] }
func (h *header) KeyLen() uint16  { return binary.BigEndian.Uint16(h[2:4]) }
func (h *header) ExtLen() uint8   { return h[4] }
func (h *header) DataType() uint8 { return h[5] }

// VBucket interprets bytes 6-7 as the request vbucket id.
func (h *header) VBucket() uint16 { return binary.BigEndian.Uint16(h[6:8]) }

// Status interprets bytes 6-7 as the response status; it overlaps VBucket.
func (h *header) Status() uint16   { return binary.BigEndian.Uint16(h[6:8]) }
func (h *header) BodyLen() uint32  { return binary.BigEndian.Uint32(h[8:12]) }
func (h *header) Opaque() uint32   { return binary.BigEndian.Uint32(h[12:16]) }
func (h *header) Cas() uint64      { return binary.BigEndian.Uint64(h[16:24]) }

func (h *header) setMagic(v byte)       { h[0] = v }
func (h *header) setOpcode(v byte)      { h[1] = v }
func (h *header) setKeyLen(v uint16)    { binary.BigEndian.PutUint16(h[2:4], v) }
func (h *header) setExtLen(v uint8)     { h[4] = v }
func (h *header) setVBucket(v uint16)   { binary.BigEndian.PutUint16(h[6:8], v) }
func (h *header) setStatus(v uint16)    { binary.BigEndian.PutUint16(h[6:8], v) }
func (h *header) setBodyLen(v uint32)   { binary.BigEndian.PutUint32(h[8:12], v) }
func (h *header) setOpaque(v uint32)    { binary.BigEndian.PutUint32(h[12:16], v) }
func (h *header) setCas(v uint64)       { binary.BigEndian.PutUint64(h[16:24], v) }

// validateMagic fails with ProtocolError unless magic is a request or
// response marker, per spec.md §4.1.
func validateMagic(h *header) error {
	switch h.Magic() {
	case magicRequest, magicResponse:
		return nil
	default:
		return newProtocolError("invalid magic byte 0x%02x", h.Magic())
	}
}

// checkBodyLen fails with FrameTooLarge when bodylen exceeds MaxFrameSize.
func checkBodyLen(bodylen uint32) error {
	if bodylen > MaxFrameSize {
		return &FrameTooLarge{BodyLen: bodylen}
	}
	return nil
}
