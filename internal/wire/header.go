package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed size of every message header in bytes
	HeaderSize = 40

	// ProtocolVersion is carried in the low half of the header prefix
	ProtocolVersion uint32 = 1

	prefixMagic uint64 = 0x42474653

	// DefaultMaxFrameSize bounds a frame when the caller passes no limit
	DefaultMaxFrameSize uint32 = 4 * 1024 * 1024
)

// Header flags
const (
	FlagBuddyMirrorSecond uint8 = 0x01 // copy is destined for the secondary replica
	FlagIsSelectiveAck    uint8 = 0x02 // client acknowledges out of order
	FlagHasSequenceNumber uint8 = 0x04 // Sequence/SequenceDone are valid
)

var (
	ErrBadPrefix      = errors.New("wire: bad message prefix")
	ErrFrameTooShort  = errors.New("wire: frame shorter than header")
	ErrFrameTooLarge  = errors.New("wire: frame exceeds size limit")
	ErrLengthMismatch = errors.New("wire: header length does not match frame")
	ErrUnexpectedType = errors.New("wire: unexpected message type")
	ErrMalformed      = errors.New("wire: malformed message body")
)

// Header is the fixed-size little endian message header.
//
//	0  Length       u32
//	4  FeatureFlags u16
//	6  CompatFlags  u8
//	7  Flags        u8
//	8  Prefix       u64
//	16 Type         u16
//	18 TargetID     u16
//	20 SessionID    u32
//	24 Sequence     u64
//	32 SequenceDone u64
type Header struct {
	Length       uint32
	FeatureFlags uint16
	CompatFlags  uint8
	Flags        uint8
	Type         MsgType
	TargetID     uint16
	SessionID    uint32
	Sequence     uint64
	SequenceDone uint64
}

// HasFlag reports whether all bits of f are set
func (h *Header) HasFlag(f uint8) bool {
	return h.Flags&f == f
}

// IsBuddyMirrorSecond reports whether the message is a forwarded secondary copy
func (h *Header) IsBuddyMirrorSecond() bool {
	return h.HasFlag(FlagBuddyMirrorSecond)
}

// SetSequence stores a sequence pair and marks it valid
func (h *Header) SetSequence(seq, seqDone uint64) {
	h.Sequence = seq
	h.SequenceDone = seqDone
	h.Flags |= FlagHasSequenceNumber
}

func prefix() uint64 {
	return prefixMagic<<32 | uint64(ProtocolVersion)
}

// MarshalTo writes the header into b, which must hold HeaderSize bytes
func (h *Header) MarshalTo(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Length)
	le.PutUint16(b[4:], h.FeatureFlags)
	b[6] = h.CompatFlags
	b[7] = h.Flags
	le.PutUint64(b[8:], prefix())
	le.PutUint16(b[16:], uint16(h.Type))
	le.PutUint16(b[18:], h.TargetID)
	le.PutUint32(b[20:], h.SessionID)
	le.PutUint64(b[24:], h.Sequence)
	le.PutUint64(b[32:], h.SequenceDone)
}

// UnmarshalHeader parses and validates a header. The length is checked
// against maxSize so the caller can refuse a frame before reading its body.
func UnmarshalHeader(b []byte, maxSize uint32) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrFrameTooShort
	}
	le := binary.LittleEndian
	if p := le.Uint64(b[8:]); p>>32 != prefixMagic {
		return Header{}, fmt.Errorf("%w: %#x", ErrBadPrefix, p)
	}

	h := Header{
		Length:       le.Uint32(b[0:]),
		FeatureFlags: le.Uint16(b[4:]),
		CompatFlags:  b[6],
		Flags:        b[7],
		Type:         MsgType(le.Uint16(b[16:])),
		TargetID:     le.Uint16(b[18:]),
		SessionID:    le.Uint32(b[20:]),
		Sequence:     le.Uint64(b[24:]),
		SequenceDone: le.Uint64(b[32:]),
	}

	if h.Length < HeaderSize {
		return Header{}, ErrFrameTooShort
	}
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	if h.Length > maxSize {
		return Header{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.Length, maxSize)
	}
	return h, nil
}

// Frame is one header plus its encoded body
type Frame struct {
	Header Header
	Body   []byte
}

// Encode returns the frame's wire bytes with Length filled in
func (f *Frame) Encode() []byte {
	f.Header.Length = uint32(HeaderSize + len(f.Body))
	buf := make([]byte, f.Header.Length)
	f.Header.MarshalTo(buf)
	copy(buf[HeaderSize:], f.Body)
	return buf
}

// DecodeFrame parses a complete frame held in memory
func DecodeFrame(b []byte, maxSize uint32) (*Frame, error) {
	h, err := UnmarshalHeader(b, maxSize)
	if err != nil {
		return nil, err
	}
	if int(h.Length) != len(b) {
		return nil, fmt.Errorf("%w: header %d, frame %d", ErrLengthMismatch, h.Length, len(b))
	}
	body := make([]byte, len(b)-HeaderSize)
	copy(body, b[HeaderSize:])
	return &Frame{Header: h, Body: body}, nil
}

// NewFrame encodes msg under a copy of hdr with the type set
func NewFrame(msg Message, hdr Header) *Frame {
	hdr.Type = msg.MsgType()
	body := msg.MarshalBody()
	hdr.Length = uint32(HeaderSize + len(body))
	return &Frame{Header: hdr, Body: body}
}

// Decode unmarshals the body into msg after checking the type
func (f *Frame) Decode(msg Message) error {
	if f.Header.Type != msg.MsgType() {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType, f.Header.Type, msg.MsgType())
	}
	return msg.UnmarshalBody(f.Body)
}
