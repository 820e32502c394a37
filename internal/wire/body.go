package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encoder appends protobuf-format fields to a body. Zero values are omitted.
type Encoder struct {
	b []byte
}

// Bytes returns the encoded body
func (e *Encoder) Bytes() []byte {
	return e.b
}

func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *Encoder) Int(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeZigZag(v))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint(num, 1)
	}
}

func (e *Encoder) Raw(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *Encoder) String(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

// RepeatedString writes every element, including empty ones
func (e *Encoder) RepeatedString(num protowire.Number, vs []string) {
	for _, v := range vs {
		e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
		e.b = protowire.AppendString(e.b, v)
	}
}

// BodyMarshaler is anything that encodes itself as a body
type BodyMarshaler interface {
	MarshalBody() []byte
}

// Nested writes a length-delimited sub-message, even when empty
func (e *Encoder) Nested(num protowire.Number, m BodyMarshaler) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, m.MarshalBody())
}

// Field is one decoded field. Varint holds the raw varint value, Data the
// payload of a length-delimited field.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Data   []byte
}

// Int decodes a zigzag varint
func (f Field) Int() int64 {
	return protowire.DecodeZigZag(f.Varint)
}

// Bool decodes a varint bool
func (f Field) Bool() bool {
	return f.Varint != 0
}

// Text copies a length-delimited field into a string
func (f Field) Text() string {
	return string(f.Data)
}

// Copy returns an owned copy of a length-delimited payload
func (f Field) Copy() []byte {
	if f.Data == nil {
		return nil
	}
	out := make([]byte, len(f.Data))
	copy(out, f.Data)
	return out
}

// DecodeFields walks b and calls fn for every field. Unknown wire types
// are skipped.
func DecodeFields(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.Data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
