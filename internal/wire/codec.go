package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the grpc content subtype for raw frames
const CodecName = "frame"

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frameCodec carries *Frame values through grpc unchanged
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("frame codec: cannot marshal %T", v)
	}
	return f.Encode(), nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("frame codec: cannot unmarshal into %T", v)
	}
	// grpc enforces its own receive limit, so only the header length is cross-checked
	decoded, err := DecodeFrame(data, uint32(len(data)))
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}

func (frameCodec) Name() string {
	return CodecName
}
