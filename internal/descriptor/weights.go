package descriptor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Encoding is the element format of the weight blob.
type Encoding string

const (
	EncodingFloat32 Encoding = "float32"
	EncodingFloat16 Encoding = "float16"
)

// ParseEncoding accepts "float32", "float16" and the short forms "f32" and
// "f16". The empty string selects float32.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "float32", "f32":
		return EncodingFloat32, nil
	case "float16", "f16":
		return EncodingFloat16, nil
	}
	return "", fmt.Errorf("unknown weight encoding %q", s)
}

// ElementBytes is the encoded size of one element.
func (e Encoding) ElementBytes() int {
	if e == EncodingFloat16 {
		return 2
	}
	return 4
}

// Encode packs values little-endian in the encoding.
func (e Encoding) Encode(dst []byte, values []float32) {
	switch e {
	case EncodingFloat16:
		for i, v := range values {
			binary.LittleEndian.PutUint16(dst[2*i:], float16.Fromfloat32(v).Bits())
		}
	default:
		for i, v := range values {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
		}
	}
}

// DecodeWeights expands a weight blob into float32 elements. The result has
// one element per four static-buffer bytes regardless of the encoding.
func DecodeWeights(blob []byte, e Encoding) ([]float32, error) {
	n := e.ElementBytes()
	if len(blob)%n != 0 {
		return nil, fmt.Errorf("weight blob of %d bytes is not a whole number of %s elements", len(blob), e)
	}
	out := make([]float32, len(blob)/n)
	for i := range out {
		switch e {
		case EncodingFloat16:
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(blob[2*i:])).Float32()
		default:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
		}
	}
	return out, nil
}
