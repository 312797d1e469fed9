package storage

import (
	"encoding/binary"
	"math"
)

// encodeVector serializes a float32 slice to its little-endian byte form.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

// decodeVector parses a little-endian float32 byte buffer into a fresh slice.
func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	decodeVectorInto(buf, out)
	return out
}

// decodeVectorInto decodes into a caller-supplied scratch buffer, avoiding an
// allocation per record on the search kernel's hot path.
func decodeVectorInto(buf []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
}
