package storage

import "encoding/binary"

// On-disk layout constants, bit-exact per the format this engine reads and
// writes:
//
//	offset 0,  4 bytes: magic "EMB1"
//	offset 4,  2 bytes: version, little-endian
//	offset 6,  4 bytes: dim, unsigned little-endian
//	offset 10, 6 bytes: zero padding
//	offset 16: records, back to back, (id[IDLen] ‖ vec[4*dim])
const (
	MagicBytes     = "EMB1"
	CurrentVersion = uint16(1)
	HeaderSize     = 16
	IDLen          = 16
)

// Header is the fixed 16-byte file header.
type Header struct {
	Magic   [4]byte
	Version uint16
	Dim     uint32
}

// NewHeader builds the header written for a freshly created database.
func NewHeader(dim uint32) *Header {
	h := &Header{Version: CurrentVersion, Dim: dim}
	copy(h.Magic[:], MagicBytes)
	return h
}

// Encode serializes the header to its HeaderSize-byte on-disk form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint32(buf[6:10], h.Dim)
	// buf[10:16] stays zero padding.
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer. It does not validate magic,
// version, or dimension; callers check those against the caller's expected
// dimension where relevant.
func DecodeHeader(buf []byte) *Header {
	h := &Header{}
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Dim = binary.LittleEndian.Uint32(buf[6:10])
	return h
}

// recordSize returns the on-disk size in bytes of one record for a database
// of the given dimension.
func recordSize(dim uint32) int64 {
	return int64(IDLen) + 4*int64(dim)
}
