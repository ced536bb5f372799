// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "encoding/binary"

// readU8/readU16/readU32/readU64 read a little-endian value at *off,
// advancing *off past it. They fail (returning false) rather than panic
// when the read would run past len(data), mirroring the wrapped parser's
// bounds-checked ReadUintN helpers but operating on a cursor offset rather
// than a fixed pe.size.

func readU8(data []byte, off *int) (uint8, bool) {
	if *off < 0 || *off+1 > len(data) {
		return 0, false
	}
	v := data[*off]
	*off++
	return v, true
}

func readI8(data []byte, off *int) (int8, bool) {
	v, ok := readU8(data, off)
	return int8(v), ok
}

func readU16(data []byte, off *int) (uint16, bool) {
	if *off < 0 || *off+2 > len(data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(data[*off:])
	*off += 2
	return v, true
}

func readI16(data []byte, off *int) (int16, bool) {
	v, ok := readU16(data, off)
	return int16(v), ok
}

func readU32(data []byte, off *int) (uint32, bool) {
	if *off < 0 || *off+4 > len(data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(data[*off:])
	*off += 4
	return v, true
}

func readI32(data []byte, off *int) (int32, bool) {
	v, ok := readU32(data, off)
	return int32(v), ok
}

func readU64(data []byte, off *int) (uint64, bool) {
	if *off < 0 || *off+8 > len(data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(data[*off:])
	*off += 8
	return v, true
}

func readI64(data []byte, off *int) (int64, bool) {
	v, ok := readU64(data, off)
	return int64(v), ok
}

// advanceStream skips b bytes without interpreting them, failing if that
// would run past the end of data.
func advanceStream(data []byte, off *int, b int) bool {
	if *off < 0 || b < 0 || *off+b > len(data) {
		return false
	}
	*off += b
	return true
}

// writeU8/writeU16/writeU32/writeU64 append a little-endian value to buf
// and return the new slice, growing buf through append as needed (the
// serialiser builds its output from empty slices this way).

func writeU8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

func writeU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func writeU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func writeU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// decompressU32 decodes an ECMA-335 II.23.2 compressed unsigned integer
// starting at *off, advancing *off past the encoding.
//
//	0xxxxxxx                            -> 1 byte,  7 bits of value
//	10xxxxxx xxxxxxxx                   -> 2 bytes, 14 bits of value
//	110xxxxx xxxxxxxx xxxxxxxx xxxxxxxx -> 4 bytes, 29 bits of value
func decompressU32(data []byte, off *int) (uint32, bool) {
	if *off < 0 || *off >= len(data) {
		return 0, false
	}
	first := data[*off]
	switch {
	case first&0x80 == 0:
		*off++
		return uint32(first), true
	case first&0xc0 == 0x80:
		if *off+2 > len(data) {
			return 0, false
		}
		v := (uint32(first&0x3f) << 8) | uint32(data[*off+1])
		*off += 2
		return v, true
	case first&0xe0 == 0xc0:
		if *off+4 > len(data) {
			return 0, false
		}
		v := (uint32(first&0x1f) << 24) |
			(uint32(data[*off+1]) << 16) |
			(uint32(data[*off+2]) << 8) |
			uint32(data[*off+3])
		*off += 4
		return v, true
	default:
		return 0, false
	}
}

// decompressI32 decodes an ECMA-335 II.23.2 compressed signed integer: the
// unsigned decode is rotated right by one bit, then sign-extended from the
// width actually consumed (1/2/4 bytes -> 7/14/29 significant bits).
func decompressI32(data []byte, off *int) (int32, bool) {
	start := *off
	u, ok := decompressU32(data, off)
	if !ok {
		return 0, false
	}
	width := *off - start
	var bits uint
	switch width {
	case 1:
		bits = 7
	case 2:
		bits = 14
	case 4:
		bits = 29
	default:
		return 0, false
	}

	signBit := u & 1
	v := u >> 1
	if signBit != 0 {
		// Sign-extend: set all bits from position (bits-1) upward.
		v |= ^uint32(0) << (bits - 1)
	}
	return int32(v), true
}

// compressU32 encodes u per II.23.2 into the smallest of the 1/2/4-byte
// buckets and appends it to buf.
func compressU32(buf []byte, u uint32) ([]byte, bool) {
	switch {
	case u <= 0x7f:
		return append(buf, byte(u)), true
	case u <= 0x3fff:
		return append(buf, byte(0x80|(u>>8)), byte(u)), true
	case u <= 0x1fffffff:
		return append(buf,
			byte(0xc0|(u>>24)),
			byte(u>>16),
			byte(u>>8),
			byte(u)), true
	default:
		return buf, false
	}
}

// compressedLength reports how many bytes compressU32 would emit for u,
// without allocating.
func compressedLength(u uint32) int {
	switch {
	case u <= 0x7f:
		return 1
	case u <= 0x3fff:
		return 2
	case u <= 0x1fffffff:
		return 4
	default:
		return 0
	}
}
