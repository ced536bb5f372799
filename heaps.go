// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

// userString is a decoded #US heap entry: a UTF-16LE byte run plus the
// trailing "needs non-8-bit-safe handling" flag byte defined in II.24.2.4.
type userString struct {
	utf16LE   []byte
	finalByte byte
}

// tryGetString returns the NUL-terminated UTF-8 string stored at offset in
// the #Strings heap. It fails if offset is outside the heap.
func tryGetString(heap []byte, offset uint32) (string, bool) {
	if uint32(len(heap)) <= offset {
		return "", false
	}
	end := offset
	for end < uint32(len(heap)) && heap[end] != 0 {
		end++
	}
	return string(heap[offset:end]), true
}

// validateStringsHeap checks the II.24.2.3 invariant that a non-empty
// #Strings heap begins with the empty string (a leading NUL).
func validateStringsHeap(heap []byte) error {
	if len(heap) == 0 {
		return nil
	}
	if heap[0] != 0 {
		return ErrStringsHeapNotNull
	}
	return nil
}

// tryGetBlob decodes the compressed-length-prefixed byte blob at offset in
// the #Blob heap, per II.24.2.4, returning the payload and the offset just
// past it.
func tryGetBlob(heap []byte, offset uint32) (blob []byte, nextOffset uint32, ok bool) {
	if uint32(len(heap)) <= offset {
		return nil, 0, false
	}
	off := int(offset)
	n, ok := decompressU32(heap, &off)
	if !ok {
		return nil, 0, false
	}
	end := off + int(n)
	if end > len(heap) {
		return nil, 0, false
	}
	return heap[off:end], uint32(end), true
}

func validateBlobHeap(heap []byte) error {
	if len(heap) == 0 {
		return nil
	}
	if heap[0] != 0 {
		return ErrBlobHeapBad
	}
	return nil
}

// tryGetUserString decodes the compressed-length-prefixed UTF-16 entry at
// offset in the #US heap, per II.24.2.4, including the trailing
// "has special char" byte.
func tryGetUserString(heap []byte, offset uint32) (str userString, nextOffset uint32, ok bool) {
	if uint32(len(heap)) <= offset {
		return userString{}, 0, false
	}
	off := int(offset)
	n, ok := decompressU32(heap, &off)
	if !ok {
		return userString{}, 0, false
	}
	if n == 0 {
		return userString{}, uint32(off), true
	}
	end := off + int(n)
	if end > len(heap) {
		return userString{}, 0, false
	}
	return userString{
		utf16LE:   heap[off : end-1],
		finalByte: heap[end-1],
	}, uint32(end), true
}

func validateUserStringHeap(heap []byte) error {
	if len(heap) == 0 {
		return nil
	}
	if heap[0] != 0 {
		return ErrUserStringsHeapBad
	}
	return nil
}

// guid is a raw 16-byte GUID record, stored little-endian as found in the
// heap (no field-by-field reinterpretation is performed by this package).
type guid [16]byte

var zeroGUID guid

// tryGetGUID returns the 1-based idx-th GUID from the #GUID heap. idx==0
// yields the all-zero GUID without touching the heap, per II.22.
func tryGetGUID(heap []byte, idx uint32) (guid, bool) {
	if idx == 0 {
		return zeroGUID, true
	}
	count := uint32(len(heap) / 16)
	if idx > count {
		return guid{}, false
	}
	var g guid
	copy(g[:], heap[(idx-1)*16:idx*16])
	return g, true
}

func validateGUIDHeap(heap []byte) error {
	if len(heap)%16 != 0 {
		return ErrGUIDHeapMisaligned
	}
	return nil
}

// pdbInfo is the parsed content of the optional #Pdb stream: the PDB id,
// entry-point token, and the set of type-system tables (with their row
// counts) this portable PDB's tables reference, per the Portable PDB spec.
type pdbInfo struct {
	pdbID                    [20]byte
	entryPoint               uint32
	referencedTypeSystemRows map[TableID]uint32
}

func parsePdbStream(data []byte) (pdbInfo, error) {
	var info pdbInfo
	if len(data) == 0 {
		return info, nil
	}
	off := 0
	if !advanceStream(data, &off, len(info.pdbID)) {
		return info, ErrPdbStreamTruncated
	}
	copy(info.pdbID[:], data[off-len(info.pdbID):off])

	ep, ok := readU32(data, &off)
	if !ok {
		return info, ErrPdbStreamTruncated
	}
	info.entryPoint = ep

	referenced, ok := readU64(data, &off)
	if !ok {
		return info, ErrPdbStreamTruncated
	}

	info.referencedTypeSystemRows = make(map[TableID]uint32)
	for i := 0; i < 64; i++ {
		if referenced&(1<<uint(i)) == 0 {
			continue
		}
		n, ok := readU32(data, &off)
		if !ok {
			return info, ErrPdbStreamTruncated
		}
		info.referencedTypeSystemRows[TableID(i)] = n
	}
	if off != len(data) {
		return info, ErrPdbStreamTruncated
	}
	return info, nil
}
