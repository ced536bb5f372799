// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"io"
	"sort"
)

// namedStream is one payload destined for the metadata root's stream
// directory.
type namedStream struct {
	name string
	data []byte
}

// WriteTo serialises img back to the ECMA-335 metadata root format. If no
// edit has been made since the image was parsed, it copies the original
// input bytes verbatim instead of re-encoding from the live tables.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	var out []byte
	if !img.dirty {
		out = img.raw
	} else {
		out = img.serialize()
	}
	n, err := w.Write(out)
	return int64(n), err
}

func (img *Image) hasLiveIndirectionTable() bool {
	for id := range indirectionOf {
		if t, ok := img.tables[id]; ok && t.rowCount > 0 {
			return true
		}
	}
	return false
}

func padTo4(b []byte) []byte {
	if len(b)%4 == 0 {
		return b
	}
	out := make([]byte, len(b), len(b)+4)
	copy(out, b)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

// buildTablesStream encodes the #~/#- payload: the fixed header, the
// valid/sorted bitmaps, the per-live-table row-count array, then every
// live table's raw row bytes, all in ascending table-id order.
func (img *Image) buildTablesStream() []byte {
	var valid, sorted uint64
	ids := make([]TableID, 0, len(img.tables))
	for id, t := range img.tables {
		if t.rowCount == 0 {
			continue
		}
		valid |= 1 << uint(id)
		if t.isSorted {
			sorted |= 1 << uint(id)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf []byte
	buf = writeU32(buf, 0) // reserved
	buf = writeU8(buf, img.header.majorVersion)
	buf = writeU8(buf, img.header.minorVersion)
	buf = writeU8(buf, uint8(img.heapFlags))
	buf = writeU8(buf, 0) // reserved
	buf = writeU64(buf, valid)
	buf = writeU64(buf, sorted)
	for _, id := range ids {
		buf = writeU32(buf, img.tables[id].rowCount)
	}
	for _, id := range ids {
		buf = append(buf, img.tables[id].data...)
	}
	return buf
}

// serialize builds a complete metadata root from the live heaps and
// tables, per SPEC_FULL.md §4.10.
func (img *Image) serialize() []byte {
	tablesName := "#~"
	if img.minimalDelta || img.hasLiveIndirectionTable() {
		tablesName = "#-"
	}

	streams := []namedStream{
		{name: tablesName, data: img.buildTablesStream()},
		{name: "#Strings", data: padTo4(img.stringsHeap)},
		{name: "#US", data: padTo4(img.usHeap)},
		{name: "#GUID", data: img.guidHeap},
		{name: "#Blob", data: padTo4(img.blobHeap)},
	}
	if img.hasPdb {
		streams = append(streams, namedStream{name: "#Pdb", data: img.pdbRaw})
	}
	if img.minimalDelta {
		streams = append(streams, namedStream{name: "#JTD", data: nil})
	}

	versionBytes := append([]byte(img.versionString), 0)
	for len(versionBytes)%4 != 0 {
		versionBytes = append(versionBytes, 0)
	}

	var out []byte
	out = writeU32(out, metadataSignature)
	out = writeU16(out, img.majorVersion)
	out = writeU16(out, img.minorVersion)
	out = writeU32(out, 0) // reserved
	out = writeU32(out, uint32(len(versionBytes)))
	out = append(out, versionBytes...)
	out = writeU16(out, 0) // flags
	out = writeU16(out, uint16(len(streams)))

	type placed struct {
		data []byte
		off  uint32
		size uint32
	}
	nameBytesOf := func(name string) []byte {
		b := append([]byte(name), 0)
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}

	dirSize := 0
	for _, s := range streams {
		dirSize += 8 + len(nameBytesOf(s.name))
	}
	offset := uint32(len(out) + dirSize)

	placedStreams := make([]placed, len(streams))
	for i, s := range streams {
		placedStreams[i] = placed{data: s.data, off: offset, size: uint32(len(s.data))}
		offset += uint32(len(s.data))
		pad := (4 - offset%4) % 4
		offset += pad
	}

	for i, s := range streams {
		out = writeU32(out, placedStreams[i].off)
		out = writeU32(out, placedStreams[i].size)
		out = append(out, nameBytesOf(s.name)...)
	}

	for _, p := range placedStreams {
		out = append(out, p.data...)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}

	return out
}
