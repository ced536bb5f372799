// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "math/bits"

// heapSizeFlags mirrors the HeapSizes byte of the tables stream header
// (II.24.2.6): one bit per heap signalling whether its indexes are stored
// as 2 or 4 bytes. #US shares the #Blob bit, since both are byte-addressed,
// length-prefixed heaps and ECMA-335 only allocates three bits here.
type heapSizeFlags uint8

const (
	heapFlagLargeStrings heapSizeFlags = 0x01
	heapFlagLargeGUID    heapSizeFlags = 0x02
	heapFlagLargeBlob    heapSizeFlags = 0x04
)

func (f heapSizeFlags) large(h heapKind) bool {
	switch h {
	case heapString:
		return f&heapFlagLargeStrings != 0
	case heapGUID:
		return f&heapFlagLargeGUID != 0
	case heapBlob, heapUserString:
		return f&heapFlagLargeBlob != 0
	default:
		return false
	}
}

func (f *heapSizeFlags) setLarge(h heapKind, large bool) {
	var bit heapSizeFlags
	switch h {
	case heapString:
		bit = heapFlagLargeStrings
	case heapGUID:
		bit = heapFlagLargeGUID
	case heapBlob, heapUserString:
		bit = heapFlagLargeBlob
	default:
		return
	}
	if large {
		*f |= bit
	} else {
		*f &^= bit
	}
}

// liveColumn is the per-image realisation of a columnSpec: its storage
// width and byte offset, computed once at layout time (or recomputed on
// column-width promotion by the editor), plus the column's effective
// target table once list-column indirection retargeting (SPEC_FULL.md
// §4.4 step 2) has been applied.
type liveColumn struct {
	spec            columnSpec
	effectiveTarget TableID // meaningful when spec.kind == kindTable
	width           uint8   // 2 or 4
	offset          uint16
}

// tableState is the per-image, mutable view of one logical table: its
// live column layout, row count, and a borrowed (read-only) or owned
// (post-edit) backing slice of exactly rowCount*rowSizeBytes bytes.
type tableState struct {
	id             TableID
	columns        []liveColumn
	rowSizeBytes   uint16
	rowCount       uint32
	data           []byte
	isSorted       bool
	isAddingNewRow bool
}

// effectiveRowCount returns the row count layout should use when sizing
// columns that reference target: if target is a list-target table with a
// live (non-empty) indirection table, columns must be sized against the
// indirection table instead, since that's what they actually index into.
func effectiveRowCount(target TableID, rowCounts map[TableID]uint32) (TableID, uint32) {
	if indirect, ok := correspondingIndirectionTable(target); ok && rowCounts[indirect] > 0 {
		return indirect, rowCounts[indirect]
	}
	return target, rowCounts[target]
}

func widthForTableColumn(targetRowCount uint32, minimalDelta bool) uint8 {
	if !minimalDelta && targetRowCount <= 0xFFFF {
		return 2
	}
	return 4
}

func widthForHeapColumn(h heapKind, flags heapSizeFlags, minimalDelta bool) uint8 {
	if !minimalDelta && !flags.large(h) {
		return 2
	}
	return 4
}

func widthForCodedColumn(ci codedIndexID, rowCounts map[TableID]uint32, minimalDelta bool) uint8 {
	if minimalDelta {
		return 4
	}
	m := codedIndexMaps[ci]
	var maxRows uint32
	for _, t := range m.tables {
		if t == ciReserved {
			continue
		}
		if rowCounts[t] > maxRows {
			maxRows = rowCounts[t]
		}
	}
	if maxRows < codedIndexMaxRowBound(ci) {
		return 2
	}
	return 4
}

// layoutTable computes the live column set and row size for one table
// given the current per-table row counts and heap-size flags. It does not
// touch table.data; callers attach the backing bytes separately (either
// by slicing the tables-heap at parse time, or by the editor on growth).
func layoutTable(id TableID, rowCounts map[TableID]uint32, flags heapSizeFlags, minimalDelta bool) []liveColumn {
	specs := tableSchema[id]
	cols := make([]liveColumn, len(specs))
	var offset uint16
	for i, spec := range specs {
		col := liveColumn{spec: spec, offset: offset}
		switch spec.kind {
		case kindConstant:
			col.width = spec.constWidth
		case kindHeap:
			col.width = widthForHeapColumn(spec.heap, flags, minimalDelta)
		case kindTable:
			target, rows := effectiveRowCount(spec.target, rowCounts)
			col.effectiveTarget = target
			col.width = widthForTableColumn(rows, minimalDelta)
		case kindCoded:
			col.width = widthForCodedColumn(spec.coded, rowCounts, minimalDelta)
		}
		cols[i] = col
		offset += uint16(col.width)
	}
	return cols
}

func rowSizeOf(cols []liveColumn) uint16 {
	var size uint16
	for _, c := range cols {
		size += uint16(c.width)
	}
	return size
}

// tablesStreamHeader is the parsed fixed portion of a #~/#- stream,
// grounded in original_source/streams.c's initialize_tables.
type tablesStreamHeader struct {
	majorVersion uint8
	minorVersion uint8
	heapSizes    heapSizeFlags
	validTables  uint64
	sortedTables uint64
}

// parseTablesStreamHeader reads the fixed fields preceding the per-table
// row-count array, returning the offset at which that array begins.
func parseTablesStreamHeader(data []byte) (tablesStreamHeader, int, bool) {
	var hdr tablesStreamHeader
	off := 0
	if !advanceStream(data, &off, 4) { // reserved
		return hdr, 0, false
	}
	maj, ok := readU8(data, &off)
	if !ok {
		return hdr, 0, false
	}
	min, ok := readU8(data, &off)
	if !ok {
		return hdr, 0, false
	}
	hs, ok := readU8(data, &off)
	if !ok {
		return hdr, 0, false
	}
	if _, ok = readU8(data, &off); !ok { // reserved
		return hdr, 0, false
	}
	valid, ok := readU64(data, &off)
	if !ok {
		return hdr, 0, false
	}
	sorted, ok := readU64(data, &off)
	if !ok {
		return hdr, 0, false
	}
	hdr.majorVersion, hdr.minorVersion = maj, min
	hdr.heapSizes = heapSizeFlags(hs)
	hdr.validTables, hdr.sortedTables = valid, sorted
	return hdr, off, true
}

// parseTables reads the row-count array and every live table's row bytes
// from a #~/#- stream, given any PDB-referenced type-system row counts to
// merge in (nil if none). It returns the live table states keyed by id.
func parseTables(data []byte, pdbRowCounts map[TableID]uint32, minimalDelta bool) (map[TableID]*tableState, tablesStreamHeader, error) {
	hdr, off, ok := parseTablesStreamHeader(data)
	if !ok {
		return nil, hdr, ErrTableStreamTruncated
	}

	rowCounts := make(map[TableID]uint32, bits.OnesCount64(hdr.validTables))
	for i := 0; i < 64; i++ {
		if hdr.validTables&(1<<uint(i)) == 0 {
			continue
		}
		n, ok := readU32(data, &off)
		if !ok {
			return nil, hdr, ErrTableStreamTruncated
		}
		rowCounts[TableID(i)] = n
	}
	for id, n := range pdbRowCounts {
		rowCounts[id] += n
	}

	tables := make(map[TableID]*tableState, len(rowCounts))
	for i := 0; i < 64; i++ {
		if hdr.validTables&(1<<uint(i)) == 0 {
			continue
		}
		id := TableID(i)
		cols := layoutTable(id, rowCounts, hdr.heapSizes, minimalDelta)
		rowSize := rowSizeOf(cols)
		rowCount := rowCounts[id]
		size := int(rowSize) * int(rowCount)
		if off+size > len(data) {
			return nil, hdr, ErrTableStreamTruncated
		}
		tables[id] = &tableState{
			id:           id,
			columns:      cols,
			rowSizeBytes: rowSize,
			rowCount:     rowCount,
			data:         data[off : off+size : off+size],
			isSorted:     hdr.sortedTables&(1<<uint(i)) != 0,
		}
		off += size
	}
	return tables, hdr, nil
}
