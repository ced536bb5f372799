// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "testing"

func TestWidthForTableColumn(t *testing.T) {
	if w := widthForTableColumn(0xFFFF, false); w != 2 {
		t.Fatalf("65535 rows: width %d, want 2", w)
	}
	if w := widthForTableColumn(0x10000, false); w != 4 {
		t.Fatalf("65536 rows: width %d, want 4", w)
	}
	if w := widthForTableColumn(1, true); w != 4 {
		t.Fatalf("minimal delta: width %d, want 4", w)
	}
}

func TestWidthForHeapColumn(t *testing.T) {
	var flags heapSizeFlags
	if w := widthForHeapColumn(heapString, flags, false); w != 2 {
		t.Fatalf("small strings heap: width %d, want 2", w)
	}
	flags.setLarge(heapString, true)
	if w := widthForHeapColumn(heapString, flags, false); w != 4 {
		t.Fatalf("large strings heap: width %d, want 4", w)
	}
	// #US shares the #Blob size bit.
	flags = 0
	flags.setLarge(heapBlob, true)
	if w := widthForHeapColumn(heapUserString, flags, false); w != 4 {
		t.Fatalf("US with large blob bit: width %d, want 4", w)
	}
	if w := widthForHeapColumn(heapGUID, 0, true); w != 4 {
		t.Fatalf("minimal delta: width %d, want 4", w)
	}
}

func TestWidthForCodedColumnBoundary(t *testing.T) {
	// TypeDefOrRef has 2 tag bits, so the 2-byte form holds 2^14-1 rows.
	counts := map[TableID]uint32{TypeDef: 1<<14 - 1}
	if w := widthForCodedColumn(ciTypeDefOrRef, counts, false); w != 2 {
		t.Fatalf("16383 rows: width %d, want 2", w)
	}
	counts[TypeDef] = 1 << 14
	if w := widthForCodedColumn(ciTypeDefOrRef, counts, false); w != 4 {
		t.Fatalf("16384 rows: width %d, want 4", w)
	}
	// HasCustomAttribute has 5 tag bits: boundary at 2^11.
	counts = map[TableID]uint32{MethodDef: 1<<11 - 1}
	if w := widthForCodedColumn(ciHasCustomAttribute, counts, false); w != 2 {
		t.Fatalf("2047 rows: width %d, want 2", w)
	}
	counts[MethodDef] = 1 << 11
	if w := widthForCodedColumn(ciHasCustomAttribute, counts, false); w != 4 {
		t.Fatalf("2048 rows: width %d, want 4", w)
	}
}

func TestLayoutTableOffsets(t *testing.T) {
	counts := map[TableID]uint32{TypeDef: 10, Field: 10, MethodDef: 10}
	cols := layoutTable(TypeDef, counts, 0, false)

	wantOffsets := []uint16{0, 4, 6, 8, 10, 12}
	wantWidths := []uint8{4, 2, 2, 2, 2, 2}
	for i, col := range cols {
		if col.offset != wantOffsets[i] || col.width != wantWidths[i] {
			t.Fatalf("col %d = offset %d width %d, want offset %d width %d",
				i, col.offset, col.width, wantOffsets[i], wantWidths[i])
		}
	}
	if size := rowSizeOf(cols); size != 14 {
		t.Fatalf("row size = %d, want 14", size)
	}
}

func TestLayoutUsesIndirectionTableWhenLive(t *testing.T) {
	counts := map[TableID]uint32{TypeDef: 1, Field: 0x20000, FieldPtr: 5}
	cols := layoutTable(TypeDef, counts, 0, false)
	fieldList := cols[4]
	if fieldList.effectiveTarget != FieldPtr {
		t.Fatalf("FieldList target = %v, want FieldPtr", fieldList.effectiveTarget)
	}
	// Sized against FieldPtr's 5 rows, not Field's 128K.
	if fieldList.width != 2 {
		t.Fatalf("FieldList width = %d, want 2", fieldList.width)
	}
}

func TestParseTablesHeaderTruncated(t *testing.T) {
	var data []byte
	data = writeU32(data, 0)
	data = writeU8(data, 2)
	data = writeU8(data, 0)
	for cut := 0; cut <= len(data); cut++ {
		if _, _, ok := parseTablesStreamHeader(data[:cut]); ok {
			t.Fatalf("truncated header of %d bytes accepted", cut)
		}
	}
}
