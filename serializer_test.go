// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"bytes"
	"testing"
)

func TestSerializeUsesCompressedNameByDefault(t *testing.T) {
	img, err := NewEmpty(nil)
	if err != nil {
		t.Fatalf("NewEmpty failed: %v", err)
	}
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("#~\x00")) {
		t.Fatal("output missing #~ stream name")
	}
	if bytes.Contains(buf.Bytes(), []byte("#-\x00")) {
		t.Fatal("output unexpectedly carries the #- stream name")
	}
}

func TestSerializeSwitchesToUncompressedNameOnIndirection(t *testing.T) {
	img := craftThreeTypeDefsOverFields(t)
	newField, err := img.AddNewRowToList(img.Row(TypeDef, 2), 4)
	if err != nil {
		t.Fatalf("AddNewRowToList failed: %v", err)
	}
	if err := img.CommitRowAdd(newField); err != nil {
		t.Fatalf("CommitRowAdd failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("#-\x00")) {
		t.Fatal("indirection-bearing image did not switch to the #- stream")
	}

	reparsed := mustParse(t, buf.Bytes(), nil)
	ptrCount, ok := reparsed.Table(FieldPtr)
	if !ok || ptrCount != 11 {
		t.Fatalf("reparsed FieldPtr = (%d, %v), want 11 rows", ptrCount, ok)
	}
	fieldCount, _ := reparsed.Table(Field)
	if fieldCount != 11 {
		t.Fatalf("reparsed Field = %d rows, want 11", fieldCount)
	}
	// The reparsed layout resolves the list column through FieldPtr again.
	if target := reparsed.tables[TypeDef].columns[4].effectiveTarget; target != FieldPtr {
		t.Fatalf("reparsed FieldList target = %v, want FieldPtr", target)
	}
}

func TestSerializeMinimalDeltaWritesJTD(t *testing.T) {
	img, err := NewEmpty(&Options{MinimalDelta: true})
	if err != nil {
		t.Fatalf("NewEmpty failed: %v", err)
	}
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("#JTD\x00")) {
		t.Fatal("minimal delta output missing the #JTD marker stream")
	}
	if !bytes.Contains(buf.Bytes(), []byte("#-\x00")) {
		t.Fatal("minimal delta output should use the #- stream name")
	}

	reparsed := mustParse(t, buf.Bytes(), nil)
	if !reparsed.minimalDelta {
		t.Fatal("reparsed image did not detect the #JTD marker")
	}
}

func TestSerializePreservesLogicalState(t *testing.T) {
	constantRows := make([]byte, 2*6)
	lo, _ := composeCodedIndex(Field, 1, ciHasConstant)
	hi, _ := composeCodedIndex(Field, 2, ciHasConstant)
	putU16(constantRows[0:], 2, uint16(lo))
	putU16(constantRows[6:], 2, uint16(hi))

	raw := craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, Field: 2, Constant: 2},
		sorted:    1 << uint(Constant),
		rows:      map[TableID][]byte{Constant: constantRows},
	})
	img := mustParse(t, raw, nil)
	img.dirty = true // force full re-serialisation over the fast path

	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	reparsed := mustParse(t, buf.Bytes(), nil)

	for _, id := range []TableID{Module, Field, Constant} {
		want, _ := img.Table(id)
		got, _ := reparsed.Table(id)
		if got != want {
			t.Fatalf("%v row count = %d, want %d", id, got, want)
		}
	}
	if !reparsed.tables[Constant].isSorted {
		t.Fatal("sorted bit lost across serialisation")
	}
	tk, err := reparsed.AsToken(reparsed.Row(Constant, 2), 1)
	if err != nil || tk != tokenOf(Field, 2) {
		t.Fatalf("reparsed Constant.Parent = (%v, %v), want (Field, 2)", tk, err)
	}
}
