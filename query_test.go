// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "testing"

func TestAsRangeNilRuns(t *testing.T) {
	// Parent FieldList sequence [3, 0, 0, 7, 0] over a 10-row Field table.
	// A parent whose own list value is nil owns no children; the next
	// non-nil value still bounds the preceding non-nil parent's range.
	typeDefRows := make([]byte, 5*14)
	for i, first := range []uint16{3, 0, 0, 7, 0} {
		putU16(typeDefRows[i*14:], 10, first)
	}
	img := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, TypeDef: 5, Field: 10},
		rows:      map[TableID][]byte{TypeDef: typeDefRows},
	}), nil)

	tests := []struct {
		parent uint32
		start  uint32
		count  uint32
	}{
		{1, 3, 4},
		{2, 0, 0},
		{3, 0, 0},
		{4, 7, 4},
		{5, 0, 0},
	}
	for _, tt := range tests {
		start, count, err := img.AsRange(img.Row(TypeDef, tt.parent), 4)
		if err != nil {
			t.Fatalf("AsRange(parent %d) failed: %v", tt.parent, err)
		}
		if count != tt.count {
			t.Fatalf("parent %d count = %d, want %d", tt.parent, count, tt.count)
		}
		if tt.count > 0 && start.Row() != tt.start {
			t.Fatalf("parent %d start = %d, want %d", tt.parent, start.Row(), tt.start)
		}
	}
}

func TestAsRangeLastParentClampsToTableEnd(t *testing.T) {
	typeDefRows := make([]byte, 14)
	putU16(typeDefRows, 10, 4)
	img := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, TypeDef: 1, Field: 10},
		rows:      map[TableID][]byte{TypeDef: typeDefRows},
	}), nil)

	start, count, err := img.AsRange(img.Row(TypeDef, 1), 4)
	if err != nil || start.Row() != 4 || count != 7 {
		t.Fatalf("range = (%d, %d, %v), want (4, 7)", start.Row(), count, err)
	}
}

func TestFindRowFromCursorLinear(t *testing.T) {
	memberRefRows := make([]byte, 3*6)
	for i, rid := range []uint32{1, 2, 1} {
		raw, _ := composeCodedIndex(TypeRef, rid, ciMemberRefParent)
		putU16(memberRefRows[i*6:], 0, uint16(raw))
	}
	img := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, TypeRef: 2, MemberRef: 3},
		rows:      map[TableID][]byte{MemberRef: memberRefRows},
	}), nil)

	begin, _, err := img.CreateCursor(MemberRef)
	if err != nil {
		t.Fatalf("CreateCursor failed: %v", err)
	}
	c, ok := img.FindRowFromCursor(begin, 0, tokenOf(TypeRef, 1))
	if !ok || c.Row() != 1 {
		t.Fatalf("find from row 1 = (%d, %v), want row 1", c.Row(), ok)
	}
	c, ok = img.FindRowFromCursor(img.Row(MemberRef, 2), 0, tokenOf(TypeRef, 1))
	if !ok || c.Row() != 3 {
		t.Fatalf("find from row 2 = (%d, %v), want row 3", c.Row(), ok)
	}
	if _, ok := img.FindRowFromCursor(begin, 0, tokenOf(TypeRef, 9)); ok {
		t.Fatal("found a row for an absent value")
	}
}

func craftSortedConstants(t *testing.T, parents []uint32) *Image {
	t.Helper()
	rows := make([]byte, len(parents)*6)
	for i, rid := range parents {
		raw, _ := composeCodedIndex(Field, rid, ciHasConstant)
		putU16(rows[i*6:], 2, uint16(raw))
	}
	return mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, Field: 10, Constant: uint32(len(parents))},
		sorted:    1 << uint(Constant),
		rows:      map[TableID][]byte{Constant: rows},
	}), nil)
}

func TestFindRowFromCursorSorted(t *testing.T) {
	img := craftSortedConstants(t, []uint32{1, 3, 5, 7, 9})

	begin, _, _ := img.CreateCursor(Constant)
	c, ok := img.FindRowFromCursor(begin, 1, tokenOf(Field, 7))
	if !ok || c.Row() != 4 {
		t.Fatalf("binary search = (%d, %v), want row 4", c.Row(), ok)
	}
	if _, ok := img.FindRowFromCursor(begin, 1, tokenOf(Field, 4)); ok {
		t.Fatal("found a row for an absent key")
	}
	// Search window honours the starting cursor.
	if _, ok := img.FindRowFromCursor(img.Row(Constant, 3), 1, tokenOf(Field, 1)); ok {
		t.Fatal("found a row before the starting cursor")
	}
}

func TestFindRangeFromCursor(t *testing.T) {
	img := craftSortedConstants(t, []uint32{1, 2, 2, 2, 3})

	begin, _, _ := img.CreateCursor(Constant)
	start, count, err := img.FindRangeFromCursor(begin, 1, tokenOf(Field, 2))
	if err != nil {
		t.Fatalf("FindRangeFromCursor failed: %v", err)
	}
	if start.Row() != 2 || count != 3 {
		t.Fatalf("range = (%d, %d), want (2, 3)", start.Row(), count)
	}

	start, count, err = img.FindRangeFromCursor(begin, 1, tokenOf(Field, 9))
	if err != nil || count != 0 {
		t.Fatalf("absent key = (%d, %d, %v), want empty", start.Row(), count, err)
	}
}

func TestFindRangeRequiresSorted(t *testing.T) {
	rows := make([]byte, 2*6)
	img := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, Field: 2, Constant: 2},
		rows:      map[TableID][]byte{Constant: rows},
	}), nil)

	begin, _, _ := img.CreateCursor(Constant)
	if _, _, err := img.FindRangeFromCursor(begin, 1, tokenOf(Field, 1)); err != ErrUnsortedRangeLookup {
		t.Fatalf("unsorted table = %v, want ErrUnsortedRangeLookup", err)
	}

	sorted := craftSortedConstants(t, []uint32{1, 2})
	begin, _, _ = sorted.CreateCursor(Constant)
	// Column 0 (Type) is not the declared sort key.
	if _, _, err := sorted.FindRangeFromCursor(begin, 0, tokenOf(Field, 1)); err != ErrUnsortedRangeLookup {
		t.Fatalf("non-key column = %v, want ErrUnsortedRangeLookup", err)
	}
}

func TestFindTokenOfRangeElement(t *testing.T) {
	img := craftThreeTypeDefsOverFields(t)

	wantParent := map[uint32]uint32{
		1: 1, 2: 1, 3: 1, 4: 1,
		5: 2, 6: 2, 7: 2,
		8: 3, 9: 3, 10: 3,
	}
	for child, parent := range wantParent {
		tk, err := img.FindTokenOfRangeElement(TypeDef, 4, img.Row(Field, child))
		if err != nil {
			t.Fatalf("FindTokenOfRangeElement(Field %d) failed: %v", child, err)
		}
		if tk != tokenOf(TypeDef, parent) {
			t.Fatalf("Field %d parent = (%v, %d), want TypeDef %d", child, tk.Table(), tk.Rid(), parent)
		}

		// The child lies inside the parent's own range.
		start, count, err := img.AsRange(img.Row(TypeDef, parent), 4)
		if err != nil {
			t.Fatalf("AsRange failed: %v", err)
		}
		if child < start.Row() || child >= start.Row()+count {
			t.Fatalf("Field %d outside parent %d range [%d, %d)", child, parent, start.Row(), start.Row()+count)
		}
	}
}

func TestFindCursorOfRangeElementThroughIndirection(t *testing.T) {
	img := craftThreeTypeDefsOverFields(t)

	// Force FieldPtr into existence by a mid-list insertion.
	newField, err := img.AddNewRowToList(img.Row(TypeDef, 2), 4)
	if err != nil {
		t.Fatalf("AddNewRowToList failed: %v", err)
	}
	if err := img.CommitRowAdd(newField); err != nil {
		t.Fatalf("CommitRowAdd failed: %v", err)
	}

	c, err := img.FindCursorOfRangeElement(TypeDef, 4, newField)
	if err != nil {
		t.Fatalf("FindCursorOfRangeElement failed: %v", err)
	}
	if c.Table() != TypeDef || c.Row() != 2 {
		t.Fatalf("parent = (%v, %d), want (TypeDef, 2)", c.Table(), c.Row())
	}
}

func TestFindTokenOfRangeElementEventProperty(t *testing.T) {
	// Event and Property children resolve through their map tables: the
	// reported parent is the map row's owning TypeDef, not the map row.
	eventMapRows := make([]byte, 2*4)
	putU16(eventMapRows[0:], 0, 2) // Parent = TypeDef 2
	putU16(eventMapRows[0:], 2, 1) // EventList = 1
	putU16(eventMapRows[4:], 0, 3) // Parent = TypeDef 3
	putU16(eventMapRows[4:], 2, 3) // EventList = 3

	propertyMapRows := make([]byte, 2*4)
	putU16(propertyMapRows[0:], 0, 1) // Parent = TypeDef 1
	putU16(propertyMapRows[0:], 2, 1) // PropertyList = 1
	putU16(propertyMapRows[4:], 0, 2) // Parent = TypeDef 2
	putU16(propertyMapRows[4:], 2, 2) // PropertyList = 2

	img := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{
			Module: 1, TypeDef: 3,
			EventMap: 2, Event: 4,
			PropertyMap: 2, Property: 3,
		},
		rows: map[TableID][]byte{EventMap: eventMapRows, PropertyMap: propertyMapRows},
	}), nil)

	tests := []struct {
		mapTable TableID
		child    Cursor
		want     uint32
	}{
		{EventMap, img.Row(Event, 1), 2},
		{EventMap, img.Row(Event, 2), 2},
		{EventMap, img.Row(Event, 3), 3},
		{EventMap, img.Row(Event, 4), 3},
		{PropertyMap, img.Row(Property, 1), 1},
		{PropertyMap, img.Row(Property, 3), 2},
	}
	for _, tt := range tests {
		tk, err := img.FindTokenOfRangeElement(tt.mapTable, 1, tt.child)
		if err != nil {
			t.Fatalf("FindTokenOfRangeElement(%v, row %d) failed: %v", tt.mapTable, tt.child.Row(), err)
		}
		if tk != tokenOf(TypeDef, tt.want) {
			t.Fatalf("%v child %d parent = (%v, %d), want (TypeDef, %d)",
				tt.mapTable, tt.child.Row(), tk.Table(), tk.Rid(), tt.want)
		}

		c, err := img.FindCursorOfRangeElement(tt.mapTable, 1, tt.child)
		if err != nil {
			t.Fatalf("FindCursorOfRangeElement failed: %v", err)
		}
		if c.Table() != TypeDef || c.Row() != tt.want {
			t.Fatalf("cursor form = (%v, %d), want (TypeDef, %d)", c.Table(), c.Row(), tt.want)
		}
	}
}

func TestResolveIndirectCursorPassthrough(t *testing.T) {
	img := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1, TypeRef: 2},
	}), nil)

	c := img.Row(TypeRef, 2)
	got, err := img.ResolveIndirectCursor(c)
	if err != nil || got != c {
		t.Fatalf("passthrough = (%+v, %v), want input cursor", got, err)
	}
}
