// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

// AsRange resolves a list column on parent to a half-open row range
// [start, start+count) in its (possibly indirected) child table, skipping
// over nil runs in intervening parent rows: the end of the range is the
// next parent row's list value that is non-zero, not simply the next row's
// raw value, since an intervening parent can legitimately own no children
// at all.
func (img *Image) AsRange(parent Cursor, listColIdx int) (Cursor, uint32, error) {
	owner, ok := findListColumnOwner(parent.Table(), listColIdx)
	if !ok {
		return Cursor{}, 0, ErrColumnKindMismatch
	}
	col, err := img.column(parent, listColIdx)
	if err != nil {
		return Cursor{}, 0, err
	}
	startRaw, ok := parent.table.rawGet(parent.row, col)
	if !ok {
		return Cursor{}, 0, ErrCursorOutOfRange
	}

	physicalTarget := img.resolveListPhysicalTarget(owner.child)
	physTable := img.ensureTableExists(physicalTarget)
	childRowCount := physTable.rowCount

	start := startRaw
	if start == 0 {
		start = childRowCount + 1
	}

	end := childRowCount + 1
	for row := parent.row + 1; row <= parent.table.rowCount; row++ {
		v, _ := parent.table.rawGet(row, col)
		if v != 0 {
			end = v
			break
		}
	}
	if end < start {
		end = start
	}

	return createCursor(physTable, start), end - start, nil
}

// FindRowFromCursor searches begin's table, from begin's row to the end of
// the table, for a single row whose colIdx column equals tk. It
// binary-searches when the table is sorted on that column and it is the
// table's primary sort key, else scans linearly. Coded-index columns are
// matched by composing tk against the column's map first.
func (img *Image) FindRowFromCursor(begin Cursor, colIdx int, tk Token) (Cursor, bool) {
	t := begin.table
	if t == nil || t.rowCount == 0 || begin.row == 0 || begin.row > t.rowCount {
		return Cursor{}, false
	}
	col := t.columns[colIdx]
	target, ok := targetRawValue(col, tk)
	if !ok {
		return Cursor{}, false
	}

	if t.isSorted && isPrimarySortKey(t.id, colIdx) {
		lo, hi := begin.row, t.rowCount
		for lo <= hi {
			mid := lo + (hi-lo)/2
			v, _ := t.rawGet(mid, col)
			switch {
			case v == target:
				return createCursor(t, mid), true
			case v < target:
				lo = mid + 1
			default:
				hi = mid - 1
			}
		}
		return Cursor{}, false
	}

	for row := begin.row; row <= t.rowCount; row++ {
		v, _ := t.rawGet(row, col)
		if v == target {
			return createCursor(t, row), true
		}
	}
	return Cursor{}, false
}

// FindRangeFromCursor returns the full run of rows, at or after begin,
// whose colIdx column equals tk. It requires colIdx to be the table's
// declared primary sort key and the table to currently be sorted.
func (img *Image) FindRangeFromCursor(begin Cursor, colIdx int, tk Token) (Cursor, uint32, error) {
	t := begin.table
	if t == nil {
		return Cursor{}, 0, ErrNullCursor
	}
	if !t.isSorted || !isPrimarySortKey(t.id, colIdx) {
		return Cursor{}, 0, ErrUnsortedRangeLookup
	}
	col := t.columns[colIdx]
	target, ok := targetRawValue(col, tk)
	if !ok {
		return Cursor{}, 0, nil
	}
	if t.rowCount == 0 || begin.row == 0 || begin.row > t.rowCount {
		return Cursor{}, 0, nil
	}

	lo, hi := begin.row, t.rowCount
	var found uint32
	for lo <= hi {
		mid := lo + (hi-lo)/2
		v, _ := t.rawGet(mid, col)
		switch {
		case v == target:
			found = mid
		case v < target:
			lo = mid + 1
			continue
		default:
			hi = mid - 1
			continue
		}
		break
	}
	if found == 0 {
		return Cursor{}, 0, nil
	}

	start := found
	for start > begin.row {
		v, _ := t.rawGet(start-1, col)
		if v != target {
			break
		}
		start--
	}
	end := found
	for end < t.rowCount {
		v, _ := t.rawGet(end+1, col)
		if v != target {
			break
		}
		end++
	}
	return createCursor(t, start), end - start + 1, nil
}

func isPrimarySortKey(table TableID, colIdx int) bool {
	keys, ok := tableSortKeys[table]
	return ok && len(keys) > 0 && int(keys[0].column) == colIdx
}

func targetRawValue(col liveColumn, tk Token) (uint32, bool) {
	switch col.spec.kind {
	case kindTable:
		if !tk.IsNil() && tk.Table() != col.effectiveTarget {
			return 0, false
		}
		return tk.Rid(), true
	case kindCoded:
		return composeCodedIndex(tk.Table(), tk.Rid(), col.spec.coded)
	default:
		return 0, false
	}
}

// resolveLogicalToPhysicalListRow scans physicalTarget (an indirection
// table over child) for the row pointing at child's logicalRow.
func (img *Image) resolveLogicalToPhysicalListRow(child, physicalTarget TableID, logicalRow uint32) (uint32, bool) {
	t, ok := img.tables[physicalTarget]
	if !ok {
		return 0, false
	}
	col := t.columns[0]
	for row := uint32(1); row <= t.rowCount; row++ {
		v, _ := t.rawGet(row, col)
		if v == logicalRow {
			return row, true
		}
	}
	return 0, false
}

// FindCursorOfRangeElement is the inverse of AsRange: given a row in a list
// column's child table, find the parent row whose range contains it. For
// the Event and Property lists the logical parent is the type that owns
// the map row, so the located EventMap/PropertyMap row's Parent column is
// followed one more hop. This scans parent rows linearly rather than
// binary-searching the ranges, since a correct binary search must still
// special-case nil (empty) runs and the extra complexity is not justified
// at typical table sizes.
func (img *Image) FindCursorOfRangeElement(parentTable TableID, listColIdx int, child Cursor) (Cursor, error) {
	owner, ok := findListColumnOwner(parentTable, listColIdx)
	if !ok {
		return Cursor{}, ErrColumnKindMismatch
	}
	physicalTarget := img.resolveListPhysicalTarget(owner.child)
	childRow := child.Row()
	if physicalTarget != owner.child {
		resolved, ok := img.resolveLogicalToPhysicalListRow(owner.child, physicalTarget, childRow)
		if !ok {
			return Cursor{}, ErrCursorOutOfRange
		}
		childRow = resolved
	}

	parent, ok := img.tables[parentTable]
	if !ok {
		return Cursor{}, ErrCursorOutOfRange
	}
	for row := uint32(1); row <= parent.rowCount; row++ {
		start, count, err := img.AsRange(createCursor(parent, row), listColIdx)
		if err != nil {
			return Cursor{}, err
		}
		if count == 0 {
			continue
		}
		if childRow >= start.Row() && childRow < start.Row()+count {
			mapRow := createCursor(parent, row)
			if parentTable == EventMap || parentTable == PropertyMap {
				return img.AsCursor(mapRow, 0)
			}
			return mapRow, nil
		}
	}
	return Cursor{}, ErrCursorOutOfRange
}

// FindTokenOfRangeElement is FindCursorOfRangeElement, returning a Token.
func (img *Image) FindTokenOfRangeElement(parentTable TableID, listColIdx int, child Cursor) (Token, error) {
	c, err := img.FindCursorOfRangeElement(parentTable, listColIdx, child)
	if err != nil {
		return 0, err
	}
	tk, _ := c.ToToken()
	return tk, nil
}

// ResolveIndirectCursor follows one indirection hop if c points into one of
// the five *Ptr tables, returning the logical row it designates. Cursors
// into any other table are returned unchanged.
func (img *Image) ResolveIndirectCursor(c Cursor) (Cursor, error) {
	if c.table == nil || !tableIsIndirectTable(c.Table()) {
		return c, nil
	}
	tk, err := img.AsToken(c, 0)
	if err != nil {
		return Cursor{}, err
	}
	target, ok := img.tables[tk.Table()]
	if !ok {
		return Cursor{}, ErrUnknownTableID
	}
	if tk.Rid() > target.rowCount {
		return Cursor{}, ErrCursorOutOfRange
	}
	return createCursor(target, tk.Rid()), nil
}
