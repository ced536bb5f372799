// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"encoding/binary"
	"sort"
)

// editor is the lazily-allocated side-structure attached to an Image on
// its first mutation. Unlike original_source/editor.c's mdeditor_t, it
// does not need to manually double buffers or free them: Go's append and
// garbage collector already do that. Its only job is remembering which
// tables and heaps have already been given a private, writable copy of
// their backing bytes so the original input slice is never mutated.
type editor struct {
	ownedTables map[TableID]bool
	ownedHeaps  map[heapKind]bool
}

func (img *Image) initEditor() {
	if img.ed == nil {
		img.ed = &editor{
			ownedTables: make(map[TableID]bool),
			ownedHeaps:  make(map[heapKind]bool),
		}
	}
}

// ensureWritableTable makes table.data a private copy on first call,
// mirroring get_writable_table_data.
func (img *Image) ensureWritableTable(t *tableState) {
	img.initEditor()
	if img.ed.ownedTables[t.id] {
		return
	}
	owned := make([]byte, len(t.data))
	copy(owned, t.data)
	t.data = owned
	img.ed.ownedTables[t.id] = true
}

// ensureWritableHeap makes the named heap's backing slice a private copy
// on first call, mirroring reserve_heap_space's "allocate and copy" path.
func (img *Image) ensureWritableHeap(h heapKind) {
	img.initEditor()
	if img.ed.ownedHeaps[h] {
		return
	}
	ptr := img.heapPtr(h)
	owned := make([]byte, len(*ptr))
	copy(owned, *ptr)
	*ptr = owned
	img.ed.ownedHeaps[h] = true
}

func (img *Image) heapPtr(h heapKind) *[]byte {
	switch h {
	case heapString:
		return &img.stringsHeap
	case heapGUID:
		return &img.guidHeap
	case heapBlob:
		return &img.blobHeap
	case heapUserString:
		return &img.usHeap
	default:
		return nil
	}
}

func (img *Image) updateHeapFlag(h heapKind, newSize uint32) {
	large := newSize > 0xFFFF
	if h == heapGUID {
		large = (newSize / 16) > 0xFFFF
	}
	img.heapFlags.setLarge(h, large)
}

// appendToStringHeap implements add_to_string_heap: the empty string
// always maps to offset 0 without allocating.
func (img *Image) appendToStringHeap(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	img.dirty = true
	img.ensureWritableHeap(heapString)
	ptr := img.heapPtr(heapString)
	if len(*ptr) == 0 {
		*ptr = append(*ptr, 0)
	}
	offset := uint32(len(*ptr))
	*ptr = append(*ptr, s...)
	*ptr = append(*ptr, 0)
	img.updateHeapFlag(heapString, uint32(len(*ptr)))
	img.promoteForHeapGrowth(heapString, uint32(len(*ptr)))
	return offset, nil
}

// appendToBlobHeap implements add_to_blob_heap: the empty blob always
// maps to offset 0 without allocating.
func (img *Image) appendToBlobHeap(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	img.dirty = true
	img.ensureWritableHeap(heapBlob)
	ptr := img.heapPtr(heapBlob)
	if len(*ptr) == 0 {
		*ptr = append(*ptr, 0)
	}
	offset := uint32(len(*ptr))
	buf, ok := compressU32(*ptr, uint32(len(data)))
	if !ok {
		return 0, ErrMalformedCompressed
	}
	buf = append(buf, data...)
	*ptr = buf
	img.updateHeapFlag(heapBlob, uint32(len(*ptr)))
	img.promoteForHeapGrowth(heapBlob, uint32(len(*ptr)))
	return offset, nil
}

// appendToUserStringHeap implements add_to_user_string_heap, including
// the II.24.2.4 trailing "needs non-8-bit-safe handling" byte.
func (img *Image) appendToUserStringHeap(s string) (uint32, error) {
	units := utf16Units(s)
	if len(units) == 0 {
		return 0, nil
	}
	raw, err := encodeUTF16LE(s)
	if err != nil {
		return 0, err
	}

	img.dirty = true
	img.ensureWritableHeap(heapUserString)
	ptr := img.heapPtr(heapUserString)
	if len(*ptr) == 0 {
		*ptr = append(*ptr, 0)
	}
	offset := uint32(len(*ptr))
	blobLen := len(raw) + 1
	buf, ok := compressU32(*ptr, uint32(blobLen))
	if !ok {
		return 0, ErrMalformedCompressed
	}
	buf = append(buf, raw...)
	flag := byte(0)
	if hasNon8BitSafeChar(units) {
		flag = 1
	}
	buf = append(buf, flag)
	*ptr = buf
	img.updateHeapFlag(heapUserString, uint32(len(*ptr)))
	img.promoteForHeapGrowth(heapUserString, uint32(len(*ptr)))
	return offset, nil
}

// appendToGUIDHeap implements add_to_guid_heap: the all-zero guid always
// maps to offset 0 without allocating.
func (img *Image) appendToGUIDHeap(g guid) (uint32, error) {
	if g == zeroGUID {
		return 0, nil
	}
	img.dirty = true
	img.ensureWritableHeap(heapGUID)
	ptr := img.heapPtr(heapGUID)
	offset := uint32(len(*ptr))
	*ptr = append(*ptr, g[:]...)
	newCount := uint32(len(*ptr) / 16)
	img.updateHeapFlag(heapGUID, uint32(len(*ptr)))
	img.promoteForHeapGrowth(heapGUID, newCount)
	return offset/16 + 1, nil
}

// AddUserStringToHeap appends s to the #US heap without tying the new
// entry to any column, returning its heap offset. Offsets are stable for
// the lifetime of the handle; equal inputs may yield distinct offsets
// since appends never deduplicate.
func (img *Image) AddUserStringToHeap(s string) (uint32, error) {
	return img.appendToUserStringHeap(s)
}

func (img *Image) rowCountsSnapshot() map[TableID]uint32 {
	m := make(map[TableID]uint32, len(img.tables))
	for id, t := range img.tables {
		m[id] = t.rowCount
	}
	return m
}

func recomputeOffsets(cols []liveColumn) []liveColumn {
	var off uint16
	for i := range cols {
		cols[i].offset = off
		off += uint16(cols[i].width)
	}
	return cols
}

// writeRawInto is rawSet against an arbitrary buffer/row-size pair, used
// while transcoding rows into a freshly (re)allocated table buffer.
func writeRawInto(data []byte, rowSize uint16, row uint32, col liveColumn, value uint32) {
	off := int(row-1)*int(rowSize) + int(col.offset)
	switch col.width {
	case 2:
		binary.LittleEndian.PutUint16(data[off:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(data[off:], value)
	}
}

// relayoutTable transcodes every existing row of t from its current
// column layout to newCols (which must have reassigned offsets already),
// mirroring editor.c's copy_row loop inside
// set_column_size_for_max_row_count.
func (img *Image) relayoutTable(t *tableState, newCols []liveColumn) {
	newRowSize := rowSizeOf(newCols)
	newData := make([]byte, int(newRowSize)*int(t.rowCount))
	for row := uint32(1); row <= t.rowCount; row++ {
		for i, col := range newCols {
			v, _ := t.rawGet(row, t.columns[i])
			writeRawInto(newData, newRowSize, row, col, v)
		}
	}
	t.data = newData
	t.columns = newCols
	t.rowSizeBytes = newRowSize
	img.initEditor()
	img.ed.ownedTables[t.id] = true
}

// promoteForTableGrowth implements set_column_size_for_max_row_count for
// the case where target's row count is about to become newMax: every
// column in every table that directly or (via a coded map) possibly
// references target is widened if needed.
func (img *Image) promoteForTableGrowth(target TableID, newMax uint32) {
	rowCounts := img.rowCountsSnapshot()
	minimalDelta := img.minimalDelta
	for _, t := range img.tables {
		changed := false
		newCols := append([]liveColumn(nil), t.columns...)
		for i := range newCols {
			col := &newCols[i]
			switch col.spec.kind {
			case kindTable:
				if col.effectiveTarget == target {
					if w := widthForTableColumn(newMax, minimalDelta); w != col.width {
						col.width = w
						changed = true
					}
				}
			case kindCoded:
				if isCodedIndexTargetOf(target, col.spec.coded) {
					if w := widthForCodedColumnOverride(col.spec.coded, rowCounts, target, newMax, minimalDelta); w != col.width {
						col.width = w
						changed = true
					}
				}
			}
		}
		if changed {
			img.logger.Debugf("widening %s columns for %s growth to %d rows", t.id, target, newMax)
			img.relayoutTable(t, recomputeOffsets(newCols))
		}
	}
}

// promoteForHeapGrowth is promoteForTableGrowth's heap-index counterpart.
func (img *Image) promoteForHeapGrowth(h heapKind, newMax uint32) {
	minimalDelta := img.minimalDelta
	for _, t := range img.tables {
		changed := false
		newCols := append([]liveColumn(nil), t.columns...)
		for i := range newCols {
			col := &newCols[i]
			if col.spec.kind == kindHeap && col.spec.heap == h {
				if w := widthForHeapColumn(h, img.heapFlags, minimalDelta); w != col.width {
					col.width = w
					changed = true
				}
			}
		}
		if changed {
			img.logger.Debugf("widening %s heap-index columns after heap growth", t.id)
			img.relayoutTable(t, recomputeOffsets(newCols))
		}
	}
}

func widthForCodedColumnOverride(ci codedIndexID, rowCounts map[TableID]uint32, overrideTable TableID, overrideMax uint32, minimalDelta bool) uint8 {
	if minimalDelta {
		return 4
	}
	m := codedIndexMaps[ci]
	var maxRows uint32
	for _, t := range m.tables {
		if t == ciReserved {
			continue
		}
		rc := rowCounts[t]
		if t == overrideTable && overrideMax > rc {
			rc = overrideMax
		}
		if rc > maxRows {
			maxRows = rc
		}
	}
	if maxRows < codedIndexMaxRowBound(ci) {
		return 2
	}
	return 4
}

// ensureTableExists returns id's live tableState, allocating a fresh,
// empty one (mirroring allocate_new_table) if the table has no rows yet
// in this image.
func (img *Image) ensureTableExists(id TableID) *tableState {
	if t, ok := img.tables[id]; ok {
		return t
	}
	cols := layoutTable(id, img.rowCountsSnapshot(), img.heapFlags, img.minimalDelta)
	t := &tableState{
		id:           id,
		columns:      cols,
		rowSizeBytes: rowSizeOf(cols),
		rowCount:     0,
		data:         []byte{},
		isSorted:     len(tableSortKeys[id]) > 0,
	}
	img.tables[id] = t
	img.initEditor()
	img.ed.ownedTables[id] = true
	return t
}

// isListTargetTable reports whether id is the child table of some list
// column - such tables reject plain AppendRow (spec.md §4.8's "append
// only" rejection rule).
func isListTargetTable(id TableID) bool {
	for _, lc := range listColumns {
		if lc.child == id {
			return true
		}
	}
	return false
}

func findListColumnOwner(parent TableID, col int) (listColumnOwner, bool) {
	for _, lc := range listColumns {
		if lc.parent == parent && int(lc.column) == col {
			return lc, true
		}
	}
	return listColumnOwner{}, false
}

// shiftRowReferences implements update_table_references_for_shifted_rows:
// every column (direct or coded) across every table that can reference
// updatedTable has any stored row id >= changedRowStart incremented by
// shift.
func (img *Image) shiftRowReferences(updatedTable TableID, changedRowStart uint32, shift int64) {
	for _, t := range img.tables {
		if t.rowCount == 0 {
			continue
		}
		for colIdx := range t.columns {
			col := t.columns[colIdx]
			isDirect := col.spec.kind == kindTable && col.effectiveTarget == updatedTable
			isCoded := col.spec.kind == kindCoded && isCodedIndexTargetOf(updatedTable, col.spec.coded)
			if !isDirect && !isCoded {
				continue
			}
			img.ensureWritableTable(t)
			for row := uint32(1); row <= t.rowCount; row++ {
				raw, ok := t.rawGet(row, col)
				if !ok || raw == 0 {
					continue
				}
				if isDirect {
					if raw >= changedRowStart {
						t.rawSet(row, col, uint32(int64(raw)+shift))
					}
					continue
				}
				tbl, r, ok := decomposeCodedIndex(raw, col.spec.coded)
				if !ok || tbl != updatedTable || r == 0 || r < changedRowStart {
					continue
				}
				if composed, ok := composeCodedIndex(tbl, uint32(int64(r)+shift), col.spec.coded); ok {
					t.rawSet(row, col, composed)
				}
			}
		}
	}
}

// insertRowIntoTable implements insert_row_into_table: grow id's table by
// one row at rowIndex (1-based, may equal row_count+1 to append), then
// propagate the resulting row-id shift to every referencing column.
func (img *Image) insertRowIntoTable(id TableID, rowIndex uint32) (Cursor, error) {
	if rowIndex == 0 {
		return Cursor{}, ErrRowIndexOutOfBounds
	}
	t := img.ensureTableExists(id)
	if t.isAddingNewRow {
		return Cursor{}, ErrRowAddInProgress
	}
	if rowIndex > t.rowCount+1 {
		return Cursor{}, ErrRowIndexOutOfBounds
	}

	img.dirty = true
	newMax := t.rowCount + 1
	img.promoteForTableGrowth(id, newMax)
	img.ensureWritableTable(t)

	rowSize := int(t.rowSizeBytes)
	insertAt := int(rowIndex-1) * rowSize
	newData := make([]byte, len(t.data)+rowSize)
	copy(newData, t.data[:insertAt])
	copy(newData[insertAt+rowSize:], t.data[insertAt:])
	t.data = newData

	// The count grows before reference shifting so that a self-referencing
	// table's own last row is visited by the shift scan.
	t.rowCount++
	img.shiftRowReferences(id, rowIndex, 1)

	t.isAddingNewRow = true
	return createCursor(t, rowIndex), nil
}

// AppendRow adds a row at the end of id's table. It is rejected for
// tables that are the target of a list column; callers must use
// AddNewRowToList/AddNewRowToSortedList for those.
func (img *Image) AppendRow(id TableID) (Cursor, error) {
	if isListTargetTable(id) {
		return Cursor{}, ErrAppendToListTarget
	}
	t := img.ensureTableExists(id)
	return img.insertRowIntoTable(id, t.rowCount+1)
}

// InsertRowBefore inserts a new row immediately before at, which must be
// a cursor into id's table (possibly the one-past-the-end cursor).
func (img *Image) InsertRowBefore(id TableID, at Cursor) (Cursor, error) {
	return img.insertRowIntoTable(id, at.Row())
}

// InsertRowAfter inserts a new row immediately after at.
func (img *Image) InsertRowAfter(id TableID, at Cursor) (Cursor, error) {
	return img.insertRowIntoTable(id, at.Row()+1)
}

// CommitRowAdd clears the is_adding_new_row state on c's table and
// re-evaluates is_sorted against the new row's neighbours if the table
// claimed to be sorted. It is explicitly tolerant of a null cursor.
func (img *Image) CommitRowAdd(c Cursor) error {
	if c.table == nil {
		return nil
	}
	t := c.table
	if t.isSorted {
		if keys, ok := tableSortKeys[t.id]; ok && len(keys) > 0 {
			if !rowInSortOrder(t, c.row, keys) {
				t.isSorted = false
			}
		}
	}
	t.isAddingNewRow = false
	return nil
}

func compareRows(t *tableState, a, b uint32, keys []sortKey) int {
	for _, k := range keys {
		col := t.columns[k.column]
		va, _ := t.rawGet(a, col)
		vb, _ := t.rawGet(b, col)
		if va == vb {
			continue
		}
		if k.descending {
			if va > vb {
				return -1
			}
			return 1
		}
		if va < vb {
			return -1
		}
		return 1
	}
	return 0
}

func rowInSortOrder(t *tableState, row uint32, keys []sortKey) bool {
	if row > 1 && compareRows(t, row-1, row, keys) > 0 {
		return false
	}
	if row < t.rowCount && compareRows(t, row, row+1, keys) > 0 {
		return false
	}
	return true
}

// resolveListPhysicalTarget returns the table a list column currently
// points into: the indirection table if one has been synthesised and is
// non-empty, else child itself.
func (img *Image) resolveListPhysicalTarget(child TableID) TableID {
	if indirect, ok := correspondingIndirectionTable(child); ok {
		if t, exists := img.tables[indirect]; exists && t.rowCount > 0 {
			return indirect
		}
	}
	return child
}

// synthesizeIndirectionTable implements create_and_fill_indirect_table:
// build the indirection table with one row per existing row of direct,
// each initially pointing at the matching direct row, then retarget every
// list column that pointed at direct to point at the indirection table.
func (img *Image) synthesizeIndirectionTable(direct TableID) error {
	indirect, ok := correspondingIndirectionTable(direct)
	if !ok {
		return ErrTableNotLive
	}
	if t, exists := img.tables[indirect]; exists && t.rowCount > 0 {
		return nil
	}

	directTable := img.ensureTableExists(direct)
	n := directTable.rowCount
	img.logger.Debugf("synthesising %s over %d %s rows", indirect, n, direct)
	for i := uint32(1); i <= n; i++ {
		row, err := img.insertRowIntoTable(indirect, i)
		if err != nil {
			return err
		}
		if err := img.SetToken(row, 0, tokenOf(direct, i)); err != nil {
			return err
		}
		img.CommitRowAdd(row)
	}

	return img.retargetListColumns(direct, indirect)
}

// retargetListColumns rewrites every list column whose static schema
// target is direct to instead resolve (and be sized) against indirect,
// per SPEC_FULL.md invariant 8.
func (img *Image) retargetListColumns(direct, indirect TableID) error {
	newMax := img.tables[indirect].rowCount
	minimalDelta := img.minimalDelta
	for _, t := range img.tables {
		changed := false
		newCols := append([]liveColumn(nil), t.columns...)
		for i := range newCols {
			col := &newCols[i]
			if col.spec.kind == kindTable && col.spec.isList && col.spec.target == direct {
				col.effectiveTarget = indirect
				col.width = widthForTableColumn(newMax, minimalDelta)
				changed = true
			}
		}
		if changed {
			img.relayoutTable(t, recomputeOffsets(newCols))
		}
	}
	return nil
}

// insertIntoListAt inserts a new logical child row at the given zero-based
// offset within parent's list range on listColIdx, synthesising the
// indirection table first if the insertion point is not already the end
// of the physical target table. It returns a cursor to the new logical
// child row (resolved through the indirection table when one is in play).
func (img *Image) insertIntoListAt(parent Cursor, listColIdx int, offset uint32) (Cursor, error) {
	owner, ok := findListColumnOwner(parent.Table(), listColIdx)
	if !ok {
		return Cursor{}, ErrColumnKindMismatch
	}
	child := owner.child

	rangeStart, count, err := img.AsRange(parent, listColIdx)
	if err != nil {
		return Cursor{}, err
	}
	if offset > count {
		return Cursor{}, ErrRowIndexOutOfBounds
	}

	physicalTarget := img.resolveListPhysicalTarget(child)
	physTable := img.tables[physicalTarget]

	var insertIndex uint32
	if count == 0 {
		insertIndex = rangeStart.Row()
	} else {
		base, ok := rangeStart.Move(int32(offset))
		if !ok {
			return Cursor{}, ErrCursorOutOfRange
		}
		insertIndex = base.Row()
	}

	if physTable == nil || insertIndex != physTable.rowCount+1 {
		if err := img.synthesizeIndirectionTable(child); err != nil {
			return Cursor{}, err
		}
		physicalTarget = img.resolveListPhysicalTarget(child)
		physTable = img.tables[physicalTarget]
		// Re-resolve the range: indirection synthesis does not move any
		// logical rows, so the insertion point within the (now 1:1 mirrored)
		// indirection table is the same offset.
		rangeStart, _, err = img.AsRange(parent, listColIdx)
		if err != nil {
			return Cursor{}, err
		}
		if count == 0 {
			insertIndex = rangeStart.Row()
		} else {
			base, ok := rangeStart.Move(int32(offset))
			if !ok {
				return Cursor{}, ErrCursorOutOfRange
			}
			insertIndex = base.Row()
		}
	}

	newPhysRow, err := img.insertRowIntoTable(physicalTarget, insertIndex)
	if err != nil {
		return Cursor{}, err
	}

	result := newPhysRow
	if physicalTarget != child {
		childRow, err := img.insertRowIntoTable(child, img.tables[child].rowCount+1)
		if err != nil {
			return Cursor{}, err
		}
		tk, _ := childRow.ToToken()
		if err := img.SetToken(newPhysRow, 0, tk); err != nil {
			return Cursor{}, err
		}
		// The indirection entry is fully formed; only the child row stays
		// open for the caller to finish populating and commit.
		img.CommitRowAdd(newPhysRow)
		result = childRow
	}

	if count == 0 {
		// The parent's list column indexes the physical target table, so
		// the rewrite value is always the physical row, indirected or not.
		tk, _ := newPhysRow.ToToken()
		if err := img.rewriteEmptyListPredecessors(parent, listColIdx, tk); err != nil {
			return Cursor{}, err
		}
	}

	return result, nil
}

// rewriteEmptyListPredecessors handles the "parent currently has an empty
// list" branch of add_new_row_to_list: parent's own list column, and every
// earlier row in the same parent table sharing that same (nil) list
// value, are rewritten to point at the freshly inserted child.
func (img *Image) rewriteEmptyListPredecessors(parent Cursor, listColIdx int, tk Token) error {
	t := parent.table
	col := t.columns[listColIdx]
	nilValue, _ := t.rawGet(parent.row, col)

	if err := img.SetToken(parent, listColIdx, tk); err != nil {
		return err
	}
	for row := parent.row; row > 1; row-- {
		prev := row - 1
		v, ok := t.rawGet(prev, col)
		if !ok || v != nilValue {
			break
		}
		prevCursor := createCursor(t, prev)
		if err := img.SetToken(prevCursor, listColIdx, tk); err != nil {
			return err
		}
	}
	return nil
}

// AddNewRowToList appends a new logical row to the child table of
// parent's list column, preserving token stability for every other row.
func (img *Image) AddNewRowToList(parent Cursor, listColIdx int) (Cursor, error) {
	_, count, err := img.AsRange(parent, listColIdx)
	if err != nil {
		return Cursor{}, err
	}
	return img.insertIntoListAt(parent, listColIdx, count)
}

// AddNewRowToSortedList inserts a new row into parent's list range at the
// position that keeps it sorted ascending by sortColIdx, then sets the new
// row's sort column to value.
func (img *Image) AddNewRowToSortedList(parent Cursor, listColIdx, sortColIdx int, value uint32) (Cursor, error) {
	rangeStart, count, err := img.AsRange(parent, listColIdx)
	if err != nil {
		return Cursor{}, err
	}
	offset := count
	for offset > 0 {
		c, ok := rangeStart.Move(int32(offset) - 1)
		if !ok {
			return Cursor{}, ErrCursorOutOfRange
		}
		// The range may already run through an indirection table; the sort
		// column lives on the logical child row, not the Ptr entry.
		logical, err := img.ResolveIndirectCursor(c)
		if err != nil {
			return Cursor{}, err
		}
		v, err := img.AsConstant(logical, sortColIdx)
		if err != nil {
			return Cursor{}, err
		}
		if v <= value {
			break
		}
		offset--
	}
	row, err := img.insertIntoListAt(parent, listColIdx, offset)
	if err != nil {
		return Cursor{}, err
	}
	if err := img.SetConstant(row, sortColIdx, value); err != nil {
		return Cursor{}, err
	}
	return row, nil
}

// SortListByColumn reorders (via the indirection table) the children in
// parent's list range into ascending order by sortColIdx, if they are not
// already in that order.
func (img *Image) SortListByColumn(parent Cursor, listColIdx, sortColIdx int) error {
	owner, ok := findListColumnOwner(parent.Table(), listColIdx)
	if !ok {
		return ErrColumnKindMismatch
	}
	rangeStart, count, err := img.AsRange(parent, listColIdx)
	if err != nil {
		return err
	}
	if count <= 1 {
		return nil
	}

	type keyedCursor struct {
		cursor Cursor
		key    uint32
	}
	items := make([]keyedCursor, count)
	ascending := true
	for i := uint32(0); i < count; i++ {
		c, ok := rangeStart.Move(int32(i))
		if !ok {
			return ErrCursorOutOfRange
		}
		logical, err := img.ResolveIndirectCursor(c)
		if err != nil {
			return err
		}
		v, err := img.AsConstant(logical, sortColIdx)
		if err != nil {
			return err
		}
		items[i] = keyedCursor{cursor: logical, key: v}
		if i > 0 && items[i-1].key > v {
			ascending = false
		}
	}
	if ascending {
		return nil
	}

	if err := img.synthesizeIndirectionTable(owner.child); err != nil {
		return err
	}
	physRangeStart, _, err := img.AsRange(parent, listColIdx)
	if err != nil {
		return err
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].key < items[j].key })

	for i, it := range items {
		physRow, ok := physRangeStart.Move(int32(i))
		if !ok {
			return ErrCursorOutOfRange
		}
		tk, _ := it.cursor.ToToken()
		if err := img.SetToken(physRow, 0, tk); err != nil {
			return err
		}
	}
	return nil
}
