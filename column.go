// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"encoding/binary"
)

// rawGet reads the raw (unsigned, zero-extended) value of column col in
// row of t, failing if row is out of [1, rowCount] or the slice is too
// short for the declared width.
func (t *tableState) rawGet(row uint32, col liveColumn) (uint32, bool) {
	if row == 0 || row > t.rowCount {
		return 0, false
	}
	off := int(row-1)*int(t.rowSizeBytes) + int(col.offset)
	switch col.width {
	case 2:
		if off+2 > len(t.data) {
			return 0, false
		}
		return uint32(binary.LittleEndian.Uint16(t.data[off:])), true
	case 4:
		if off+4 > len(t.data) {
			return 0, false
		}
		return binary.LittleEndian.Uint32(t.data[off:]), true
	default:
		return 0, false
	}
}

// rawSet writes value into column col of row in t. t.data must already be
// an editor-owned writable buffer; callers are responsible for that via
// Image.ensureWritableTable.
func (t *tableState) rawSet(row uint32, col liveColumn, value uint32) bool {
	if row == 0 || row > t.rowCount {
		return false
	}
	off := int(row-1)*int(t.rowSizeBytes) + int(col.offset)
	switch col.width {
	case 2:
		if off+2 > len(t.data) {
			return false
		}
		binary.LittleEndian.PutUint16(t.data[off:], uint16(value))
		return true
	case 4:
		if off+4 > len(t.data) {
			return false
		}
		binary.LittleEndian.PutUint32(t.data[off:], value)
		return true
	default:
		return false
	}
}

func (img *Image) column(c Cursor, colIdx int) (liveColumn, error) {
	if c.table == nil {
		return liveColumn{}, ErrNullCursor
	}
	if colIdx < 0 || colIdx >= len(c.table.columns) {
		return liveColumn{}, ErrColumnKindMismatch
	}
	return c.table.columns[colIdx], nil
}

// AsConstant reads a kindConstant column, zero-extended to uint32.
func (img *Image) AsConstant(c Cursor, colIdx int) (uint32, error) {
	col, err := img.column(c, colIdx)
	if err != nil {
		return 0, err
	}
	if col.spec.kind != kindConstant {
		return 0, ErrColumnKindMismatch
	}
	v, ok := c.table.rawGet(c.row, col)
	if !ok {
		return 0, ErrCursorOutOfRange
	}
	return v, nil
}

// AsToken reads a kindTable or kindCoded column as a Token. Direct-table
// columns produce (target_table<<24)|raw; coded columns decompose the raw
// value using the map's tag bits.
func (img *Image) AsToken(c Cursor, colIdx int) (Token, error) {
	col, err := img.column(c, colIdx)
	if err != nil {
		return 0, err
	}
	raw, ok := c.table.rawGet(c.row, col)
	if !ok {
		return 0, ErrCursorOutOfRange
	}
	switch col.spec.kind {
	case kindTable:
		return tokenOf(col.effectiveTarget, raw), nil
	case kindCoded:
		table, row, ok := decomposeCodedIndex(raw, col.spec.coded)
		if !ok {
			return 0, ErrCodedIndexTagOOB
		}
		return tokenOf(table, row), nil
	default:
		return 0, ErrColumnKindMismatch
	}
}

// AsCursor is AsToken followed by resolving the token against the live
// tables, additionally validating that the target row is within
// [0, target.row_count+1].
func (img *Image) AsCursor(c Cursor, colIdx int) (Cursor, error) {
	tk, err := img.AsToken(c, colIdx)
	if err != nil {
		return Cursor{}, err
	}
	if tk.IsNil() {
		return Cursor{}, nil
	}
	target, ok := img.tables[tk.Table()]
	if !ok {
		return Cursor{}, ErrUnknownTableID
	}
	if tk.Rid() > target.rowCount+1 {
		return Cursor{}, ErrCursorOutOfRange
	}
	return Cursor{table: target, row: tk.Rid()}, nil
}

// AsUTF8 resolves a kindHeap/heapString column via the #Strings heap.
func (img *Image) AsUTF8(c Cursor, colIdx int) (string, error) {
	col, err := img.column(c, colIdx)
	if err != nil {
		return "", err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapString {
		return "", ErrColumnKindMismatch
	}
	raw, ok := c.table.rawGet(c.row, col)
	if !ok {
		return "", ErrCursorOutOfRange
	}
	s, ok := tryGetString(img.stringsHeap, raw)
	if !ok {
		return "", ErrTruncatedStream
	}
	return s, nil
}

// AsBlob resolves a kindHeap/heapBlob column via the #Blob heap.
func (img *Image) AsBlob(c Cursor, colIdx int) ([]byte, error) {
	col, err := img.column(c, colIdx)
	if err != nil {
		return nil, err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapBlob {
		return nil, ErrColumnKindMismatch
	}
	raw, ok := c.table.rawGet(c.row, col)
	if !ok {
		return nil, ErrCursorOutOfRange
	}
	if raw == 0 {
		return nil, nil
	}
	blob, _, ok := tryGetBlob(img.blobHeap, raw)
	if !ok {
		return nil, ErrMalformedCompressed
	}
	return blob, nil
}

// AsUserString resolves a kindHeap/heapUserString column via the #US
// heap, decoding the UTF-16LE payload to a Go string with
// golang.org/x/text/encoding/unicode. It also reports the trailing
// "needs non-8-bit-safe handling" flag byte.
func (img *Image) AsUserString(c Cursor, colIdx int) (string, bool, error) {
	col, err := img.column(c, colIdx)
	if err != nil {
		return "", false, err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapUserString {
		return "", false, ErrColumnKindMismatch
	}
	raw, ok := c.table.rawGet(c.row, col)
	if !ok {
		return "", false, ErrCursorOutOfRange
	}
	us, _, ok := tryGetUserString(img.usHeap, raw)
	if !ok {
		return "", false, ErrMalformedCompressed
	}
	decoded, err := decodeUTF16LE(us.utf16LE)
	if err != nil {
		return "", false, err
	}
	return decoded, us.finalByte != 0, nil
}

// AsGUID resolves a kindHeap/heapGUID column via the #GUID heap.
func (img *Image) AsGUID(c Cursor, colIdx int) (guid, error) {
	col, err := img.column(c, colIdx)
	if err != nil {
		return guid{}, err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapGUID {
		return guid{}, ErrColumnKindMismatch
	}
	raw, ok := c.table.rawGet(c.row, col)
	if !ok {
		return guid{}, ErrCursorOutOfRange
	}
	g, ok := tryGetGUID(img.guidHeap, raw)
	if !ok {
		return guid{}, ErrCursorOutOfRange
	}
	return g, nil
}

// SetConstant writes a kindConstant column, enforcing sort-order
// maintenance (SPEC_FULL.md §4.6) when the column is a declared sort key.
func (img *Image) SetConstant(c Cursor, colIdx int, value uint32) error {
	col, err := img.column(c, colIdx)
	if err != nil {
		return err
	}
	if col.spec.kind != kindConstant {
		return ErrColumnKindMismatch
	}
	return img.writeRawChecked(c, colIdx, value)
}

// SetToken writes a kindTable or kindCoded column from a Token, requiring
// the token's table to match the column's declared target (or be a
// candidate of its coded map).
func (img *Image) SetToken(c Cursor, colIdx int, tk Token) error {
	col, err := img.column(c, colIdx)
	if err != nil {
		return err
	}
	var raw uint32
	switch col.spec.kind {
	case kindTable:
		if !tk.IsNil() && tk.Table() != col.effectiveTarget {
			return ErrTokenTableMismatch
		}
		raw = tk.Rid()
	case kindCoded:
		if tk.IsNil() {
			raw = 0
		} else {
			composed, ok := composeCodedIndex(tk.Table(), tk.Rid(), col.spec.coded)
			if !ok {
				return ErrTokenTableMismatch
			}
			raw = composed
		}
	default:
		return ErrColumnKindMismatch
	}
	return img.writeRawChecked(c, colIdx, raw)
}

// SetCursor writes a table-index or coded-index column from a cursor,
// equivalent to SetToken on the cursor's token. The one-past-the-end
// cursor is legal here; list columns store it as the range terminator.
func (img *Image) SetCursor(c Cursor, colIdx int, target Cursor) error {
	if target.table == nil {
		return img.SetToken(c, colIdx, 0)
	}
	return img.SetToken(c, colIdx, tokenOf(target.table.id, target.row))
}

// SetUTF8 appends s to the #Strings heap (if not already empty) and
// writes the resulting offset into a kindHeap/heapString column.
func (img *Image) SetUTF8(c Cursor, colIdx int, s string) error {
	col, err := img.column(c, colIdx)
	if err != nil {
		return err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapString {
		return ErrColumnKindMismatch
	}
	offset, err := img.appendToStringHeap(s)
	if err != nil {
		return err
	}
	return img.writeRawChecked(c, colIdx, offset)
}

// SetBlob appends data to the #Blob heap and writes the resulting offset
// into a kindHeap/heapBlob column.
func (img *Image) SetBlob(c Cursor, colIdx int, data []byte) error {
	col, err := img.column(c, colIdx)
	if err != nil {
		return err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapBlob {
		return ErrColumnKindMismatch
	}
	offset, err := img.appendToBlobHeap(data)
	if err != nil {
		return err
	}
	return img.writeRawChecked(c, colIdx, offset)
}

// SetUserString encodes s to UTF-16LE, appends it to the #US heap, and
// writes the resulting offset into a kindHeap/heapUserString column.
func (img *Image) SetUserString(c Cursor, colIdx int, s string) error {
	col, err := img.column(c, colIdx)
	if err != nil {
		return err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapUserString {
		return ErrColumnKindMismatch
	}
	offset, err := img.appendToUserStringHeap(s)
	if err != nil {
		return err
	}
	return img.writeRawChecked(c, colIdx, offset)
}

// SetGUID appends g to the #GUID heap and writes the resulting 1-based
// record number into a kindHeap/heapGUID column.
func (img *Image) SetGUID(c Cursor, colIdx int, g guid) error {
	col, err := img.column(c, colIdx)
	if err != nil {
		return err
	}
	if col.spec.kind != kindHeap || col.spec.heap != heapGUID {
		return ErrColumnKindMismatch
	}
	offset, err := img.appendToGUIDHeap(g)
	if err != nil {
		return err
	}
	return img.writeRawChecked(c, colIdx, offset)
}

// writeRawChecked performs the actual write after making the table
// writable, then re-validates sort order on key-column writes. The column
// descriptor is re-read here rather than passed in: a heap append between
// the caller's column lookup and this write can promote column widths and
// relayout the whole table, invalidating any previously captured copy.
func (img *Image) writeRawChecked(c Cursor, colIdx int, raw uint32) error {
	img.dirty = true
	img.ensureWritableTable(c.table)
	if !c.table.rawSet(c.row, c.table.columns[colIdx], raw) {
		return ErrCursorOutOfRange
	}
	img.recheckSortOnWrite(c, colIdx)
	return nil
}

// recheckSortOnWrite implements SPEC_FULL.md §4.6's deferred sort check:
// writing a declared sort-key column of a table that claims to be sorted,
// outside of a row-add, must re-validate against the row's neighbours.
func (img *Image) recheckSortOnWrite(c Cursor, colIdx int) {
	t := c.table
	if !t.isSorted || t.isAddingNewRow {
		return
	}
	keys, ok := tableSortKeys[t.id]
	if !ok {
		return
	}
	isKeyColumn := false
	for _, k := range keys {
		if int(k.column) == colIdx {
			isKeyColumn = true
			break
		}
	}
	if !isKeyColumn {
		return
	}
	if !rowInSortOrder(t, c.row, keys) {
		t.isSorted = false
	}
}
