// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

// Token is a 32-bit value packing a table id into the top 8 bits and a
// 1-based row id into the low 24, per SPEC_FULL.md's GLOSSARY. Helpers
// here are the only place that should open-code the shift.
type Token uint32

// tokenOf builds a Token from a table id and a 1-based row id.
func tokenOf(table TableID, rid uint32) Token {
	return Token(uint32(table)<<24 | (rid & 0x00FFFFFF))
}

// Table returns the table id encoded in the token.
func (t Token) Table() TableID {
	return TableID(t >> 24)
}

// Rid returns the 1-based row id encoded in the token.
func (t Token) Rid() uint32 {
	return uint32(t) & 0x00FFFFFF
}

// IsNil reports whether the token's row id is 0 ("no reference").
func (t Token) IsNil() bool {
	return t.Rid() == 0
}

// Cursor is a typed pointer to a row in one table: (table, 1-based row).
// Row count+1 denotes one-past-the-end and is a legal cursor target for
// range operations; row 0 denotes a null cursor. Cursors are the sole
// means of row addressing for column access, search, and mutation.
type Cursor struct {
	table *tableState
	row   uint32
}

// createCursor builds a cursor to row of table with limited validation,
// mirroring original_source/internal.h's create_cursor: callers are
// expected to have already checked row is in range where that matters.
func createCursor(table *tableState, row uint32) Cursor {
	return Cursor{table: table, row: row}
}

// IsNull reports whether c has no target row.
func (c Cursor) IsNull() bool {
	return c.row == 0
}

// IsEnd reports whether c is the one-past-the-end cursor for its table.
func (c Cursor) IsEnd() bool {
	return c.table != nil && c.row == c.table.rowCount+1
}

// Table returns the table id c points into, or 0 if c is the zero Cursor.
func (c Cursor) Table() TableID {
	if c.table == nil {
		return 0
	}
	return c.table.id
}

// Row returns c's 1-based row index.
func (c Cursor) Row() uint32 {
	return c.row
}

// Move advances c by delta rows, failing if the result would fall outside
// [1, row_count+1].
func (c Cursor) Move(delta int32) (Cursor, bool) {
	if c.table == nil {
		return Cursor{}, false
	}
	next := int64(c.row) + int64(delta)
	if next < 1 || next > int64(c.table.rowCount)+1 {
		return Cursor{}, false
	}
	return Cursor{table: c.table, row: uint32(next)}, true
}

// Next advances c by one row.
func (c Cursor) Next() (Cursor, bool) {
	return c.Move(1)
}

// ToToken converts c to a Token. It still produces a syntactically valid
// token when c.row > row_count (mirroring original_source/query.c's
// md_cursor_to_token), but reports false in that case so callers can
// distinguish "points at a real row" from "points past the end".
func (c Cursor) ToToken() (Token, bool) {
	if c.table == nil {
		return 0, false
	}
	tk := tokenOf(c.table.id, c.row)
	return tk, c.row <= c.table.rowCount
}

// tokenToCursor resolves tk against the live tables, succeeding only when
// the token's row is in [1, row_count] - unlike ToToken, the one-past-the-
// end row is not accepted here, per original_source/query.c's
// md_token_to_cursor.
func tokenToCursor(tables map[TableID]*tableState, tk Token) (Cursor, bool) {
	table, ok := tables[tk.Table()]
	if !ok || table == nil {
		return Cursor{}, false
	}
	rid := tk.Rid()
	if rid == 0 || rid > table.rowCount {
		return Cursor{}, false
	}
	return Cursor{table: table, row: rid}, true
}
