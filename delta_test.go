// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"bytes"
	"testing"
)

func TestApplyDeltaRequiresMinimalDelta(t *testing.T) {
	base := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1},
	}), nil)
	delta := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1},
	}), nil)

	if err := base.ApplyDelta(delta); err != ErrMinimalDeltaOnly {
		t.Fatalf("ApplyDelta = %v, want ErrMinimalDeltaOnly", err)
	}
}

func TestApplyDeltaVersionMismatch(t *testing.T) {
	base := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1},
	}), nil)
	delta := mustParse(t, craftImage(t, craftSpec{
		rowCounts:    map[TableID]uint32{Module: 1},
		minimalDelta: true,
		major:        2,
	}), nil)

	if err := base.ApplyDelta(delta); err != ErrVersionMismatch {
		t.Fatalf("ApplyDelta = %v, want ErrVersionMismatch", err)
	}
}

func TestApplyDeltaMergesHeaps(t *testing.T) {
	baseGUID := bytes.Repeat([]byte{1}, 16)
	base := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1},
		strings:   []byte{0, 'a', 0, 0},
		guid:      baseGUID,
	}), nil)

	// The delta's GUID heap replicates the base record and adds one more;
	// only the tail past the base's record count may be appended.
	deltaGUID := append(bytes.Repeat([]byte{1}, 16), bytes.Repeat([]byte{2}, 16)...)
	delta := mustParse(t, craftImage(t, craftSpec{
		rowCounts:    map[TableID]uint32{Module: 1},
		strings:      []byte{0, 'b', 0, 0},
		guid:         deltaGUID,
		minimalDelta: true,
	}), nil)

	strBefore := len(base.stringsHeap)
	if err := base.ApplyDelta(delta); err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}

	if len(base.stringsHeap) != strBefore+len(delta.stringsHeap) {
		t.Fatalf("strings heap = %d bytes, want %d", len(base.stringsHeap), strBefore+len(delta.stringsHeap))
	}
	if len(base.guidHeap) != 32 {
		t.Fatalf("guid heap = %d bytes, want 32 (one appended record)", len(base.guidHeap))
	}
	g, ok := tryGetGUID(base.guidHeap, 1)
	if !ok || g[0] != 1 {
		t.Fatalf("base guid record clobbered: %v", g)
	}
	g, ok = tryGetGUID(base.guidHeap, 2)
	if !ok || g[0] != 2 {
		t.Fatalf("delta guid record not appended: %v", g)
	}
}

func TestApplyDeltaRejectsENCLogOps(t *testing.T) {
	base := mustParse(t, craftImage(t, craftSpec{
		rowCounts: map[TableID]uint32{Module: 1},
	}), nil)
	delta := mustParse(t, craftImage(t, craftSpec{
		rowCounts:    map[TableID]uint32{Module: 1, ENCLog: 1},
		minimalDelta: true,
	}), nil)

	if err := base.ApplyDelta(delta); err != ErrUnknownDeltaOp {
		t.Fatalf("ApplyDelta = %v, want ErrUnknownDeltaOp", err)
	}
}
