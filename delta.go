// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

// ApplyDelta applies delta, a minimal-delta image (#JTD present), onto
// base in place: every heap in delta is merged into the matching heap in
// base (a full copy for #Strings/#Blob/#US, a tail-only copy for #GUID,
// since GUIDs are addressed by record index rather than byte offset and
// base's existing records never move), then delta's ENCLog table is
// walked and applied.
//
// Per SPEC_FULL.md's resolution of the ENCLog Open Question, every row's
// Op is rejected: ENCLog does not declare a portable encoding for
// "default" versus table-specific edit operations, so an implementation
// cannot safely guess at one. Heap merging still succeeds in full; only
// the table-edit replay is refused.
func (img *Image) ApplyDelta(delta *Image) error {
	if !delta.minimalDelta {
		return ErrMinimalDeltaOnly
	}
	if img.majorVersion != delta.majorVersion || img.minorVersion != delta.minorVersion {
		return ErrVersionMismatch
	}

	img.dirty = true
	img.ensureWritableHeap(heapString)
	img.stringsHeap = append(img.stringsHeap, delta.stringsHeap...)
	img.updateHeapFlag(heapString, uint32(len(img.stringsHeap)))
	img.promoteForHeapGrowth(heapString, uint32(len(img.stringsHeap)))

	img.ensureWritableHeap(heapBlob)
	img.blobHeap = append(img.blobHeap, delta.blobHeap...)
	img.updateHeapFlag(heapBlob, uint32(len(img.blobHeap)))
	img.promoteForHeapGrowth(heapBlob, uint32(len(img.blobHeap)))

	img.ensureWritableHeap(heapUserString)
	img.usHeap = append(img.usHeap, delta.usHeap...)
	img.updateHeapFlag(heapUserString, uint32(len(img.usHeap)))
	img.promoteForHeapGrowth(heapUserString, uint32(len(img.usHeap)))

	// #GUID is merged tail-only: delta's GUID heap, if non-minimal, may
	// already replicate base's records plus its own new ones; only the
	// records past base's current count are genuinely new.
	baseGUIDCount := uint32(len(img.guidHeap) / 16)
	deltaGUIDCount := uint32(len(delta.guidHeap) / 16)
	if deltaGUIDCount > baseGUIDCount {
		img.ensureWritableHeap(heapGUID)
		tail := delta.guidHeap[baseGUIDCount*16:]
		img.guidHeap = append(img.guidHeap, tail...)
		img.updateHeapFlag(heapGUID, uint32(len(img.guidHeap)))
		img.promoteForHeapGrowth(heapGUID, uint32(len(img.guidHeap)/16))
	}

	return img.applyENCLog(delta)
}

// applyENCLog walks delta's ENCLog table and rejects every row: see
// ApplyDelta's doc comment for why.
func (img *Image) applyENCLog(delta *Image) error {
	t, ok := delta.tables[ENCLog]
	if !ok || t.rowCount == 0 {
		return nil
	}
	return ErrUnknownDeltaOp
}
