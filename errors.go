// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "errors"

// Errors returned when the metadata root or one of its streams cannot be
// parsed. These indicate malformed input, not a precondition violation by
// the caller.
var (
	ErrInvalidSignature     = errors.New("metadata root signature mismatch")
	ErrTruncatedStream      = errors.New("stream truncated before expected end")
	ErrMalformedCompressed  = errors.New("malformed compressed integer")
	ErrUnknownTableID       = errors.New("unknown metadata table id")
	ErrCodedIndexTagOOB     = errors.New("coded index tag out of range for map")
	ErrStringsHeapNotNull   = errors.New("#Strings heap does not start with a NUL byte")
	ErrUserStringsHeapBad   = errors.New("#US heap does not start with a zero-length entry")
	ErrBlobHeapBad          = errors.New("#Blob heap does not start with a zero-length entry")
	ErrGUIDHeapMisaligned   = errors.New("#GUID heap size is not a multiple of 16")
	ErrTableStreamTruncated = errors.New("#~/#- stream truncated while reading row counts")
	ErrPdbStreamTruncated   = errors.New("#Pdb stream truncated")
	ErrMalformedSignature   = errors.New("malformed signature blob")
)

// Errors returned when the caller violates an operation precondition.
var (
	ErrNullCursor           = errors.New("operation not valid on a null cursor")
	ErrCursorOutOfRange     = errors.New("cursor row index out of range")
	ErrColumnKindMismatch   = errors.New("column access kind does not match column descriptor")
	ErrTokenTableMismatch   = errors.New("token table id does not match column's target table")
	ErrRowAddInProgress     = errors.New("a row is already being added to this table")
	ErrTableNotLive         = errors.New("table has no rows and no schema attached")
	ErrRowIndexOutOfBounds  = errors.New("row index out of bounds for insertion")
	ErrAppendToListTarget   = errors.New("append_row is not valid on a list-target table; use add_new_row_to_list")
)

// Errors returned for operations the engine does not (or cannot) support
// for the given input, as opposed to malformed input or an API misuse.
var (
	ErrUnsortedRangeLookup = errors.New("find_range_from_cursor requires a sorted column")
	ErrMinimalDeltaOnly    = errors.New("apply_delta requires the delta image to be a minimal delta")
	ErrVersionMismatch     = errors.New("base and delta metadata versions do not match")
	ErrUnknownDeltaOp      = errors.New("unsupported Op value in ENCLog row")
	ErrUnsupportedSignatureShape = errors.New("signature element type not supported by the minimal walker")
)

// Anomaly strings are appended to Image.Anomalies for conditions that are
// recorded rather than treated as hard failures, mirroring the wrapped PE
// parser's Ano* constants.
const (
	AnoPdbRowCountMismatch = "PDB referenced type-system row count does not match merged table row count"
	AnoHeapNotDeduplicated = "heap append performed without deduplication; equal inputs may yield distinct offsets"
)
