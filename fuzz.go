// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "bytes"

// Fuzz is a go-fuzz entry point exercising the full parse/mutate/write/
// reparse round trip: a corpus metadata blob is parsed, one new row is
// appended to the TypeRef table (a plain directly-addressed table with no
// list-column or sort-order complications, so the append always succeeds
// once the image itself parsed), the result is serialised, and the
// serialised bytes must parse back cleanly. Any inconsistency the engine
// itself introduces should surface as a non-nil error from the second
// parse rather than from a downstream consumer, so this replaces the
// wrapped parser's whole-image fuzz target, which only checked that Parse
// did not panic.
func Fuzz(data []byte) int {
	img, err := NewBytes(data, nil)
	if err != nil {
		return 0
	}

	row, err := img.AppendRow(TypeRef)
	if err != nil {
		return 0
	}
	if err := img.CommitRowAdd(row); err != nil {
		panic(err)
	}

	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		panic(err)
	}

	if _, err := NewBytes(buf.Bytes(), nil); err != nil {
		panic(err)
	}
	return 1
}
