// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

// utf16Units returns s as UTF-16 code units, for scanning by
// hasNon8BitSafeChar. This is plain stdlib rune-to-unit expansion, not a
// transcoding concern, so it does not go through x/text.
func utf16Units(s string) []uint16 {
	if s == "" {
		return nil
	}
	return utf16.Encode([]rune(s))
}

// decodeUTF16LE transcodes a UTF-16LE byte run (as found in the #US heap
// and in several PDB blobs) to a Go string, mirroring the wrapped PE
// parser's own DecodeUTF16String helper.
func decodeUTF16LE(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// encodeUTF16LE transcodes a Go string to raw UTF-16LE bytes for
// insertion into the #US heap.
func encodeUTF16LE(s string) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	return encoder.Bytes([]byte(s))
}

// hasNon8BitSafeChar implements the II.24.2.4 scan for the #US heap's
// trailing flag byte: true if any UTF-16 code unit in units has any bit
// set in its high byte, or a low byte in one of the listed control
// ranges/punctuation.
func hasNon8BitSafeChar(units []uint16) bool {
	for _, c := range units {
		switch {
		case c&0xFF00 != 0:
			return true
		case c >= 0x01 && c <= 0x08:
			return true
		case c >= 0x0E && c <= 0x1F:
			return true
		case c == 0x27:
			return true
		case c == 0x2D:
			return true
		case c == 0x7F:
			return true
		}
	}
	return false
}
