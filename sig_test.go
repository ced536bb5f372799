// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "testing"

func TestSkipFieldSigPrimitive(t *testing.T) {
	// FIELD calling convention (0x06) + ELEMENT_TYPE_I4.
	blob := []byte{fieldSigCallingConvention, elementTypeI4}
	n, err := SkipFieldSig(blob)
	if err != nil {
		t.Fatalf("SkipFieldSig failed: %v", err)
	}
	if n != len(blob) {
		t.Fatalf("SkipFieldSig = %d, want %d", n, len(blob))
	}
}

func TestSkipFieldSigWithCustomMods(t *testing.T) {
	// FIELD + CMOD_OPT(token 0x01) + ELEMENT_TYPE_BOOLEAN.
	blob := []byte{fieldSigCallingConvention, elementTypeCmodOpt, 0x01, elementTypeBoolean}
	n, err := SkipFieldSig(blob)
	if err != nil {
		t.Fatalf("SkipFieldSig failed: %v", err)
	}
	if n != len(blob) {
		t.Fatalf("SkipFieldSig = %d, want %d", n, len(blob))
	}
}

func TestSkipFieldSigValueType(t *testing.T) {
	// FIELD + ELEMENT_TYPE_VALUETYPE + compressed token 0x05.
	blob := []byte{fieldSigCallingConvention, elementTypeValueType, 0x05}
	n, err := SkipFieldSig(blob)
	if err != nil {
		t.Fatalf("SkipFieldSig failed: %v", err)
	}
	if n != len(blob) {
		t.Fatalf("SkipFieldSig = %d, want %d", n, len(blob))
	}
}

func TestSkipFieldSigSzArray(t *testing.T) {
	// FIELD + SZARRAY + ELEMENT_TYPE_U1.
	blob := []byte{fieldSigCallingConvention, elementTypeSzArray, elementTypeU1}
	n, err := SkipFieldSig(blob)
	if err != nil {
		t.Fatalf("SkipFieldSig failed: %v", err)
	}
	if n != len(blob) {
		t.Fatalf("SkipFieldSig = %d, want %d", n, len(blob))
	}
}

func TestSkipFieldSigRejectsBadCallingConvention(t *testing.T) {
	blob := []byte{0x00, elementTypeI4}
	if _, err := SkipFieldSig(blob); err != ErrMalformedSignature {
		t.Fatalf("SkipFieldSig = %v, want ErrMalformedSignature", err)
	}
}

func TestSkipFieldSigRejectsFnPtr(t *testing.T) {
	blob := []byte{fieldSigCallingConvention, elementTypeFnPtr}
	if _, err := SkipFieldSig(blob); err != ErrUnsupportedSignatureShape {
		t.Fatalf("SkipFieldSig = %v, want ErrUnsupportedSignatureShape", err)
	}
}

func TestSkipFieldSigTruncated(t *testing.T) {
	blob := []byte{fieldSigCallingConvention}
	if _, err := SkipFieldSig(blob); err != ErrMalformedSignature {
		t.Fatalf("SkipFieldSig = %v, want ErrMalformedSignature", err)
	}
}
