// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"reflect"
	"testing"
)

func TestDecodeDocumentName(t *testing.T) {
	heap := []byte{
		0x00, // offset 0: empty blob

		0x06, 'S', 'y', 's', 't', 'e', 'm', // offset 1: "System"

		0x02, 'I', 'O', // offset 8: "IO"

		0x09, 'S', 't', 'r', 'e', 'a', 'm', '.', 'c', 's', // offset 11: "Stream.cs"

		0x04, '/', 0x01, 0x08, 0x0B, // offset 21: document name blob
	}
	img := &Image{blobHeap: heap}

	got, err := img.DecodeDocumentName(21)
	if err != nil {
		t.Fatalf("DecodeDocumentName failed: %v", err)
	}
	want := "System/IO/Stream.cs"
	if got != want {
		t.Fatalf("DecodeDocumentName = %q, want %q", got, want)
	}
}

func TestDecodeDocumentNameEmptyBlob(t *testing.T) {
	heap := []byte{0x00}
	img := &Image{blobHeap: heap}
	got, err := img.DecodeDocumentName(0)
	if err != nil {
		t.Fatalf("DecodeDocumentName failed: %v", err)
	}
	if got != "" {
		t.Fatalf("DecodeDocumentName = %q, want empty string", got)
	}
}

func TestDecodeDocumentNameBadOffset(t *testing.T) {
	img := &Image{blobHeap: []byte{0x00}}
	if _, err := img.DecodeDocumentName(99); err == nil {
		t.Fatal("DecodeDocumentName should fail for an out-of-range offset")
	}
}

func TestDecodeLocalConstantSigPrimitive(t *testing.T) {
	img := &Image{}
	blob := []byte{elementTypeI4, 0x2a, 0x00, 0x00, 0x00}
	sig, err := img.DecodeLocalConstantSig(blob)
	if err != nil {
		t.Fatalf("DecodeLocalConstantSig failed: %v", err)
	}
	if sig.Kind != LocalConstantPrimitive || sig.TypeCode != elementTypeI4 {
		t.Fatalf("decoded (%d, %#x), want primitive I4", sig.Kind, sig.TypeCode)
	}
	if !reflect.DeepEqual(sig.Value, blob[1:]) {
		t.Fatalf("value = %v, want %v", sig.Value, blob[1:])
	}
	if len(sig.CustomModifiers) != 0 || sig.Type != 0 {
		t.Fatalf("unexpected modifiers/type: %+v", sig)
	}
}

func TestDecodeLocalConstantSigEnum(t *testing.T) {
	img := &Image{}
	// A two-byte I2 value followed by a TypeDefOrRef coded index naming
	// the enum type (TypeRef row 2 -> tag 1 -> (2<<2)|1 = 9).
	blob := []byte{elementTypeI2, 0x07, 0x00, 0x09}
	sig, err := img.DecodeLocalConstantSig(blob)
	if err != nil {
		t.Fatalf("DecodeLocalConstantSig failed: %v", err)
	}
	if sig.Kind != LocalConstantEnum || sig.TypeCode != elementTypeI2 {
		t.Fatalf("decoded (%d, %#x), want enum I2", sig.Kind, sig.TypeCode)
	}
	if !reflect.DeepEqual(sig.Value, []byte{0x07, 0x00}) {
		t.Fatalf("value = %v, want the two value bytes only", sig.Value)
	}
	if sig.Type != tokenOf(TypeRef, 2) {
		t.Fatalf("enum type = (%v, %d), want (TypeRef, 2)", sig.Type.Table(), sig.Type.Rid())
	}
}

func TestDecodeLocalConstantSigCustomModifiers(t *testing.T) {
	img := &Image{}
	// CMOD_OPT TypeRef#1 ((1<<2)|1 = 5), then a one-byte boolean value.
	blob := []byte{elementTypeCmodOpt, 0x05, elementTypeBoolean, 0x01}
	sig, err := img.DecodeLocalConstantSig(blob)
	if err != nil {
		t.Fatalf("DecodeLocalConstantSig failed: %v", err)
	}
	if len(sig.CustomModifiers) != 1 {
		t.Fatalf("modifier count = %d, want 1", len(sig.CustomModifiers))
	}
	mod := sig.CustomModifiers[0]
	if mod.Required || mod.Type != tokenOf(TypeRef, 1) {
		t.Fatalf("modifier = %+v, want optional TypeRef 1", mod)
	}
	if sig.Kind != LocalConstantPrimitive || sig.TypeCode != elementTypeBoolean {
		t.Fatalf("decoded (%d, %#x), want primitive boolean", sig.Kind, sig.TypeCode)
	}
}

func TestDecodeLocalConstantSigGeneral(t *testing.T) {
	img := &Image{}
	// VALUETYPE TypeDef#3 ((3<<2)|0 = 12) with an opaque value payload.
	blob := []byte{elementTypeValueType, 0x0c, 0xde, 0xad}
	sig, err := img.DecodeLocalConstantSig(blob)
	if err != nil {
		t.Fatalf("DecodeLocalConstantSig failed: %v", err)
	}
	if sig.Kind != LocalConstantGeneral || sig.Type != tokenOf(TypeDef, 3) {
		t.Fatalf("decoded kind %d type (%v, %d), want general TypeDef 3", sig.Kind, sig.Type.Table(), sig.Type.Rid())
	}
	if !reflect.DeepEqual(sig.Value, []byte{0xde, 0xad}) {
		t.Fatalf("value = %v", sig.Value)
	}
}

func TestDecodeLocalConstantSigMalformed(t *testing.T) {
	img := &Image{}
	bad := [][]byte{
		nil,
		{elementTypeCmodOpt},             // modifier with no coded index
		{elementTypeI4, 0x2a},            // value shorter than the type width
		{elementTypeR4, 0x00, 0x00},      // R4 must carry exactly 4 bytes
		{elementTypeValueType},           // missing type coded index
		{elementTypePtr},                 // not a constant element type
	}
	for _, blob := range bad {
		if _, err := img.DecodeLocalConstantSig(blob); err != ErrMalformedSignature {
			t.Fatalf("DecodeLocalConstantSig(%x) = %v, want ErrMalformedSignature", blob, err)
		}
	}
}

func TestDecodeImports(t *testing.T) {
	img := &Image{}
	// ImportNamespace (1 operand), AliasAssemblyReference (2 operands),
	// AliasAssemblyNamespace (3 operands).
	blob := []byte{
		importKindImportNamespace, 0x10,
		importKindAliasAssemblyReference, 0x20, 0x02,
		importKindAliasAssemblyNamespace, 0x30, 0x01, 0x40,
	}
	got, err := img.DecodeImports(blob)
	if err != nil {
		t.Fatalf("DecodeImports failed: %v", err)
	}
	want := []ImportTarget{
		{Kind: importKindImportNamespace, Operands: []uint32{0x10}},
		{Kind: importKindAliasAssemblyReference, Operands: []uint32{0x20, 0x02}},
		{Kind: importKindAliasAssemblyNamespace, Operands: []uint32{0x30, 0x01, 0x40}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DecodeImports = %+v, want %+v", got, want)
	}
}

func TestDecodeImportsTruncatedOperands(t *testing.T) {
	img := &Image{}
	// AliasType declares two operands but only one follows.
	blob := []byte{importKindAliasType, 0x10}
	if _, err := img.DecodeImports(blob); err != ErrMalformedSignature {
		t.Fatalf("err = %v, want ErrMalformedSignature", err)
	}
}

func TestDecodeImportsUnknownKind(t *testing.T) {
	img := &Image{}
	blob := []byte{0x63} // kind 99, unknown
	if _, err := img.DecodeImports(blob); err != ErrMalformedSignature {
		t.Fatalf("err = %v, want ErrMalformedSignature", err)
	}
}

func TestDecodeSequencePointsSingle(t *testing.T) {
	img := &Image{}
	// local signature token 0, one sequence point:
	// deltaILOffset=0 (first=>ILOffset 0), deltaLines=2,
	// deltaColumns=5 (signed-compressed since deltaLines!=0, so 0x0a),
	// startLine=10, startColumn=1.
	blob := []byte{0x00, 0x00, 0x02, 0x0a, 0x0a, 0x01}
	token, points, err := img.DecodeSequencePoints(blob)
	if err != nil {
		t.Fatalf("DecodeSequencePoints failed: %v", err)
	}
	if token != 0 {
		t.Fatalf("token = %d, want 0", token)
	}
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}
	p := points[0]
	if p.ILOffset != 0 || p.StartLine != 10 || p.StartColumn != 1 || p.EndLine != 12 || p.EndColumn != 6 || p.Hidden {
		t.Fatalf("unexpected point: %+v", p)
	}
}
