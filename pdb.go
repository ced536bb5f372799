// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import "strings"

// DecodeDocumentName decodes a Portable PDB Document.Name blob (as found at
// #Blob offset nameBlobOffset): a leading separator character followed by a
// sequence of compressed #Blob-heap offsets, one per path part. Each part
// offset points at its own #Blob entry holding the raw UTF-8 bytes of that
// path segment; an empty part offset (0) contributes the separator itself,
// matching how the format represents a doubled separator.
func (img *Image) DecodeDocumentName(nameBlobOffset uint32) (string, error) {
	blob, _, ok := tryGetBlob(img.blobHeap, nameBlobOffset)
	if !ok {
		return "", ErrMalformedSignature
	}
	if len(blob) == 0 {
		return "", nil
	}
	sep := blob[0]
	off := 1

	var parts []string
	for off < len(blob) {
		partOffset, ok := decompressU32(blob, &off)
		if !ok {
			return "", ErrMalformedSignature
		}
		if partOffset == 0 {
			parts = append(parts, "")
			continue
		}
		part, _, ok := tryGetBlob(img.blobHeap, partOffset)
		if !ok {
			return "", ErrMalformedSignature
		}
		parts = append(parts, string(part))
	}
	if sep == 0 {
		return strings.Join(parts, ""), nil
	}
	return strings.Join(parts, string(rune(sep))), nil
}

// SequencePoint is one decoded record from a Portable PDB
// SequencePoints blob: its IL offset, start and end line/column, and
// whether it is a hidden sequence point (reported with StartLine 0xfeefee
// and StartColumn 0). The start line and column are read as absolute
// values only in the blob's first record; later non-hidden records add
// their signed deltas to the previous non-hidden record's start. Document
// changes are skipped, so a point does not record its document.
type SequencePoint struct {
	ILOffset                          uint32
	StartLine, StartColumn            int32
	EndLine, EndColumn                int32
	Hidden                            bool
}

// DecodeSequencePoints decodes a Portable PDB MethodDebugInformation
// SequencePoints blob. It returns the local signature token (0 if none)
// and the decoded points in file order.
func (img *Image) DecodeSequencePoints(blob []byte) (localSignatureToken uint32, points []SequencePoint, err error) {
	off := 0
	localSignatureToken, ok := decompressU32(blob, &off)
	if !ok {
		return 0, nil, ErrMalformedSignature
	}

	var prevILOffset uint32
	var prevStartLine, prevStartColumn int32
	first := true
	for off < len(blob) {
		deltaILOffset, ok := decompressU32(blob, &off)
		if !ok {
			return 0, nil, ErrMalformedSignature
		}
		if !first && deltaILOffset == 0 {
			// A document-change record; this best-effort decoder
			// does not track multi-document method bodies, so it is
			// skipped rather than misinterpreted as a point.
			if _, ok := decompressU32(blob, &off); !ok {
				return 0, nil, ErrMalformedSignature
			}
			continue
		}

		deltaLines, ok := decompressU32(blob, &off)
		if !ok {
			return 0, nil, ErrMalformedSignature
		}
		var deltaColumns int32
		if deltaLines == 0 {
			dc, ok := decompressU32(blob, &off)
			if !ok {
				return 0, nil, ErrMalformedSignature
			}
			deltaColumns = int32(dc)
		} else {
			dc, ok := decompressI32(blob, &off)
			if !ok {
				return 0, nil, ErrMalformedSignature
			}
			deltaColumns = dc
		}

		hidden := deltaLines == 0 && deltaColumns == 0
		var startLine, startColumn int32
		if hidden {
			startLine, startColumn = 0xfeefee, 0
		} else if first {
			sl, ok := decompressU32(blob, &off)
			if !ok {
				return 0, nil, ErrMalformedSignature
			}
			sc, ok := decompressU32(blob, &off)
			if !ok {
				return 0, nil, ErrMalformedSignature
			}
			startLine, startColumn = int32(sl), int32(sc)
		} else {
			dl, ok := decompressI32(blob, &off)
			if !ok {
				return 0, nil, ErrMalformedSignature
			}
			dc, ok := decompressI32(blob, &off)
			if !ok {
				return 0, nil, ErrMalformedSignature
			}
			startLine, startColumn = prevStartLine+dl, prevStartColumn+dc
		}
		if !hidden {
			prevStartLine, prevStartColumn = startLine, startColumn
		}

		ilOffset := prevILOffset + deltaILOffset
		if first {
			ilOffset = deltaILOffset
		}
		prevILOffset = ilOffset

		points = append(points, SequencePoint{
			ILOffset:    ilOffset,
			StartLine:   startLine,
			StartColumn: startColumn,
			EndLine:     startLine + int32(deltaLines),
			EndColumn:   startColumn + deltaColumns,
			Hidden:      hidden,
		})
		first = false
	}
	return localSignatureToken, points, nil
}

// LocalConstantKind classifies a decoded LocalConstant signature blob:
// an object/class/valuetype "general" constant whose value blob is opaque,
// a primitive with an inline value, or a primitive-typed enum member that
// carries the enum's type after its value.
type LocalConstantKind uint8

const (
	LocalConstantGeneral LocalConstantKind = iota
	LocalConstantPrimitive
	LocalConstantEnum
)

// CustomModifier is one CMOD_REQD/CMOD_OPT entry prefixed to a
// LocalConstant signature, naming a TypeDefOrRef.
type CustomModifier struct {
	Required bool
	Type     Token
}

// LocalConstantSig is the decoded form of a Portable PDB LocalConstant
// signature blob (the Signature column of the LocalConstant table).
type LocalConstantSig struct {
	CustomModifiers []CustomModifier

	Kind     LocalConstantKind
	TypeCode byte   // the signature's element type tag
	Type     Token  // valuetype/class type or the enum's type; 0 otherwise
	Value    []byte // raw constant value bytes
}

// DecodeLocalConstantSig decodes a Portable PDB LocalConstant signature
// blob: the leading run of custom modifiers (each a CMOD tag plus a
// TypeDefOrRef coded index), the element type tag, and the type-specific
// payload. Integer-typed constants with bytes remaining past their value
// are enum members; the trailing coded index names the enum type.
func (img *Image) DecodeLocalConstantSig(blob []byte) (*LocalConstantSig, error) {
	var sig LocalConstantSig
	off := 0
	for {
		if off >= len(blob) {
			return nil, ErrMalformedSignature
		}
		save := off
		et, ok := decompressU32(blob, &off)
		if !ok {
			return nil, ErrMalformedSignature
		}
		if et != elementTypeCmodReqd && et != elementTypeCmodOpt {
			off = save
			break
		}
		raw, ok := decompressU32(blob, &off)
		if !ok {
			return nil, ErrMalformedSignature
		}
		table, row, ok := decomposeCodedIndex(raw, ciTypeDefOrRef)
		if !ok {
			return nil, ErrMalformedSignature
		}
		sig.CustomModifiers = append(sig.CustomModifiers, CustomModifier{
			Required: et == elementTypeCmodReqd,
			Type:     tokenOf(table, row),
		})
	}

	tc, ok := decompressU32(blob, &off)
	if !ok {
		return nil, ErrMalformedSignature
	}
	sig.TypeCode = byte(tc)
	rest := blob[off:]

	switch tc {
	case elementTypeObject:
		sig.Kind = LocalConstantGeneral
		sig.Value = rest

	case elementTypeValueType, elementTypeClass:
		raw, ok := decompressU32(blob, &off)
		if !ok {
			return nil, ErrMalformedSignature
		}
		table, row, ok := decomposeCodedIndex(raw, ciTypeDefOrRef)
		if !ok {
			return nil, ErrMalformedSignature
		}
		sig.Kind = LocalConstantGeneral
		sig.Type = tokenOf(table, row)
		sig.Value = blob[off:]

	case elementTypeR4:
		if len(rest) != 4 {
			return nil, ErrMalformedSignature
		}
		sig.Kind = LocalConstantPrimitive
		sig.Value = rest

	case elementTypeR8:
		if len(rest) != 8 {
			return nil, ErrMalformedSignature
		}
		sig.Kind = LocalConstantPrimitive
		sig.Value = rest

	case elementTypeString:
		sig.Kind = LocalConstantPrimitive
		sig.Value = rest

	case elementTypeBoolean, elementTypeChar, elementTypeI1, elementTypeU1,
		elementTypeI2, elementTypeU2, elementTypeI4, elementTypeU4,
		elementTypeI8, elementTypeU8:
		var width int
		switch tc {
		case elementTypeBoolean, elementTypeI1, elementTypeU1:
			width = 1
		case elementTypeChar, elementTypeI2, elementTypeU2:
			width = 2
		case elementTypeI4, elementTypeU4:
			width = 4
		default:
			width = 8
		}
		if len(rest) < width {
			return nil, ErrMalformedSignature
		}
		sig.Value = rest[:width]
		if len(rest) == width {
			sig.Kind = LocalConstantPrimitive
			break
		}
		off += width
		raw, ok := decompressU32(blob, &off)
		if !ok {
			return nil, ErrMalformedSignature
		}
		table, row, ok := decomposeCodedIndex(raw, ciTypeDefOrRef)
		if !ok {
			return nil, ErrMalformedSignature
		}
		sig.Kind = LocalConstantEnum
		sig.Type = tokenOf(table, row)

	default:
		return nil, ErrMalformedSignature
	}
	return &sig, nil
}

// ImportTarget is one decoded entry of a Portable PDB ImportScope Imports
// blob: a kind byte followed by a kind-specific number of compressed
// operands (alias/namespace blob offsets, assembly row ids, or type
// tokens, left undifferentiated here).
type ImportTarget struct {
	Kind     byte
	Operands []uint32
}

// Portable PDB import-definition kinds. The comment on each names its
// compressed operands in blob order.
const (
	importKindImportNamespace              = 1 // target-namespace
	importKindImportAssemblyNamespace      = 2 // target-assembly, target-namespace
	importKindImportType                   = 3 // target-type
	importKindImportXmlNamespace           = 4 // alias, target-namespace
	importKindImportAssemblyReferenceAlias = 5 // alias
	importKindAliasAssemblyReference       = 6 // alias, target-assembly
	importKindAliasNamespace               = 7 // alias, target-namespace
	importKindAliasAssemblyNamespace       = 8 // alias, target-assembly, target-namespace
	importKindAliasType                    = 9 // alias, target-type
)

var importKindOperandCount = map[byte]int{
	importKindImportNamespace:              1,
	importKindImportAssemblyNamespace:      2,
	importKindImportType:                   1,
	importKindImportXmlNamespace:           2,
	importKindImportAssemblyReferenceAlias: 1,
	importKindAliasAssemblyReference:       2,
	importKindAliasNamespace:               2,
	importKindAliasAssemblyNamespace:       3,
	importKindAliasType:                    2,
}

// DecodeImports decodes a Portable PDB ImportScope Imports blob into its
// sequence of ImportTarget records. The kind is a plain byte; only the
// operands are compressed.
func (img *Image) DecodeImports(blob []byte) ([]ImportTarget, error) {
	var out []ImportTarget
	off := 0
	for off < len(blob) {
		kind, ok := readU8(blob, &off)
		if !ok {
			return nil, ErrMalformedSignature
		}
		n, known := importKindOperandCount[kind]
		if !known {
			return nil, ErrMalformedSignature
		}
		operands := make([]uint32, n)
		for i := 0; i < n; i++ {
			v, ok := decompressU32(blob, &off)
			if !ok {
				return nil, ErrMalformedSignature
			}
			operands[i] = v
		}
		out = append(out, ImportTarget{Kind: kind, Operands: operands})
	}
	return out, nil
}
