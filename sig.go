// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

// Element type tags from ECMA-335 II.23.1.16, the subset the minimal
// walker below needs to measure a signature's length. This package does
// not build a type-system representation of a signature; SkipFieldSig
// exists only so editing code can tell where a FieldSig blob ends.
const (
	elementTypeVoid       = 0x01
	elementTypeBoolean    = 0x02
	elementTypeChar       = 0x03
	elementTypeI1         = 0x04
	elementTypeU1         = 0x05
	elementTypeI2         = 0x06
	elementTypeU2         = 0x07
	elementTypeI4         = 0x08
	elementTypeU4         = 0x09
	elementTypeI8         = 0x0a
	elementTypeU8         = 0x0b
	elementTypeR4         = 0x0c
	elementTypeR8         = 0x0d
	elementTypeString     = 0x0e
	elementTypePtr        = 0x0f
	elementTypeByRef      = 0x10
	elementTypeValueType  = 0x11
	elementTypeClass      = 0x12
	elementTypeVar        = 0x13
	elementTypeArray      = 0x14
	elementTypeGenericInst = 0x15
	elementTypeTypedByRef = 0x16
	elementTypeI          = 0x18
	elementTypeU          = 0x19
	elementTypeFnPtr      = 0x1b
	elementTypeObject     = 0x1c
	elementTypeSzArray    = 0x1d
	elementTypeMVar       = 0x1e
	elementTypeCmodReqd   = 0x1f
	elementTypeCmodOpt    = 0x20
	elementTypePinned     = 0x45
)

const fieldSigCallingConvention = 0x06

func peekByte(blob []byte, off int) (byte, bool) {
	if off < 0 || off >= len(blob) {
		return 0, false
	}
	return blob[off], true
}

// SkipFieldSig measures a FIELD signature blob (ECMA-335 II.23.2.4),
// returning the number of bytes it occupies. It validates just enough
// structure to walk past custom modifiers and exactly one Type.
func SkipFieldSig(blob []byte) (int, error) {
	off := 0
	conv, ok := readU8(blob, &off)
	if !ok || conv != fieldSigCallingConvention {
		return 0, ErrMalformedSignature
	}
	if err := skipCustomMods(blob, &off); err != nil {
		return 0, err
	}
	if err := skipType(blob, &off); err != nil {
		return 0, err
	}
	return off, nil
}

func skipCustomMods(blob []byte, off *int) error {
	for {
		et, ok := peekByte(blob, *off)
		if !ok {
			return ErrMalformedSignature
		}
		if et != elementTypeCmodReqd && et != elementTypeCmodOpt {
			return nil
		}
		*off++
		if _, ok := decompressU32(blob, off); !ok {
			return ErrMalformedSignature
		}
	}
}

func skipType(blob []byte, off *int) error {
	et, ok := readU8(blob, off)
	if !ok {
		return ErrMalformedSignature
	}
	switch et {
	case elementTypeVoid, elementTypeBoolean, elementTypeChar,
		elementTypeI1, elementTypeU1, elementTypeI2, elementTypeU2,
		elementTypeI4, elementTypeU4, elementTypeI8, elementTypeU8,
		elementTypeR4, elementTypeR8, elementTypeString, elementTypeObject,
		elementTypeI, elementTypeU, elementTypeTypedByRef:
		return nil

	case elementTypeValueType, elementTypeClass, elementTypeVar, elementTypeMVar:
		if _, ok := decompressU32(blob, off); !ok {
			return ErrMalformedSignature
		}
		return nil

	case elementTypePtr, elementTypeByRef, elementTypePinned:
		if err := skipCustomMods(blob, off); err != nil {
			return err
		}
		return skipType(blob, off)

	case elementTypeSzArray:
		if err := skipCustomMods(blob, off); err != nil {
			return err
		}
		return skipType(blob, off)

	case elementTypeArray:
		if err := skipType(blob, off); err != nil {
			return err
		}
		if _, ok := decompressU32(blob, off); !ok { // rank
			return ErrMalformedSignature
		}
		numSizes, ok := decompressU32(blob, off)
		if !ok {
			return ErrMalformedSignature
		}
		for i := uint32(0); i < numSizes; i++ {
			if _, ok := decompressU32(blob, off); !ok {
				return ErrMalformedSignature
			}
		}
		numLoBounds, ok := decompressU32(blob, off)
		if !ok {
			return ErrMalformedSignature
		}
		for i := uint32(0); i < numLoBounds; i++ {
			if _, ok := decompressI32(blob, off); !ok {
				return ErrMalformedSignature
			}
		}
		return nil

	case elementTypeGenericInst:
		genEt, ok := readU8(blob, off)
		if !ok || (genEt != elementTypeClass && genEt != elementTypeValueType) {
			return ErrMalformedSignature
		}
		if _, ok := decompressU32(blob, off); !ok {
			return ErrMalformedSignature
		}
		argCount, ok := decompressU32(blob, off)
		if !ok {
			return ErrMalformedSignature
		}
		for i := uint32(0); i < argCount; i++ {
			if err := skipType(blob, off); err != nil {
				return err
			}
		}
		return nil

	case elementTypeFnPtr:
		return ErrUnsupportedSignatureShape

	default:
		return ErrMalformedSignature
	}
}
