// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

// TableID identifies one of the ECMA-335 Partition II logical metadata
// tables (II.22) by its bitmap position in the #~/#- valid-tables bitmap.
// Values below mdtidFirstPdb are "type system" tables present in ordinary
// managed images; values from FirstPdb up are Portable PDB tables, present
// only when the #Pdb stream is read.
//
// Unlike the wrapped PE parser's own dotnet.go (which renumbers the tables
// sequentially 0..44 purely for display), these values are the actual
// ECMA-335 table numbers: they double as the bit position consumed when
// parsing and writing the valid/sorted bitmaps in the tables stream, so
// they cannot be renumbered.
type TableID uint8

const (
	Module                 TableID = 0x00
	TypeRef                TableID = 0x01
	TypeDef                TableID = 0x02
	FieldPtr               TableID = 0x03
	Field                  TableID = 0x04
	MethodPtr              TableID = 0x05
	MethodDef              TableID = 0x06
	ParamPtr               TableID = 0x07
	Param                  TableID = 0x08
	InterfaceImpl          TableID = 0x09
	MemberRef              TableID = 0x0A
	Constant               TableID = 0x0B
	CustomAttribute        TableID = 0x0C
	FieldMarshal           TableID = 0x0D
	DeclSecurity           TableID = 0x0E
	ClassLayout            TableID = 0x0F
	FieldLayout            TableID = 0x10
	StandAloneSig          TableID = 0x11
	EventMap               TableID = 0x12
	EventPtr               TableID = 0x13
	Event                  TableID = 0x14
	PropertyMap            TableID = 0x15
	PropertyPtr            TableID = 0x16
	Property               TableID = 0x17
	MethodSemantics        TableID = 0x18
	MethodImpl             TableID = 0x19
	ModuleRef              TableID = 0x1A
	TypeSpec               TableID = 0x1B
	ImplMap                TableID = 0x1C
	FieldRVA               TableID = 0x1D
	ENCLog                 TableID = 0x1E
	ENCMap                 TableID = 0x1F
	Assembly               TableID = 0x20
	AssemblyProcessor      TableID = 0x21
	AssemblyOS             TableID = 0x22
	AssemblyRef            TableID = 0x23
	AssemblyRefProcessor   TableID = 0x24
	AssemblyRefOS          TableID = 0x25
	FileMD                 TableID = 0x26
	ExportedType           TableID = 0x27
	ManifestResource       TableID = 0x28
	NestedClass            TableID = 0x29
	GenericParam           TableID = 0x2A
	MethodSpec             TableID = 0x2B
	GenericParamConstraint TableID = 0x2C

	// Portable PDB tables - https://github.com/dotnet/runtime/blob/main/docs/design/specs/PortablePdb-Metadata.md
	Document               TableID = 0x30
	MethodDebugInformation TableID = 0x31
	LocalScope             TableID = 0x32
	LocalVariable          TableID = 0x33
	LocalConstant          TableID = 0x34
	ImportScope            TableID = 0x35
	StateMachineMethod     TableID = 0x36
	CustomDebugInformation TableID = 0x37

	mdtidFirst    TableID = Module
	mdtidFirstPdb TableID = Document
	mdtidEnd      TableID = CustomDebugInformation + 1
)

// tableName mirrors the wrapped PE parser's MetadataTableIndexToString.
var tableName = map[TableID]string{
	Module: "Module", TypeRef: "TypeRef", TypeDef: "TypeDef", FieldPtr: "FieldPtr",
	Field: "Field", MethodPtr: "MethodPtr", MethodDef: "MethodDef", ParamPtr: "ParamPtr",
	Param: "Param", InterfaceImpl: "InterfaceImpl", MemberRef: "MemberRef", Constant: "Constant",
	CustomAttribute: "CustomAttribute", FieldMarshal: "FieldMarshal", DeclSecurity: "DeclSecurity",
	ClassLayout: "ClassLayout", FieldLayout: "FieldLayout", StandAloneSig: "StandAloneSig",
	EventMap: "EventMap", EventPtr: "EventPtr", Event: "Event", PropertyMap: "PropertyMap",
	PropertyPtr: "PropertyPtr", Property: "Property", MethodSemantics: "MethodSemantics",
	MethodImpl: "MethodImpl", ModuleRef: "ModuleRef", TypeSpec: "TypeSpec", ImplMap: "ImplMap",
	FieldRVA: "FieldRVA", ENCLog: "ENCLog", ENCMap: "ENCMap", Assembly: "Assembly",
	AssemblyProcessor: "AssemblyProcessor", AssemblyOS: "AssemblyOS", AssemblyRef: "AssemblyRef",
	AssemblyRefProcessor: "AssemblyRefProcessor", AssemblyRefOS: "AssemblyRefOS", FileMD: "File",
	ExportedType: "ExportedType", ManifestResource: "ManifestResource", NestedClass: "NestedClass",
	GenericParam: "GenericParam", MethodSpec: "MethodSpec", GenericParamConstraint: "GenericParamConstraint",
	Document: "Document", MethodDebugInformation: "MethodDebugInformation", LocalScope: "LocalScope",
	LocalVariable: "LocalVariable", LocalConstant: "LocalConstant", ImportScope: "ImportScope",
	StateMachineMethod: "StateMachineMethod", CustomDebugInformation: "CustomDebugInformation",
}

// String implements fmt.Stringer for TableID.
func (id TableID) String() string {
	if name, ok := tableName[id]; ok {
		return name
	}
	return "Unknown"
}

// indirectionOf maps an indirection table to the direct table it redirects
// into; directToIndirection is the reverse lookup, populated in init.
var indirectionOf = map[TableID]TableID{
	FieldPtr:    Field,
	MethodPtr:   MethodDef,
	ParamPtr:    Param,
	EventPtr:    Event,
	PropertyPtr: Property,
}

var directToIndirection map[TableID]TableID

func init() {
	directToIndirection = make(map[TableID]TableID, len(indirectionOf))
	for indirect, direct := range indirectionOf {
		directToIndirection[direct] = indirect
	}
}

// tableIsIndirectTable reports whether id names one of the five
// indirection tables (FieldPtr, MethodPtr, ParamPtr, EventPtr, PropertyPtr).
func tableIsIndirectTable(id TableID) bool {
	_, ok := indirectionOf[id]
	return ok
}

// correspondingIndirectionTable returns the indirection table id that
// stands in for id's direct table once synthesised, and whether one
// exists at all for id.
func correspondingIndirectionTable(id TableID) (TableID, bool) {
	t, ok := directToIndirection[id]
	return t, ok
}

// columnKind classifies how a column's raw stored value is interpreted,
// mirroring the category bits of mdtcol_t in original_source/internal.h.
type columnKind uint8

const (
	kindConstant columnKind = iota
	kindHeap
	kindTable
	kindCoded
)

// heapKind identifies which heap a heap-index column resolves against.
type heapKind uint8

const (
	heapNone heapKind = iota
	heapString
	heapGUID
	heapBlob
	heapUserString
)

// codedIndexID names one of the thirteen (fourteen with PDB) coded-index
// maps defined in II.24.2.6.
type codedIndexID uint8

const (
	ciTypeDefOrRef codedIndexID = iota
	ciHasConstant
	ciHasCustomAttribute
	ciHasFieldMarshall
	ciHasDeclSecurity
	ciMemberRefParent
	ciHasSemantics
	ciMethodDefOrRef
	ciMemberForwarded
	ciImplementation
	ciCustomAttributeType
	ciResolutionScope
	ciTypeOrMethodDef
	ciHasCustomDebugInformation
	ciCount
)

// codedIndexMap lists, in tag order, the candidate tables a coded-index
// column may reference, and the fixed number of low bits used to store
// the tag. A ciReserved entry in tables is a reserved/unused tag slot
// (e.g. CustomAttributeType reserves tags 0, 1, and 4).
type codedIndexMap struct {
	tagBits uint8
	tables  []TableID // indexed by tag value; len(tables) == 1<<tagBits
}

const ciReserved TableID = 0xFF // marks a reserved tag slot in a coded index map

var codedIndexMaps = map[codedIndexID]codedIndexMap{
	ciTypeDefOrRef: {tagBits: 2, tables: []TableID{TypeDef, TypeRef, TypeSpec, ciReserved}},
	ciHasConstant:  {tagBits: 2, tables: []TableID{Field, Param, Property, ciReserved}},
	ciHasCustomAttribute: {tagBits: 5, tables: []TableID{
		MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef, Module,
		DeclSecurity, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly,
		AssemblyRef, FileMD, ExportedType, ManifestResource, GenericParam, GenericParamConstraint,
		MethodSpec,
		ciReserved, ciReserved, ciReserved, ciReserved, ciReserved, ciReserved, ciReserved, ciReserved, ciReserved, ciReserved,
	}},
	ciHasFieldMarshall: {tagBits: 1, tables: []TableID{Field, Param}},
	ciHasDeclSecurity:  {tagBits: 2, tables: []TableID{TypeDef, MethodDef, Assembly, ciReserved}},
	ciMemberRefParent:  {tagBits: 3, tables: []TableID{TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec, ciReserved, ciReserved, ciReserved}},
	ciHasSemantics:     {tagBits: 1, tables: []TableID{Event, Property}},
	ciMethodDefOrRef:   {tagBits: 1, tables: []TableID{MethodDef, MemberRef}},
	ciMemberForwarded:  {tagBits: 1, tables: []TableID{Field, MethodDef}},
	ciImplementation:   {tagBits: 2, tables: []TableID{FileMD, AssemblyRef, ExportedType, ciReserved}},
	ciCustomAttributeType: {tagBits: 3, tables: []TableID{
		ciReserved, ciReserved, MethodDef, MemberRef, ciReserved, ciReserved, ciReserved, ciReserved,
	}},
	ciResolutionScope:          {tagBits: 2, tables: []TableID{Module, ModuleRef, AssemblyRef, TypeRef}},
	ciTypeOrMethodDef:          {tagBits: 1, tables: []TableID{TypeDef, MethodDef}},
	ciHasCustomDebugInformation: {tagBits: 5, tables: []TableID{
		MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef, Module,
		DeclSecurity, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly,
		AssemblyRef, FileMD, ExportedType, ManifestResource, GenericParam, GenericParamConstraint,
		MethodSpec, Document, LocalScope, LocalVariable, LocalConstant, ImportScope,
		ciReserved, ciReserved, ciReserved, ciReserved, ciReserved,
	}},
}

// columnSpec is the static, image-independent declaration of one table
// column: its value category and, depending on kind, the target table,
// coded-index map, or heap it resolves against. constWidth only applies
// to kindConstant columns (a width intrinsic to the schema, e.g. Flags is
// always 2 or 4 bytes regardless of row counts).
type columnSpec struct {
	name       string
	kind       columnKind
	constWidth uint8
	target     TableID
	coded      codedIndexID
	heap       heapKind
	isList     bool // true for TypeDef.FieldList-style half-open-range columns
}

func constCol(name string, width uint8) columnSpec {
	return columnSpec{name: name, kind: kindConstant, constWidth: width}
}

func tableCol(name string, target TableID) columnSpec {
	return columnSpec{name: name, kind: kindTable, target: target}
}

func listCol(name string, target TableID) columnSpec {
	return columnSpec{name: name, kind: kindTable, target: target, isList: true}
}

func codedCol(name string, ci codedIndexID) columnSpec {
	return columnSpec{name: name, kind: kindCoded, coded: ci}
}

func heapCol(name string, h heapKind) columnSpec {
	return columnSpec{name: name, kind: kindHeap, heap: h}
}

// tableSchema is the full static column list for one table, in declared
// column order (which is also on-disk row order).
var tableSchema = map[TableID][]columnSpec{
	Module: {
		constCol("Generation", 2),
		heapCol("Name", heapString),
		heapCol("Mvid", heapGUID),
		heapCol("EncId", heapGUID),
		heapCol("EncBaseId", heapGUID),
	},
	TypeRef: {
		codedCol("ResolutionScope", ciResolutionScope),
		heapCol("Name", heapString),
		heapCol("Namespace", heapString),
	},
	TypeDef: {
		constCol("Flags", 4),
		heapCol("Name", heapString),
		heapCol("Namespace", heapString),
		codedCol("Extends", ciTypeDefOrRef),
		listCol("FieldList", Field),
		listCol("MethodList", MethodDef),
	},
	FieldPtr: {tableCol("Field", Field)},
	Field: {
		constCol("Flags", 2),
		heapCol("Name", heapString),
		heapCol("Signature", heapBlob),
	},
	MethodPtr: {tableCol("Method", MethodDef)},
	MethodDef: {
		constCol("RVA", 4),
		constCol("ImplFlags", 2),
		constCol("Flags", 2),
		heapCol("Name", heapString),
		heapCol("Signature", heapBlob),
		listCol("ParamList", Param),
	},
	ParamPtr: {tableCol("Param", Param)},
	Param: {
		constCol("Flags", 2),
		constCol("Sequence", 2),
		heapCol("Name", heapString),
	},
	InterfaceImpl: {
		tableCol("Class", TypeDef),
		codedCol("Interface", ciTypeDefOrRef),
	},
	MemberRef: {
		codedCol("Class", ciMemberRefParent),
		heapCol("Name", heapString),
		heapCol("Signature", heapBlob),
	},
	Constant: {
		constCol("Type", 2), // 1-byte type tag + 1-byte padding, stored as a 2-byte constant
		codedCol("Parent", ciHasConstant),
		heapCol("Value", heapBlob),
	},
	CustomAttribute: {
		codedCol("Parent", ciHasCustomAttribute),
		codedCol("Type", ciCustomAttributeType),
		heapCol("Value", heapBlob),
	},
	FieldMarshal: {
		codedCol("Parent", ciHasFieldMarshall),
		heapCol("NativeType", heapBlob),
	},
	DeclSecurity: {
		constCol("Action", 2),
		codedCol("Parent", ciHasDeclSecurity),
		heapCol("PermissionSet", heapBlob),
	},
	ClassLayout: {
		constCol("PackingSize", 2),
		constCol("ClassSize", 4),
		tableCol("Parent", TypeDef),
	},
	FieldLayout: {
		constCol("Offset", 4),
		tableCol("Field", Field),
	},
	StandAloneSig: {
		heapCol("Signature", heapBlob),
	},
	EventMap: {
		tableCol("Parent", TypeDef),
		listCol("EventList", Event),
	},
	EventPtr: {tableCol("Event", Event)},
	Event: {
		constCol("EventFlags", 2),
		heapCol("Name", heapString),
		codedCol("EventType", ciTypeDefOrRef),
	},
	PropertyMap: {
		tableCol("Parent", TypeDef),
		listCol("PropertyList", Property),
	},
	PropertyPtr: {tableCol("Property", Property)},
	Property: {
		constCol("Flags", 2),
		heapCol("Name", heapString),
		heapCol("Type", heapBlob),
	},
	MethodSemantics: {
		constCol("Semantics", 2),
		tableCol("Method", MethodDef),
		codedCol("Association", ciHasSemantics),
	},
	MethodImpl: {
		tableCol("Class", TypeDef),
		codedCol("MethodBody", ciMethodDefOrRef),
		codedCol("MethodDeclaration", ciMethodDefOrRef),
	},
	ModuleRef: {
		heapCol("Name", heapString),
	},
	TypeSpec: {
		heapCol("Signature", heapBlob),
	},
	ImplMap: {
		constCol("MappingFlags", 2),
		codedCol("MemberForwarded", ciMemberForwarded),
		heapCol("ImportName", heapString),
		tableCol("ImportScope", ModuleRef),
	},
	FieldRVA: {
		constCol("RVA", 4),
		tableCol("Field", Field),
	},
	ENCLog: {
		constCol("Token", 4),
		constCol("Op", 4),
	},
	ENCMap: {
		constCol("Token", 4),
	},
	Assembly: {
		constCol("HashAlgId", 4),
		constCol("MajorVersion", 2),
		constCol("MinorVersion", 2),
		constCol("BuildNumber", 2),
		constCol("RevisionNumber", 2),
		constCol("Flags", 4),
		heapCol("PublicKey", heapBlob),
		heapCol("Name", heapString),
		heapCol("Culture", heapString),
	},
	AssemblyProcessor: {
		constCol("Processor", 4),
	},
	AssemblyOS: {
		constCol("OSPlatformID", 4),
		constCol("OSMajorVersion", 4),
		constCol("OSMinorVersion", 4),
	},
	AssemblyRef: {
		constCol("MajorVersion", 2),
		constCol("MinorVersion", 2),
		constCol("BuildNumber", 2),
		constCol("RevisionNumber", 2),
		constCol("Flags", 4),
		heapCol("PublicKeyOrToken", heapBlob),
		heapCol("Name", heapString),
		heapCol("Culture", heapString),
		heapCol("HashValue", heapBlob),
	},
	AssemblyRefProcessor: {
		constCol("Processor", 4),
		tableCol("AssemblyRef", AssemblyRef),
	},
	AssemblyRefOS: {
		constCol("OSPlatformID", 4),
		constCol("OSMajorVersion", 4),
		constCol("OSMinorVersion", 4),
		tableCol("AssemblyRef", AssemblyRef),
	},
	FileMD: {
		constCol("Flags", 4),
		heapCol("Name", heapString),
		heapCol("HashValue", heapBlob),
	},
	ExportedType: {
		constCol("Flags", 4),
		constCol("TypeDefId", 4),
		heapCol("TypeName", heapString),
		heapCol("TypeNamespace", heapString),
		codedCol("Implementation", ciImplementation),
	},
	ManifestResource: {
		constCol("Offset", 4),
		constCol("Flags", 4),
		heapCol("Name", heapString),
		codedCol("Implementation", ciImplementation),
	},
	NestedClass: {
		tableCol("NestedClass", TypeDef),
		tableCol("EnclosingClass", TypeDef),
	},
	GenericParam: {
		constCol("Number", 2),
		constCol("Flags", 2),
		codedCol("Owner", ciTypeOrMethodDef),
		heapCol("Name", heapString),
	},
	MethodSpec: {
		codedCol("Method", ciMethodDefOrRef),
		heapCol("Instantiation", heapBlob),
	},
	GenericParamConstraint: {
		tableCol("Owner", GenericParam),
		codedCol("Constraint", ciTypeDefOrRef),
	},

	// Portable PDB tables.
	Document: {
		heapCol("Name", heapBlob), // document-name blob, decoded by pdb.go's DecodeDocumentName
		heapCol("Hash", heapBlob),
		heapCol("HashAlgorithm", heapGUID),
		heapCol("Language", heapGUID),
	},
	MethodDebugInformation: {
		tableCol("Document", Document),
		heapCol("SequencePoints", heapBlob),
	},
	LocalScope: {
		tableCol("Method", MethodDef),
		tableCol("ImportScope", ImportScope),
		listCol("VariableList", LocalVariable),
		listCol("ConstantList", LocalConstant),
		constCol("StartOffset", 4),
		constCol("Length", 4),
	},
	LocalVariable: {
		constCol("Attributes", 2),
		constCol("Index", 2),
		heapCol("Name", heapString),
	},
	LocalConstant: {
		heapCol("Name", heapString),
		heapCol("Signature", heapBlob),
	},
	ImportScope: {
		tableCol("Parent", ImportScope),
		heapCol("Imports", heapBlob),
	},
	StateMachineMethod: {
		tableCol("MoveNextMethod", MethodDef),
		tableCol("KickOffMethod", MethodDef),
	},
	CustomDebugInformation: {
		codedCol("Parent", ciHasCustomDebugInformation),
		heapCol("Kind", heapGUID),
		heapCol("Value", heapBlob),
	},
}

// sortKey names a column (by index into tableSchema[id]) that participates
// in a table's declared sort order, per II.22's per-table "sorted" notes.
type sortKey struct {
	column     uint8
	descending bool
}

var tableSortKeys = map[TableID][]sortKey{
	ClassLayout:            {{column: 2}}, // Parent
	Constant:               {{column: 1}}, // Parent
	CustomAttribute:        {{column: 0}}, // Parent
	DeclSecurity:           {{column: 1}}, // Parent
	FieldLayout:            {{column: 1}}, // Field
	FieldMarshal:           {{column: 0}}, // Parent
	FieldRVA:                {{column: 1}}, // Field
	GenericParam:            {{column: 2}, {column: 0}}, // Owner, Number
	GenericParamConstraint:  {{column: 0}},               // Owner
	ImplMap:                 {{column: 1}},                // MemberForwarded
	InterfaceImpl:           {{column: 0}},                // Class
	MethodImpl:              {{column: 0}},                // Class
	MethodSemantics:         {{column: 2}},                // Association
	NestedClass:             {{column: 0}},                // NestedClass
	LocalScope:               {{column: 0}, {column: 4}, {column: 5, descending: true}}, // Method, StartOffset, Length desc
	StateMachineMethod:       {{column: 0}},                // MoveNextMethod
	CustomDebugInformation:   {{column: 0}},                // Parent
}

// listColumnOwner records, for every half-open-range ("list") column, the
// table/column pair whose next value delimits the current row's range -
// i.e. the table the list column is declared on. Used by query.go's AsRange.
type listColumnOwner struct {
	parent TableID
	column uint8
	child  TableID
}

var listColumns = []listColumnOwner{
	{parent: TypeDef, column: 4, child: Field},
	{parent: TypeDef, column: 5, child: MethodDef},
	{parent: MethodDef, column: 5, child: Param},
	{parent: EventMap, column: 1, child: Event},
	{parent: PropertyMap, column: 1, child: Property},
	{parent: LocalScope, column: 2, child: LocalVariable},
	{parent: LocalScope, column: 3, child: LocalConstant},
}

// getTableColumnCount returns the number of columns id's schema declares,
// or 0 if id is unknown.
func getTableColumnCount(id TableID) uint8 {
	return uint8(len(tableSchema[id]))
}

// composeCodedIndex packs a (table, row) pair into a coded-index raw value
// per the map's declared tag order. It fails if table is not a candidate
// of the map.
func composeCodedIndex(table TableID, row uint32, ci codedIndexID) (uint32, bool) {
	m, ok := codedIndexMaps[ci]
	if !ok {
		return 0, false
	}
	for tag, candidate := range m.tables {
		if candidate == table {
			return (row << m.tagBits) | uint32(tag), true
		}
	}
	return 0, false
}

// decomposeCodedIndex unpacks a coded-index raw value into its target
// table and row, per the map's declared tag order.
func decomposeCodedIndex(raw uint32, ci codedIndexID) (TableID, uint32, bool) {
	m, ok := codedIndexMaps[ci]
	if !ok {
		return 0, 0, false
	}
	tag := raw & ((1 << m.tagBits) - 1)
	if int(tag) >= len(m.tables) {
		return 0, 0, false
	}
	table := m.tables[tag]
	if table == ciReserved {
		return 0, 0, false
	}
	return table, raw >> m.tagBits, true
}

// isCodedIndexTargetOf reports whether table is a candidate of ci.
func isCodedIndexTargetOf(table TableID, ci codedIndexID) bool {
	m, ok := codedIndexMaps[ci]
	if !ok {
		return false
	}
	for _, candidate := range m.tables {
		if candidate == table {
			return true
		}
	}
	return false
}

// codedIndexMaxRowBound returns the row-count threshold at or above which
// a coded index column referencing table (through map ci) must widen to 4
// bytes, i.e. 2^(16-tagBits), per invariant 4 in SPEC_FULL.md §3.2.
func codedIndexMaxRowBound(ci codedIndexID) uint32 {
	m := codedIndexMaps[ci]
	return 1 << (16 - m.tagBits)
}
