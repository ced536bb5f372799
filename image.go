// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mdimage

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/saferwall/mdimage/internal/log"
)

const metadataSignature = 0x424A5342 // "BSJB"

// Options configures Image parsing.
type Options struct {
	// MinimalDelta marks the image as an EnC delta (#JTD heap present, or
	// forced by the caller): every table/coded-index column is 4 bytes
	// regardless of row counts.
	MinimalDelta bool

	// SkipPdb ignores any #Pdb stream, parsing only the type-system tables.
	SkipPdb bool

	// StrictValidation turns heap-shape anomalies (normally recorded in
	// Image.Anomalies and parsed past) into hard parse errors.
	StrictValidation bool

	// A custom logger.
	Logger log.Logger
}

// Image is a parsed (and optionally mutated) view of one ECMA-335
// metadata blob: the decoded heaps, the live table layout, and an
// optional lazily-allocated editor for in-place mutation.
type Image struct {
	data mmap.MMap // nil when constructed via NewBytes
	f    *os.File  // nil when constructed via NewBytes
	raw  []byte    // the metadata root blob, whichever backing it came from

	majorVersion, minorVersion uint16
	versionString              string

	tables  map[TableID]*tableState
	header  tablesStreamHeader
	heapFlags heapSizeFlags

	stringsHeap []byte
	guidHeap    []byte
	blobHeap    []byte
	usHeap      []byte
	pdbRaw      []byte
	pdb         pdbInfo
	hasPdb      bool

	minimalDelta bool
	dirty        bool // true once any edit has been made; gates the serialiser's fast path
	ed           *editor

	opts   *Options
	logger *log.Helper

	Anomalies []string
}

// streamHeader is one entry of the metadata root's stream directory
// (II.24.2.2): a byte range into raw plus the stream's name.
type streamHeader struct {
	offset uint32
	size   uint32
	name   string
}

func defaultLogger(opts *Options) *log.Helper {
	if opts.Logger != nil {
		return log.NewHelper(opts.Logger)
	}
	base := log.NewStdLogger(os.Stdout)
	return log.NewHelper(log.NewFilter(base, log.FilterLevel(log.LevelError)))
}

// New memory-maps path and parses it as an ECMA-335 metadata blob.
func New(path string, opts *Options) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	if opts == nil {
		opts = &Options{}
	}
	img := &Image{
		data:         data,
		f:            f,
		raw:          data,
		minimalDelta: opts.MinimalDelta,
		opts:         opts,
		logger:       defaultLogger(opts),
	}
	if err := img.Parse(); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// NewBytes parses data, which must already be a complete metadata root, as
// an ECMA-335 metadata blob. data is retained and must not be modified by
// the caller afterwards.
func NewBytes(data []byte, opts *Options) (*Image, error) {
	if opts == nil {
		opts = &Options{}
	}
	img := &Image{
		raw:          data,
		minimalDelta: opts.MinimalDelta,
		opts:         opts,
		logger:       defaultLogger(opts),
	}
	if err := img.Parse(); err != nil {
		return nil, err
	}
	return img, nil
}

// NewEmpty builds a minimal, writable image from scratch: a Module table
// with one all-default row (empty name, nil guids) and a TypeDef table
// whose first row is the conventional "<Module>" global type with no base
// type and empty field/method lists. The result serialises to a valid
// metadata root and re-parses cleanly.
func NewEmpty(opts *Options) (*Image, error) {
	if opts == nil {
		opts = &Options{}
	}
	img := &Image{
		majorVersion:  1,
		minorVersion:  1,
		versionString: "v4.0.30319",
		tables:        make(map[TableID]*tableState),
		header:        tablesStreamHeader{majorVersion: 2, minorVersion: 0},
		stringsHeap:   []byte{0},
		blobHeap:      []byte{0},
		usHeap:        []byte{0},
		minimalDelta:  opts.MinimalDelta,
		opts:          opts,
		logger:        defaultLogger(opts),
	}

	moduleRow, err := img.AppendRow(Module)
	if err != nil {
		return nil, err
	}
	if err := img.SetUTF8(moduleRow, 1, ""); err != nil {
		return nil, err
	}
	if err := img.CommitRowAdd(moduleRow); err != nil {
		return nil, err
	}

	typeDefRow, err := img.AppendRow(TypeDef)
	if err != nil {
		return nil, err
	}
	if err := img.SetUTF8(typeDefRow, 1, "<Module>"); err != nil {
		return nil, err
	}
	if err := img.SetUTF8(typeDefRow, 2, ""); err != nil {
		return nil, err
	}
	// Extends stays nil; the field and method lists are both the empty
	// range rooted at the list terminator of their (empty) child tables.
	if err := img.SetToken(typeDefRow, 4, tokenOf(Field, 1)); err != nil {
		return nil, err
	}
	if err := img.SetToken(typeDefRow, 5, tokenOf(MethodDef, 1)); err != nil {
		return nil, err
	}
	if err := img.CommitRowAdd(typeDefRow); err != nil {
		return nil, err
	}
	return img, nil
}

// Close releases any memory-mapped backing for img. It is a no-op for
// images constructed via NewBytes.
func (img *Image) Close() error {
	if img.data != nil {
		_ = img.data.Unmap()
	}
	if img.f != nil {
		return img.f.Close()
	}
	return nil
}

// VersionString returns the runtime version string stored in the
// metadata root (e.g. "v4.0.30319").
func (img *Image) VersionString() string {
	return img.versionString
}

// Flush calls msync on the memory mapping of an image opened with New. It
// is a no-op for images constructed via NewBytes or NewEmpty. New maps the
// file read-only and every edit is made on a private copy of the affected
// table or heap, so Flush never writes edits back to the file; WriteTo is
// the way to obtain the edited bytes.
func (img *Image) Flush() error {
	if img.data == nil {
		return nil
	}
	return unix.Msync([]byte(img.data), unix.MS_SYNC)
}

func parseMetadataRoot(data []byte) (hdrEnd int, major, minor uint16, version string, streams []streamHeader, err error) {
	off := 0
	sig, ok := readU32(data, &off)
	if !ok || sig != metadataSignature {
		return 0, 0, 0, "", nil, ErrInvalidSignature
	}
	major, ok = readU16(data, &off)
	if !ok {
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}
	minor, ok = readU16(data, &off)
	if !ok {
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}
	if !advanceStream(data, &off, 4) { // reserved
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}
	length, ok := readU32(data, &off)
	if !ok {
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}
	if !advanceStream(data, &off, int(length)) {
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}
	versionBytes := data[off-int(length) : off]
	if nul := indexByte(versionBytes, 0); nul >= 0 {
		versionBytes = versionBytes[:nul]
	}
	version = string(versionBytes)

	if _, ok = readU16(data, &off); !ok { // flags, reserved
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}
	streamCount, ok := readU16(data, &off)
	if !ok {
		return 0, 0, 0, "", nil, ErrTruncatedStream
	}

	streams = make([]streamHeader, 0, streamCount)
	for i := 0; i < int(streamCount); i++ {
		offset, ok := readU32(data, &off)
		if !ok {
			return 0, 0, 0, "", nil, ErrTruncatedStream
		}
		size, ok := readU32(data, &off)
		if !ok {
			return 0, 0, 0, "", nil, ErrTruncatedStream
		}
		start := off
		for off < len(data) && data[off] != 0 {
			off++
		}
		if off >= len(data) {
			return 0, 0, 0, "", nil, ErrTruncatedStream
		}
		name := string(data[start:off])
		off++ // NUL
		pad := (4 - off%4) % 4
		if !advanceStream(data, &off, pad) {
			return 0, 0, 0, "", nil, ErrTruncatedStream
		}
		streams = append(streams, streamHeader{offset: offset, size: size, name: name})
	}
	return off, major, minor, version, streams, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (img *Image) streamBytes(streams []streamHeader, name string) ([]byte, bool) {
	for _, s := range streams {
		if s.name != name {
			continue
		}
		start, end := int(s.offset), int(s.offset+s.size)
		if start < 0 || end > len(img.raw) || start > end {
			return nil, false
		}
		return img.raw[start:end], true
	}
	return nil, false
}

// Parse (re)parses img.raw, populating every heap and the live table set.
// It is called automatically by New/NewBytes; callers never need to call
// it directly unless they reset img.raw themselves.
func (img *Image) Parse() error {
	_, major, minor, version, streams, err := parseMetadataRoot(img.raw)
	if err != nil {
		return err
	}
	for _, s := range streams {
		if uint64(s.offset)+uint64(s.size) > uint64(len(img.raw)) {
			return ErrTruncatedStream
		}
	}
	img.majorVersion, img.minorVersion = major, minor
	img.versionString = version

	if s, ok := img.streamBytes(streams, "#Strings"); ok {
		img.stringsHeap = s
		if err := validateStringsHeap(img.stringsHeap); err != nil {
			img.recordAnomaly(err.Error())
		}
	}
	if s, ok := img.streamBytes(streams, "#GUID"); ok {
		img.guidHeap = s
		if err := validateGUIDHeap(img.guidHeap); err != nil {
			img.recordAnomaly(err.Error())
		}
	}
	if s, ok := img.streamBytes(streams, "#Blob"); ok {
		img.blobHeap = s
		if err := validateBlobHeap(img.blobHeap); err != nil {
			img.recordAnomaly(err.Error())
		}
	}
	if s, ok := img.streamBytes(streams, "#US"); ok {
		img.usHeap = s
		if err := validateUserStringHeap(img.usHeap); err != nil {
			img.recordAnomaly(err.Error())
		}
	}
	if _, ok := img.streamBytes(streams, "#JTD"); ok {
		img.minimalDelta = true
	}

	var pdbRowCounts map[TableID]uint32
	if s, ok := img.streamBytes(streams, "#Pdb"); ok && !img.opts.SkipPdb {
		img.pdbRaw = s
		info, err := parsePdbStream(s)
		if err != nil {
			return err
		}
		img.pdb = info
		img.hasPdb = true
		pdbRowCounts = info.referencedTypeSystemRows
	}

	tablesData, ok := img.streamBytes(streams, "#~")
	if !ok {
		tablesData, ok = img.streamBytes(streams, "#-")
	}
	if !ok {
		return ErrTableStreamTruncated
	}

	tables, hdr, err := parseTables(tablesData, pdbRowCounts, img.minimalDelta)
	if err != nil {
		return err
	}
	img.tables = tables
	img.header = hdr
	img.heapFlags = hdr.heapSizes

	if img.hasPdb {
		for id, want := range img.pdb.referencedTypeSystemRows {
			if t, ok := img.tables[id]; !ok || t.rowCount != want {
				img.recordAnomaly(AnoPdbRowCountMismatch)
				break
			}
		}
	}

	if img.opts.StrictValidation {
		return img.Validate()
	}
	return nil
}

// recordAnomaly notes a recoverable oddity in the input without failing
// the parse, the way the wrapped PE parser treats its Ano* conditions.
func (img *Image) recordAnomaly(ano string) {
	img.Anomalies = append(img.Anomalies, ano)
	img.logger.Warnf("metadata anomaly: %s", ano)
}

// Validate re-checks every heap's structural invariant; Parse runs it at
// the end only when Options.StrictValidation is set, and it is exported so
// callers can invoke it themselves, e.g. after a batch of edits.
func (img *Image) Validate() error {
	if err := validateStringsHeap(img.stringsHeap); err != nil {
		return err
	}
	if err := validateGUIDHeap(img.guidHeap); err != nil {
		return err
	}
	if err := validateBlobHeap(img.blobHeap); err != nil {
		return err
	}
	if err := validateUserStringHeap(img.usHeap); err != nil {
		return err
	}
	return nil
}

// Table returns id's current row count. ok is false if the image holds no
// state for id: the table was not in the parsed image and has not been
// created since (by an edit, CreateCursor, End or a range lookup).
func (img *Image) Table(id TableID) (rowCount uint32, ok bool) {
	t, exists := img.tables[id]
	if !exists {
		return 0, false
	}
	return t.rowCount, true
}

// CreateCursor returns a cursor to the first row of id together with the
// table's current row count. A table with no rows yields (end cursor, 0).
func (img *Image) CreateCursor(id TableID) (Cursor, uint32, error) {
	if _, ok := tableSchema[id]; !ok {
		return Cursor{}, 0, ErrUnknownTableID
	}
	t := img.ensureTableExists(id)
	return createCursor(t, 1), t.rowCount, nil
}

// TokenToCursor resolves tk against the live tables, succeeding only when
// the token's row id addresses an existing row.
func (img *Image) TokenToCursor(tk Token) (Cursor, bool) {
	return tokenToCursor(img.tables, tk)
}

// WalkUserStringHeap calls fn for every non-empty entry of the #US heap
// after the leading empty entry at offset 0, in storage order (zero-length
// entries are skipped), with the entry's heap offset, decoded value, and whether its
// trailing flag byte marks it as containing characters needing
// non-8-bit-safe handling. Walking stops early when fn returns false.
func (img *Image) WalkUserStringHeap(fn func(offset uint32, s string, special bool) bool) error {
	heap := img.usHeap
	if len(heap) == 0 {
		return nil
	}
	for off := uint32(1); off < uint32(len(heap)); {
		us, next, ok := tryGetUserString(heap, off)
		if !ok {
			return ErrMalformedCompressed
		}
		if len(us.utf16LE) > 0 || us.finalByte != 0 {
			decoded, err := decodeUTF16LE(us.utf16LE)
			if err != nil {
				return err
			}
			if !fn(off, decoded, us.finalByte != 0) {
				return nil
			}
		}
		if next <= off {
			return ErrMalformedCompressed
		}
		off = next
	}
	return nil
}

// Row returns a cursor to the 1-based row of id, or the null cursor if out
// of range.
func (img *Image) Row(id TableID, row uint32) Cursor {
	t, ok := img.tables[id]
	if !ok || row == 0 || row > t.rowCount {
		return Cursor{}
	}
	return createCursor(t, row)
}

// End returns the one-past-the-end cursor of id.
func (img *Image) End(id TableID) Cursor {
	t := img.ensureTableExists(id)
	return createCursor(t, t.rowCount+1)
}

// ColumnCount returns the number of columns declared for id.
func (img *Image) ColumnCount(id TableID) int {
	return len(tableSchema[id])
}
