package cpm

import (
	"encoding/binary"
	"fmt"

	"github.com/boljen/go-bitmap"
)

// ExtentSize is the fixed size of one directory extent entry.
const ExtentSize = 32

const maxRecordsPerExtent = 128

// Extent is one decoded 32-byte CP/M directory entry.
type Extent struct {
	User      byte // 0x00-0x0F valid, 0xE5 = deleted/empty
	FileName  [8]byte
	Ext       [3]byte
	XL        byte
	BC        byte // always 0 for CP/M 2.2, carried through unchanged
	XH        byte
	RC        byte
	Blocks    []uint16 // homogeneous 16-bit slice regardless of on-disk width
	use16     bool     // remembers the pointer width this extent was decoded/encoded with
}

// XNum reproduces the source's xNum computation verbatim.
//
// The CP/M 2.2 standard defines the extent number as the low 6 bits of XH
// combined with XL (XH & 0x3F); the original fifDirSrv.py instead masks XH
// with 0x2F. This is preserved exactly rather than silently "fixed," so
// XNum intentionally matches the source's mask.
func (e Extent) XNum() int {
	return (int(e.XH&0x2F) << 5) | int(e.XL&0x1F)
}

// IsDeleted reports whether this extent slot is unused (User == DeletedByte).
func (e Extent) IsDeleted() bool {
	return e.User == DeletedByte
}

// FileKey is the raw 11-byte space-padded "NAME    EXT" key used as the
// directory-model map key. Equality is bytewise.
type FileKey [11]byte

// Key returns the raw bytewise filename key for this extent.
func (e Extent) Key() FileKey {
	var k FileKey
	copy(k[0:8], e.FileName[:])
	copy(k[8:11], e.Ext[:])
	return k
}

// DisplayName renders "NAME.EXT" with trailing spaces trimmed from each
// half, matching the original's filename() helper (strip=True).
func (k FileKey) DisplayName() string {
	name := trimTrailingSpaces(string(k[0:8]))
	ext := trimTrailingSpaces(string(k[8:11]))
	return name + "." + ext
}

func trimTrailingSpaces(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == ' ' {
		i--
	}
	return s[:i]
}

// NormalizedKey builds an 11-byte space-padded key from a display name
// "NAME.EXT" (or "NAME"), truncating/padding each half to 8/3 bytes.
func NormalizedKey(display string) FileKey {
	name, ext := splitDisplayName(display)
	var k FileKey
	for i := 0; i < 8; i++ {
		if i < len(name) {
			k[i] = name[i]
		} else {
			k[i] = ' '
		}
	}
	for i := 0; i < 3; i++ {
		if i < len(ext) {
			k[8+i] = ext[i]
		} else {
			k[8+i] = ' '
		}
	}
	return k
}

func splitDisplayName(display string) (name, ext string) {
	for i := 0; i < len(display); i++ {
		if display[i] == '.' {
			return display[:i], display[i+1:]
		}
	}
	return display, ""
}

// DecodeExtent decodes one 32-byte directory slot according to the DPB's
// pointer width.
func DecodeExtent(d DPB, raw []byte) (Extent, error) {
	if len(raw) != ExtentSize {
		return Extent{}, fmt.Errorf("cpm: extent must be %d bytes, got %d", ExtentSize, len(raw))
	}
	var e Extent
	e.User = raw[0]
	copy(e.FileName[:], raw[1:9])
	copy(e.Ext[:], raw[9:12])
	e.XL = raw[12]
	e.BC = raw[13]
	e.XH = raw[14]
	e.RC = raw[15]
	e.use16 = d.Use16BitPointers()

	ptrs := d.PointersPerExtent()
	e.Blocks = make([]uint16, ptrs)
	if e.use16 {
		for i := 0; i < ptrs; i++ {
			e.Blocks[i] = binary.LittleEndian.Uint16(raw[16+i*2 : 18+i*2])
		}
	} else {
		for i := 0; i < ptrs; i++ {
			e.Blocks[i] = uint16(raw[16+i])
		}
	}
	return e, nil
}

// Encode serializes the extent back to its 32-byte on-disk form, narrowing
// the internal 16-bit pointer slice to 8 or 16 bits per the DPB.
func (e Extent) Encode(d DPB) []byte {
	out := make([]byte, ExtentSize)
	out[0] = e.User
	copy(out[1:9], e.FileName[:])
	copy(out[9:12], e.Ext[:])
	out[12] = e.XL
	out[13] = e.BC
	out[14] = e.XH
	out[15] = e.RC

	ptrs := d.PointersPerExtent()
	if d.Use16BitPointers() {
		for i := 0; i < ptrs && i < len(e.Blocks); i++ {
			binary.LittleEndian.PutUint16(out[16+i*2:18+i*2], e.Blocks[i])
		}
	} else {
		for i := 0; i < ptrs && i < len(e.Blocks); i++ {
			out[16+i] = byte(e.Blocks[i])
		}
	}
	return out
}

// BlockAllocator assigns monotonically increasing logical block numbers to
// freshly encoded extents, seeded just past the directory's own blocks.
// It tracks claimed blocks in a bitmap so that a future
// incremental allocation (e.g. growing a file without re-walking the whole
// tree) can find the next free block rather than assuming pure sequential
// growth.
type BlockAllocator struct {
	dpb  DPB
	bm   bitmap.Bitmap
	next int
}

// NewBlockAllocator creates an allocator seeded at the DPB's first data
// block, with every block before it pre-marked as used (it belongs to the
// directory).
func NewBlockAllocator(d DPB) *BlockAllocator {
	size := d.DiskSizeBlocks
	if size <= 0 {
		size = 1
	}
	bm := bitmap.New(size)
	first := d.FirstDataBlock()
	for b := 0; b < first && b < size; b++ {
		bm.Set(b, true)
	}
	return &BlockAllocator{dpb: d, bm: bm, next: first}
}

// Alloc returns the next free block number, marking it used.
func (a *BlockAllocator) Alloc() (int, error) {
	for a.next < a.dpb.DiskSizeBlocks {
		if !a.bm.Get(a.next) {
			a.bm.Set(a.next, true)
			b := a.next
			a.next++
			return b, nil
		}
		a.next++
	}
	return 0, fmt.Errorf("cpm: disk full, no blocks left below %d", a.dpb.DiskSizeBlocks)
}

// EncodeFile splits a file of the given byte size into consecutive
// extents, allocating fresh block pointers from alloc.
//
// The record count is size/128 using integer (floor) division, matching
// pack.py and build_directory() in fifDirSrv.py exactly; CP/M records are
// ignorant of a trailing partial sector here (BC is carried but never
// consulted), so a file whose length is not a multiple of 128 bytes has its
// final partial record silently excluded from RC, same as the source. This
// is not "fixed" here, matching the sibling XNum quirk.
func EncodeFile(d DPB, user byte, key FileKey, size int64, alloc *BlockAllocator) ([]Extent, error) {
	var extents []Extent
	ptrs := d.PointersPerExtent()

	xNum := 0
	rc := int(size / SectorSize)
	for rc >= 0 {
		thisRC := rc
		if thisRC > maxRecordsPerExtent {
			thisRC = maxRecordsPerExtent
		}

		ext := Extent{
			User:     user,
			FileName: keyName(key),
			Ext:      keyExt(key),
			XL:       byte(xNum & 0x1F),
			XH:       byte((xNum >> 5) & 0x3F),
			RC:       byte(thisRC),
			use16:    d.Use16BitPointers(),
		}

		rpb := d.RecordsPerBlock()
		blocksNeeded := thisRC / rpb
		if thisRC%rpb != 0 {
			blocksNeeded++
		}
		ext.Blocks = make([]uint16, ptrs)
		for i := 0; i < blocksNeeded && i < ptrs; i++ {
			b, err := alloc.Alloc()
			if err != nil {
				return nil, err
			}
			ext.Blocks[i] = uint16(b)
		}

		extents = append(extents, ext)

		xNum++
		rc -= maxRecordsPerExtent
	}
	return extents, nil
}

func keyName(k FileKey) [8]byte {
	var out [8]byte
	copy(out[:], k[0:8])
	return out
}

func keyExt(k FileKey) [3]byte {
	var out [3]byte
	copy(out[:], k[8:11])
	return out
}
