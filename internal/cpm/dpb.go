// Package cpm implements the CP/M 2.2 disk parameter block, sector
// geometry, directory extent codec, and directory model shared by the
// image-backed and directory-backed storage engines.
package cpm

import "fmt"

// SectorSize is the fixed CP/M record/sector size.
const SectorSize = 128

// DeletedByte marks an unused directory extent slot and an empty
// (never written) sector on a synthesized disk.
const DeletedByte = 0xE5

// DPB is a Disk Parameter Block: the static geometry of one drive shape.
// It never changes after a unit is mounted.
type DPB struct {
	Name             string
	SectorsPerTrack  int
	BlockSizeBytes   int
	DirectoryEntries int
	DiskSizeBlocks   int
	BootTracks       int
	Tracks           int
	Interleave       []int // 1-based physical sector for each logical index, or nil
}

// Floppy8 is the canonical 8-inch floppy DPB (256256 bytes, *.dsk).
var Floppy8 = DPB{
	Name:             "8in-floppy",
	SectorsPerTrack:  26,
	BlockSizeBytes:   1024,
	DirectoryEntries: 64,
	DiskSizeBlocks:   243,
	BootTracks:       2,
	Tracks:           77,
	Interleave: []int{
		1, 7, 13, 19, 25, 5, 11, 17, 23, 3, 9, 15, 21, 2, 8, 14, 20, 26, 6, 12, 18, 24, 4, 10, 16, 22,
	},
}

// HDD is the canonical hard-disk DPB (4177920 bytes, *.hdd), no interleave.
var HDD = DPB{
	Name:             "hdd",
	SectorsPerTrack:  128,
	BlockSizeBytes:   2048,
	DirectoryEntries: 1024,
	DiskSizeBlocks:   2040,
	BootTracks:       0,
	Tracks:           255,
	Interleave:       nil,
}

// Validate checks the DPB's internal geometry invariants.
func (d DPB) Validate() error {
	if d.BlockSizeBytes%SectorSize != 0 {
		return fmt.Errorf("cpm: block_size_bytes %d is not a multiple of %d", d.BlockSizeBytes, SectorSize)
	}
	if d.DiskSizeBlocks > 65535 {
		return fmt.Errorf("cpm: disk_size_blocks %d exceeds 65535", d.DiskSizeBlocks)
	}
	if d.SectorsPerTrack <= 0 || d.Tracks <= 0 {
		return fmt.Errorf("cpm: invalid geometry sectors_per_track=%d tracks=%d", d.SectorsPerTrack, d.Tracks)
	}
	if d.Interleave != nil && len(d.Interleave) != d.SectorsPerTrack {
		return fmt.Errorf("cpm: interleave table length %d does not match sectors_per_track %d", len(d.Interleave), d.SectorsPerTrack)
	}
	return nil
}

// RecordsPerBlock is the number of 128-byte sectors in one allocation block.
func (d DPB) RecordsPerBlock() int {
	return d.BlockSizeBytes / SectorSize
}

// Use16BitPointers reports whether extents on this DPB use 16-bit block
// pointers (8 per extent) instead of 8-bit pointers (16 per extent).
func (d DPB) Use16BitPointers() bool {
	return d.DiskSizeBlocks > 255
}

// PointersPerExtent is 16 for 8-bit pointers, 8 for 16-bit pointers.
func (d DPB) PointersPerExtent() int {
	if d.Use16BitPointers() {
		return 8
	}
	return 16
}

// DirectorySectors is the number of 128-byte sectors occupied by the directory.
func (d DPB) DirectorySectors() int {
	return (d.DirectoryEntries * ExtentSize) / SectorSize
}

// FirstDataBlock is the lowest logical block number available for file data;
// the directory itself occupies the blocks below it.
func (d DPB) FirstDataBlock() int {
	return (d.DirectoryEntries * ExtentSize) / d.BlockSizeBytes
}

// ByteSize is the total raw image size implied by this DPB (excludes any
// error-info bytes a particular image file format might append).
func (d DPB) ByteSize() int64 {
	return int64(d.SectorsPerTrack) * int64(d.Tracks) * SectorSize
}
