package cpm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDirectorySkipsDeletedExtents(t *testing.T) {
	extents := []Extent{
		{User: DeletedByte, Blocks: []uint16{1, 2}},
	}
	dir := BuildDirectory(Floppy8, extents)
	_, ok := dir.Lookup(0, FileKey{})
	require.False(t, ok)
}

func TestBuildDirectoryFoldsByUserAndName(t *testing.T) {
	key := NormalizedKey("FOO.TXT")
	extents := []Extent{
		{User: 0, FileName: keyName(key), Ext: keyExt(key), RC: 128, Blocks: []uint16{1, 2, 0, 0}},
		{User: 0, FileName: keyName(key), Ext: keyExt(key), RC: 50, XL: 1, Blocks: []uint16{3, 0, 0, 0}},
	}
	dir := BuildDirectory(Floppy8, extents)
	rec, ok := dir.Lookup(0, key)
	require.True(t, ok)
	require.Equal(t, 178, rec.TotalRecords)
	require.Equal(t, 3, rec.TotalBlocks)
	require.Equal(t, []uint16{1, 2, 0, 0, 3, 0, 0, 0}, rec.BlockPointers)
}

func TestBuildDirectoryKeepsUserAreasSeparate(t *testing.T) {
	key := NormalizedKey("SAME.DAT")
	extents := []Extent{
		{User: 0, FileName: keyName(key), Ext: keyExt(key), RC: 1, Blocks: []uint16{5}},
		{User: 1, FileName: keyName(key), Ext: keyExt(key), RC: 1, Blocks: []uint16{6}},
	}
	dir := BuildDirectory(Floppy8, extents)
	rec0, ok := dir.Lookup(0, key)
	require.True(t, ok)
	rec1, ok := dir.Lookup(1, key)
	require.True(t, ok)
	require.NotEqual(t, rec0.BlockPointers, rec1.BlockPointers)
}

func TestFindByBlock(t *testing.T) {
	key := NormalizedKey("FOO.TXT")
	extents := []Extent{
		{User: 3, FileName: keyName(key), Ext: keyExt(key), RC: 1, Blocks: []uint16{42}},
	}
	dir := BuildDirectory(Floppy8, extents)
	user, foundKey, rec, ok := dir.FindByBlock(42)
	require.True(t, ok)
	require.Equal(t, 3, user)
	require.Equal(t, key, foundKey)
	require.NotNil(t, rec)
}

func TestFindByBlockMiss(t *testing.T) {
	dir := NewDirectory()
	_, _, _, ok := dir.FindByBlock(1)
	require.False(t, ok)
}

func TestFirstBlockOnEmptyRecord(t *testing.T) {
	var rec *FileRecord
	require.Equal(t, uint16(0), rec.FirstBlock())
}
