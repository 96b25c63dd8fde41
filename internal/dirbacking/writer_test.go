package dirbacking

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cpmfif/internal/cpm"
)

// trackSectorForLogical inverts DPB.LinearSector for a non-boot-track
// logical index, letting tests drive Drive.WriteSector/ReadSector through
// its public (track, physical sector) interface instead of poking at
// logical offsets directly.
func trackSectorForLogical(dpb cpm.DPB, logical int) (track, sector int) {
	track = dpb.BootTracks + logical/dpb.SectorsPerTrack
	idx := logical % dpb.SectorsPerTrack
	phys, err := dpb.Translate(idx)
	if err != nil {
		panic(err)
	}
	return track, phys
}

func newEmptyDrive(t *testing.T) *Drive {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "0"), 0o755))
	drv, err := Open(root, cpm.Floppy8, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(drv.Close)
	return drv
}

// sectorWithExtent returns a copy of the drive's current logical directory
// sector with one 32-byte extent slot overwritten, for feeding to
// WriteSector as the host's "new" directory sector content.
func sectorWithExtent(d *Drive, logical, slot int, ext cpm.Extent) []byte {
	pos := logical * cpm.SectorSize
	data := append([]byte(nil), d.DirData[pos:pos+cpm.SectorSize]...)
	copy(data[slot*cpm.ExtentSize:(slot+1)*cpm.ExtentSize], ext.Encode(d.DPB))
	return data
}

// S2 — directory-backed create.
func TestWriteSectorCreatesFileFromDirectoryExtent(t *testing.T) {
	drv := newEmptyDrive(t)

	key := cpm.NormalizedKey("NEW.TXT")
	var fn [8]byte
	var ext [3]byte
	copy(fn[:], key[0:8])
	copy(ext[:], key[8:11])

	newExtent := cpm.Extent{
		User:     0,
		FileName: fn,
		Ext:      ext,
		Blocks:   make([]uint16, drv.DPB.PointersPerExtent()),
	}
	data := sectorWithExtent(drv, 0, 0, newExtent)

	track, sector := trackSectorForLogical(drv.DPB, 0)
	require.NoError(t, drv.WriteSector(track, sector, data))

	path := filepath.Join(drv.Root, "0", "NEW.TXT")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Size())

	rec, ok := drv.Dir.Lookup(0, key)
	require.True(t, ok)
	require.Equal(t, 0, rec.TotalRecords)
}

// S3 — data sector buffered, then committed by the directory write that
// names its block.
func TestWriteSectorBuffersThenCommitsOnDirectoryCommit(t *testing.T) {
	drv := newEmptyDrive(t)

	key := cpm.NormalizedKey("NEW.TXT")
	var fn [8]byte
	var ext [3]byte
	copy(fn[:], key[0:8])
	copy(ext[:], key[8:11])

	createExtent := cpm.Extent{User: 0, FileName: fn, Ext: ext, Blocks: make([]uint16, drv.DPB.PointersPerExtent())}
	data := sectorWithExtent(drv, 0, 0, createExtent)
	track, sector := trackSectorForLogical(drv.DPB, 0)
	require.NoError(t, drv.WriteSector(track, sector, data))

	firstDataLogical := drv.DPB.DirectorySectors()
	block := drv.DPB.BlockOf(firstDataLogical)
	require.Equal(t, drv.DPB.FirstDataBlock(), block)

	payload := make([]byte, cpm.SectorSize)
	for i := range payload {
		payload[i] = 'X'
	}
	dtrack, dsector := trackSectorForLogical(drv.DPB, firstDataLogical)
	require.NoError(t, drv.WriteSector(dtrack, dsector, payload))
	require.Len(t, drv.buffer, 1)

	commitExtent := createExtent
	commitExtent.RC = byte(drv.DPB.RecordsPerBlock())
	commitExtent.Blocks = append([]uint16(nil), createExtent.Blocks...)
	commitExtent.Blocks[0] = uint16(block)
	data2 := sectorWithExtent(drv, 0, 0, commitExtent)
	require.NoError(t, drv.WriteSector(track, sector, data2))

	require.Empty(t, drv.buffer)

	content, err := os.ReadFile(filepath.Join(drv.Root, "0", "NEW.TXT"))
	require.NoError(t, err)
	require.Equal(t, payload, content)
}

// S4 — rename.
func TestWriteSectorRenamesFile(t *testing.T) {
	drv := newEmptyDrive(t)
	require.NoError(t, os.WriteFile(filepath.Join(drv.Root, "0", "OLD.TXT"), []byte("hi"), 0o644))
	require.NoError(t, drv.Reload())

	oldKey := cpm.NormalizedKey("OLD.TXT")
	newKey := cpm.NormalizedKey("NEW.TXT")

	var oldFn, newFn [8]byte
	var oldExt, newExt [3]byte
	copy(oldFn[:], oldKey[0:8])
	copy(oldExt[:], oldKey[8:11])
	copy(newFn[:], newKey[0:8])
	copy(newExt[:], newKey[8:11])

	// locate the live extent for OLD.TXT so the rename carries over its
	// actual block pointers and record count instead of a blank extent.
	_, oldExtDecoded := findExtent(t, drv, oldKey)

	renamed := oldExtDecoded
	renamed.FileName = newFn
	renamed.Ext = newExt

	globalExt, _ := findExtent(t, drv, oldKey)
	logical := globalExt / (cpm.SectorSize / cpm.ExtentSize)
	slot := globalExt % (cpm.SectorSize / cpm.ExtentSize)
	data := sectorWithExtent(drv, logical, slot, renamed)

	track, sector := trackSectorForLogical(drv.DPB, logical)
	require.NoError(t, drv.WriteSector(track, sector, data))

	_, err := os.Stat(filepath.Join(drv.Root, "0", "NEW.TXT"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(drv.Root, "0", "OLD.TXT"))
	require.True(t, os.IsNotExist(err))
}

// S5 — delete.
func TestWriteSectorDeletesFile(t *testing.T) {
	drv := newEmptyDrive(t)
	require.NoError(t, os.WriteFile(filepath.Join(drv.Root, "0", "GONE.TXT"), []byte("bye"), 0o644))
	require.NoError(t, drv.Reload())

	key := cpm.NormalizedKey("GONE.TXT")
	globalExt, oldExtDecoded := findExtent(t, drv, key)

	deleted := oldExtDecoded
	deleted.User = cpm.DeletedByte

	logical := globalExt / (cpm.SectorSize / cpm.ExtentSize)
	slot := globalExt % (cpm.SectorSize / cpm.ExtentSize)
	data := sectorWithExtent(drv, logical, slot, deleted)

	track, sector := trackSectorForLogical(drv.DPB, logical)
	require.NoError(t, drv.WriteSector(track, sector, data))

	_, err := os.Stat(filepath.Join(drv.Root, "0", "GONE.TXT"))
	require.True(t, os.IsNotExist(err))

	_, ok := drv.Dir.Lookup(0, key)
	require.False(t, ok)
}

func TestWriteDirSectorNoChangeIsIdempotent(t *testing.T) {
	drv := newEmptyDrive(t)
	track, sector := trackSectorForLogical(drv.DPB, 0)
	data := append([]byte(nil), drv.DirData[0:cpm.SectorSize]...)
	require.NoError(t, drv.WriteSector(track, sector, data))
}

func TestWriteBootSectorCreatesBootFile(t *testing.T) {
	drv := newEmptyDrive(t)
	require.False(t, drv.HasBoot)

	payload := make([]byte, cpm.SectorSize)
	for i := range payload {
		payload[i] = 0x42
	}
	require.NoError(t, drv.WriteSector(0, 1, payload))
	require.True(t, drv.HasBoot)

	got, err := drv.ReadSector(0, 1)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// findExtent locates the single live extent matching key and returns its
// global extent index plus its decoded form, for tests that need to mutate
// a real on-disk extent rather than fabricate one from scratch.
func findExtent(t *testing.T, drv *Drive, key cpm.FileKey) (int, cpm.Extent) {
	t.Helper()
	n := len(drv.DirData) / cpm.ExtentSize
	for i := 0; i < n; i++ {
		off := i * cpm.ExtentSize
		e, err := cpm.DecodeExtent(drv.DPB, drv.DirData[off:off+cpm.ExtentSize])
		require.NoError(t, err)
		if e.IsDeleted() {
			continue
		}
		if e.Key() == key {
			return i, e
		}
	}
	t.Fatalf("extent for %v not found", key)
	return 0, cpm.Extent{}
}
