package dirbacking

import (
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"cpmfif/internal/cpm"
)

// WriteSector applies an incoming 128-byte sector write to the synthesized
// disk image, translating directory-extent changes into create/delete/
// rename/extend operations on the native tree and buffering file-data
// sectors that arrive before the extent that commits their block pointer.
func (d *Drive) WriteSector(track, sector int, data []byte) error {
	if len(data) != cpm.SectorSize {
		return errors.Errorf("dirbacking: sector payload must be %d bytes, got %d", cpm.SectorSize, len(data))
	}

	if d.DPB.IsBootTrack(track) {
		return d.writeBoot(track, sector, data)
	}

	logical, err := d.DPB.LinearSector(track, sector)
	if err != nil {
		return err
	}
	blk := logical / d.DPB.RecordsPerBlock()

	if logical < d.DPB.DirectorySectors() {
		return d.writeDirSector(logical, data)
	}
	return d.writeDataSector(logical, blk, data)
}

func (d *Drive) writeBoot(track, sector int, data []byte) error {
	fd, err := d.cache.open(d.bootPath(), os.O_RDWR|os.O_CREATE)
	if err != nil {
		return errors.Wrap(err, "dirbacking: open $BOOT for write")
	}
	pos := d.DPB.BootByteOffset(track, sector)
	if _, err := fd.WriteAt(data, pos); err != nil {
		return errors.Wrap(err, "dirbacking: write $BOOT sector")
	}
	d.HasBoot = true
	return nil
}

// writeDirSector finds the single changed extent within the sector
// (assumes at most one extent changes per write, same as the source),
// dispatches the delete/create/rename/extend action it implies, commits
// the raw bytes into DirData, and rebuilds the decoded Directory.
func (d *Drive) writeDirSector(logical int, data []byte) error {
	pos := logical * cpm.SectorSize
	old := d.DirData[pos : pos+cpm.SectorSize]

	extIdx := -1
	for i := 0; i < len(data); i++ {
		if data[i] != old[i] {
			extIdx = i / cpm.ExtentSize
			break
		}
	}
	if extIdx < 0 {
		d.log.Warn().Msg("no directory extent changed")
		return nil
	}

	extentsPerSector := cpm.SectorSize / cpm.ExtentSize
	globalExt := logical*extentsPerSector + extIdx
	extPos := globalExt * cpm.ExtentSize

	oldExt, err := cpm.DecodeExtent(d.DPB, d.DirData[extPos:extPos+cpm.ExtentSize])
	if err != nil {
		return err
	}
	newExt, err := cpm.DecodeExtent(d.DPB, data[extIdx*cpm.ExtentSize:(extIdx+1)*cpm.ExtentSize])
	if err != nil {
		return err
	}

	if err := d.applyExtentChange(oldExt, newExt); err != nil {
		d.log.Warn().Err(err).Msg("directory extent change failed")
	}

	copy(d.DirData[extPos:extPos+cpm.ExtentSize], data[extIdx*cpm.ExtentSize:(extIdx+1)*cpm.ExtentSize])
	d.rebuildDirectory()
	return nil
}

func (d *Drive) rebuildDirectory() {
	n := len(d.DirData) / cpm.ExtentSize
	extents := make([]cpm.Extent, 0, n)
	for i := 0; i < n; i++ {
		off := i * cpm.ExtentSize
		e, err := cpm.DecodeExtent(d.DPB, d.DirData[off:off+cpm.ExtentSize])
		if err != nil {
			continue
		}
		extents = append(extents, e)
	}
	d.Dir = cpm.BuildDirectory(d.DPB, extents)
}

func (d *Drive) applyExtentChange(old, updated cpm.Extent) error {
	switch {
	case old.User <= 15 && updated.User == cpm.DeletedByte:
		return d.handleDelete(old, updated)
	case old.User == cpm.DeletedByte && updated.User <= 15:
		return d.handleCreate(updated)
	case updated.Key() != old.Key():
		return d.handleRename(old, updated)
	default:
		return d.handleExtend(old, updated)
	}
}

func (d *Drive) handleDelete(old, updated cpm.Extent) error {
	if updated.XNum() != 0 {
		d.log.Info().Int("xnum", updated.XNum()).Str("file", old.Key().DisplayName()).Msg("mark deleted logical extent")
		return nil
	}
	path, err := d.userFilePath(int(old.User), old.Key())
	if err != nil {
		return err
	}
	d.cache.close()
	_ = os.Remove(path)
	return nil
}

func (d *Drive) handleCreate(updated cpm.Extent) error {
	if updated.XNum() != 0 {
		return nil
	}
	path, err := d.userFilePath(int(updated.User), updated.Key())
	if err != nil {
		return err
	}
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "dirbacking: create %s", updated.Key().DisplayName())
	}
	return fd.Close()
}

func (d *Drive) handleRename(old, updated cpm.Extent) error {
	if updated.XNum() != 0 {
		return nil
	}
	oldPath, err := d.userFilePath(int(old.User), old.Key())
	if err != nil {
		return err
	}
	newPath, err := d.userFilePath(int(updated.User), updated.Key())
	if err != nil {
		return err
	}
	d.cache.close()
	return os.Rename(oldPath, newPath)
}

// handleExtend commits buffered data-sector writes into updated's file once the
// directory extent naming their block pointers has landed, matching the
// source's "UPDATE EXTENT" branch.
func (d *Drive) handleExtend(old, updated cpm.Extent) error {
	sort.Slice(d.buffer, func(i, j int) bool { return d.buffer[i].logicalSector < d.buffer[j].logicalSector })

	path, err := d.userFilePath(int(updated.User), updated.Key())
	if err != nil {
		return err
	}
	fd, err := d.cache.open(path, os.O_RDWR)
	if err != nil {
		return errors.Wrapf(err, "dirbacking: open %s for extend", updated.Key().DisplayName())
	}

	rec, haveRec := d.Dir.Lookup(int(updated.User), updated.Key())

	var warns *multierror.Error
	recordsPerBlock := d.DPB.RecordsPerBlock()

	for i, n := range updated.Blocks {
		if i < len(old.Blocks) && n == old.Blocks[i] {
			continue
		}
		if n == 0 {
			continue
		}
		found := false
		for bi := range d.buffer {
			b := &d.buffer[bi]
			if b.block != int(n) {
				continue
			}
			found = true

			var base int
			if updated.XNum() == 0 {
				base = int(updated.Blocks[0]) * recordsPerBlock
			} else if haveRec && len(rec.BlockPointers) > 0 {
				base = int(rec.BlockPointers[0]) * recordsPerBlock
			} else {
				base = int(updated.Blocks[0]) * recordsPerBlock
			}
			pos := int64(b.logicalSector-base) * cpm.SectorSize
			if _, err := fd.WriteAt(b.data, pos); err != nil {
				warns = multierror.Append(warns, errors.Wrapf(err, "dirbacking: write buffered block %d", n))
			}
			b.block = -1
		}
		if !found {
			warns = multierror.Append(warns, errors.Errorf("dirbacking: no buffered data for block %d", n))
		}
	}

	for _, b := range d.buffer {
		if b.block >= 0 {
			warns = multierror.Append(warns, errors.Errorf("dirbacking: unused buffered block %d lsec=%d", b.block, b.logicalSector))
		}
	}
	// the source unconditionally empties the buffer after an extend, even
	// when some entries went unused; we match that rather than retrying them.
	d.buffer = nil

	if warns != nil {
		return warns
	}
	return nil
}

func (d *Drive) writeDataSector(logical, blk int, data []byte) error {
	user, key, rec, ok := d.Dir.FindByBlock(blk)
	if !ok {
		d.buffer = append(d.buffer, pendingBlock{logicalSector: logical, block: blk, data: append([]byte(nil), data...)})
		return nil
	}

	path, err := d.userFilePath(user, key)
	if err != nil {
		return err
	}
	fd, err := d.cache.open(path, os.O_RDWR)
	if err != nil {
		return errors.Wrapf(err, "dirbacking: open %s for write", key.DisplayName())
	}

	base := int(rec.FirstBlock()) * d.DPB.RecordsPerBlock()
	pos := int64(logical-base) * cpm.SectorSize
	if _, err := fd.WriteAt(data, pos); err != nil {
		return errors.Wrap(err, "dirbacking: write file block")
	}
	return nil
}
