package dirbacking

import (
	"os"

	"cpmfif/internal/cpm"
)

// ReadSector returns the 128-byte sector at physical (track, sector),
// synthesizing boot, directory, and file-block regions from the native
// tree as described in build.go.
func (d *Drive) ReadSector(track, sector int) ([]byte, error) {
	if d.DPB.IsBootTrack(track) {
		return d.readBoot(track, sector)
	}

	logical, err := d.DPB.LinearSector(track, sector)
	if err != nil {
		return nil, err
	}
	blk := logical / d.DPB.RecordsPerBlock()

	if logical < d.DPB.DirectorySectors() {
		return d.readDirSector(logical), nil
	}
	return d.readDataSector(logical, blk)
}

func (d *Drive) readBoot(track, sector int) ([]byte, error) {
	empty := emptySector()
	if !d.HasBoot {
		return empty, nil
	}
	fd, err := d.cache.open(d.bootPath(), os.O_RDONLY)
	if err != nil {
		d.log.Warn().Err(err).Msg("boot record unreadable")
		return empty, nil
	}
	buf := make([]byte, cpm.SectorSize)
	pos := d.DPB.BootByteOffset(track, sector)
	if _, err := fd.ReadAt(buf, pos); err != nil {
		d.log.Warn().Err(err).Msg("boot sector read failed")
		return empty, nil
	}
	return buf, nil
}

// readDirSector flushes the current-open-file cache before reading, the
// same file_end() the source calls unconditionally just before slicing
// dirdata for a directory-sector read.
func (d *Drive) readDirSector(logical int) []byte {
	d.cache.close()
	pos := logical * cpm.SectorSize
	buf := make([]byte, cpm.SectorSize)
	copy(buf, d.DirData[pos:pos+cpm.SectorSize])
	return buf
}

func (d *Drive) readDataSector(logical, blk int) ([]byte, error) {
	user, key, rec, ok := d.Dir.FindByBlock(blk)
	if !ok {
		return emptySector(), nil
	}

	path, err := d.userFilePath(user, key)
	if err != nil {
		return nil, err
	}
	fd, err := d.cache.open(path, os.O_RDONLY)
	if err != nil {
		d.log.Warn().Err(err).Str("file", key.DisplayName()).Msg("file block unreadable")
		return emptySector(), nil
	}

	base := int(rec.FirstBlock()) * d.DPB.RecordsPerBlock()
	pos := int64(logical-base) * cpm.SectorSize

	buf := make([]byte, cpm.SectorSize)
	n, _ := fd.ReadAt(buf, pos)
	for i := n; i < cpm.SectorSize; i++ {
		buf[i] = eofByte
	}
	return buf, nil
}

// eofByte is the CP/M end-of-file pad byte (Ctrl-Z) used to fill the tail of
// a sector whose native file is shorter than the requested range.
const eofByte = 0x1A

func emptySector() []byte {
	buf := make([]byte, cpm.SectorSize)
	for i := range buf {
		buf[i] = cpm.DeletedByte
	}
	return buf
}
