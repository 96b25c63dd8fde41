// Package imageio implements flat, physically-ordered disk image backing
// (.dsk / .hdd files): a unit whose every sector lives at a fixed byte
// offset computed directly from (track, sector), with no directory
// synthesis.
package imageio

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"cpmfif/internal/cpm"
)

// Image is one open flat disk image file.
type Image struct {
	path string
	dpb  cpm.DPB
}

// Open returns an Image bound to path. The file must already exist and be
// large enough to hold the DPB's geometry; use Format to create a fresh one.
func Open(path string, dpb cpm.DPB) (*Image, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "imageio: stat %s", path)
	}
	if fi.Size() < dpb.ByteSize() {
		return nil, errors.Errorf("imageio: %s is %d bytes, geometry %s needs %d", path, fi.Size(), dpb.Name, dpb.ByteSize())
	}
	return &Image{path: path, dpb: dpb}, nil
}

// ReadSector reads the 128-byte sector at physical (track, sector).
func (img *Image) ReadSector(track, sector int) ([]byte, error) {
	f, err := os.Open(img.path)
	if err != nil {
		return nil, errors.Wrapf(err, "imageio: open %s for read", img.path)
	}
	defer f.Close()

	buf := make([]byte, cpm.SectorSize)
	off := img.dpb.RawByteOffset(track, sector)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(err, "imageio: read %s at track %d sector %d", img.path, track, sector)
	}
	return buf, nil
}

// WriteSector writes a 128-byte sector at physical (track, sector).
func (img *Image) WriteSector(track, sector int, data []byte) error {
	if len(data) != cpm.SectorSize {
		return errors.Errorf("imageio: sector payload must be %d bytes, got %d", cpm.SectorSize, len(data))
	}
	f, err := os.OpenFile(img.path, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrapf(err, "imageio: open %s for write", img.path)
	}
	defer f.Close()

	off := img.dpb.RawByteOffset(track, sector)
	if _, err := f.WriteAt(data, off); err != nil {
		return errors.Wrapf(err, "imageio: write %s at track %d sector %d", img.path, track, sector)
	}
	return nil
}

// Format creates a brand new image file at path pre-filled with the deleted
// byte on every sector, matching a freshly formatted CP/M disk bit-for-bit
// outside the extents a later pack writes.
func Format(path string, dpb cpm.DPB) error {
	total := dpb.SectorsPerTrack * dpb.Tracks
	sector := make([]byte, cpm.SectorSize)
	for i := range sector {
		sector[i] = cpm.DeletedByte
	}

	buf := make([]byte, 0, int(dpb.ByteSize()))
	for i := 0; i < total; i++ {
		buf = append(buf, sector...)
	}
	return writeFileAtomic(path, buf, 0o644)
}

// writeFileAtomic writes data to path atomically: a temp file in the same
// directory, synced, then renamed over the target.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cpm-image-*")
	if err != nil {
		return errors.Wrap(err, "imageio: create temp file")
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "imageio: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "imageio: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "imageio: close temp file")
	}
	_ = os.Chmod(tmpName, perm)

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "imageio: rename temp file into place")
	}
	ok = true
	return nil
}
