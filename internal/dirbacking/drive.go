// Package dirbacking synthesizes a CP/M directory and file/block layout
// from a native filesystem tree (one subdirectory per user number, plus an
// optional $BOOT file), and translates sector-level reads/writes against
// that synthesized view back onto the native files.
package dirbacking

import (
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cpmfif/internal/cpm"
	"cpmfif/internal/pathutil"
)

// pendingBlock is one data sector that arrived before the directory extent
// committing it to a file was written, buffered until that commit happens.
type pendingBlock struct {
	logicalSector int
	block         int
	data          []byte
}

// Drive is one directory-backed CP/M unit.
type Drive struct {
	Root    string
	DPB     cpm.DPB
	HasBoot bool
	DirData []byte
	Dir     cpm.Directory

	buffer []pendingBlock
	cache  fileCache
	log    zerolog.Logger
}

// Open scans root and returns a ready Drive.
func Open(root string, dpb cpm.DPB, log zerolog.Logger) (*Drive, error) {
	if err := dpb.Validate(); err != nil {
		return nil, errors.Wrap(err, "dirbacking: invalid geometry")
	}
	res, err := Build(root, dpb)
	if err != nil {
		return nil, err
	}
	if res.Warnings != nil {
		for _, w := range res.Warnings.Errors {
			log.Warn().Err(w).Msg("directory scan warning")
		}
	}
	return &Drive{
		Root:    root,
		DPB:     dpb,
		HasBoot: res.HasBoot,
		DirData: res.DirData,
		Dir:     res.Dir,
		log:     log,
	}, nil
}

// Reload rescans Root from scratch, discarding any pending buffered blocks.
func (d *Drive) Reload() error {
	d.cache.close()
	res, err := Build(d.Root, d.DPB)
	if err != nil {
		return err
	}
	d.HasBoot = res.HasBoot
	d.DirData = res.DirData
	d.Dir = res.Dir
	d.buffer = nil
	return nil
}

// Close releases the cached file handle.
func (d *Drive) Close() {
	d.cache.close()
}

func (d *Drive) bootPath() string {
	return filepath.Join(d.Root, "$BOOT")
}

func (d *Drive) userFilePath(user int, key cpm.FileKey) (string, error) {
	return pathutil.SafeJoin(d.Root, strconv.Itoa(user), key.DisplayName())
}
