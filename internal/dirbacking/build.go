package dirbacking

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"cpmfif/internal/cpm"
	"cpmfif/internal/pathutil"
)

// BuildResult is the outcome of scanning a native root directory into a
// synthesized CP/M directory image.
type BuildResult struct {
	HasBoot  bool
	DirData  []byte
	Dir      cpm.Directory
	Warnings *multierror.Error
}

// Build scans root (one subdirectory per CP/M user number 0-15, plus an
// optional $BOOT file) and synthesizes a directory image: every regular
// file gets shortened to an 8.3 name, renamed on disk if needed, and
// encoded into consecutive extents with sequentially allocated block
// pointers, mirroring build_directory()'s single flat scan order.
func Build(root string, dpb cpm.DPB) (*BuildResult, error) {
	res := &BuildResult{
		DirData: make([]byte, dpb.DirectoryEntries*cpm.ExtentSize),
	}
	for i := range res.DirData {
		res.DirData[i] = cpm.DeletedByte
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "dirbacking: scan %s", root)
	}

	alloc := cpm.NewBlockAllocator(dpb)
	var extents []cpm.Extent

	for _, e := range entries {
		if !e.IsDir() {
			if e.Name() == "$BOOT" {
				res.HasBoot = true
			}
			continue
		}
		user, err := strconv.Atoi(e.Name())
		if err != nil || user < 0 || user > 15 {
			continue
		}

		userDir := filepath.Join(root, e.Name())
		files, err := os.ReadDir(userDir)
		if err != nil {
			res.Warnings = multierror.Append(res.Warnings, errors.Wrapf(err, "dirbacking: scan user dir %s", userDir))
			continue
		}

		var names []string
		for _, f := range files {
			if f.Type().IsRegular() {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)

		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				res.Warnings = multierror.Append(res.Warnings, errors.Wrapf(err, "dirbacking: stat %s", f.Name()))
				continue
			}

			short, ok := Shorten(f.Name(), names)
			if !ok {
				res.Warnings = multierror.Append(res.Warnings, errors.Errorf("dirbacking: %s has more than 15 short-name collisions, file may be inaccessible", f.Name()))
				continue
			}
			if short != f.Name() {
				oldPath, errOld := pathutil.SafeJoin(userDir, f.Name())
				newPath, errNew := pathutil.SafeJoin(userDir, short)
				if errOld != nil || errNew != nil {
					res.Warnings = multierror.Append(res.Warnings, errors.Errorf("dirbacking: refusing unsafe rename for %s", f.Name()))
					continue
				}
				if err := os.Rename(oldPath, newPath); err != nil {
					res.Warnings = multierror.Append(res.Warnings, errors.Wrapf(err, "dirbacking: rename %s to %s", f.Name(), short))
					continue
				}
			}

			key := cpm.NormalizedKey(short)
			fileExtents, err := cpm.EncodeFile(dpb, byte(user), key, info.Size(), alloc)
			if err != nil {
				res.Warnings = multierror.Append(res.Warnings, errors.Wrapf(err, "dirbacking: encode %s", short))
				continue
			}
			extents = append(extents, fileExtents...)
		}
	}

	pos := 0
	for _, ext := range extents {
		raw := ext.Encode(dpb)
		if pos+cpm.ExtentSize > len(res.DirData) {
			res.Warnings = multierror.Append(res.Warnings, errors.New("dirbacking: directory overflow, truncating remaining extents"))
			break
		}
		copy(res.DirData[pos:pos+cpm.ExtentSize], raw)
		pos += cpm.ExtentSize
	}

	res.Dir = cpm.BuildDirectory(dpb, extents)
	return res, nil
}
