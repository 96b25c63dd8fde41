package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cpmfif/internal/cpm"
	"cpmfif/internal/imageio"
)

var unpackCmd = &cobra.Command{
	Use:                   "unpack IMAGE_FILE DEST_DIR",
	Short:                 "Unpack a flat CP/M disk image into a native directory tree",
	Long:                  `Parses IMAGE_FILE's directory and extracts $BOOT and every user-area file into DEST_DIR, one subdirectory per CP/M user number.`,
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		imgPath, dest := args[0], args[1]

		dpb, err := geometryByName(geometryName)
		if err != nil {
			return err
		}

		img, err := imageio.Open(imgPath, dpb)
		if err != nil {
			return errors.Wrapf(err, "unpack: open %s", imgPath)
		}

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return errors.Wrapf(err, "unpack: create %s", dest)
		}

		if err := unpackBoot(img, dpb, dest); err != nil {
			return err
		}

		dir, err := readImageDirectory(img, dpb)
		if err != nil {
			return err
		}

		for u := 0; u < 16; u++ {
			if len(dir[u]) == 0 {
				continue
			}
			userDir := filepath.Join(dest, strconv.Itoa(u))
			if err := os.MkdirAll(userDir, 0o755); err != nil {
				return errors.Wrapf(err, "unpack: create user area %d", u)
			}
			for key, rec := range dir[u] {
				if err := extractFile(img, dpb, filepath.Join(userDir, key.DisplayName()), rec); err != nil {
					return err
				}
			}
		}

		fmt.Printf("unpacked %s into %s (%s)\n", imgPath, dest, dpb.Name)
		return nil
	},
}

// unpackBoot copies the raw boot tracks to $BOOT. A first boot byte equal to
// the delete byte means no boot record was ever written, so nothing is
// extracted, matching unpack.py's "boot[0] != DEL_BYTE" check.
func unpackBoot(img *imageio.Image, dpb cpm.DPB, dest string) error {
	if dpb.BootTracks == 0 {
		return nil
	}
	var boot []byte
	for track := 0; track < dpb.BootTracks; track++ {
		for sector := 1; sector <= dpb.SectorsPerTrack; sector++ {
			data, err := img.ReadSector(track, sector)
			if err != nil {
				return errors.Wrapf(err, "unpack: read boot track %d sector %d", track, sector)
			}
			boot = append(boot, data...)
		}
	}
	if boot[0] == cpm.DeletedByte {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dest, "$BOOT"), boot, 0o644); err != nil {
		return errors.Wrap(err, "unpack: write $BOOT")
	}
	return nil
}

// readImageDirectory reads the directory sectors through the interleave
// table and folds their extents into a directory model.
func readImageDirectory(img *imageio.Image, dpb cpm.DPB) (cpm.Directory, error) {
	var dirData []byte
	for i := 0; i < dpb.DirectorySectors(); i++ {
		track := dpb.BootTracks + i/dpb.SectorsPerTrack
		physical, err := dpb.Translate(i % dpb.SectorsPerTrack)
		if err != nil {
			return cpm.Directory{}, err
		}
		data, err := img.ReadSector(track, physical)
		if err != nil {
			return cpm.Directory{}, errors.Wrapf(err, "unpack: read directory sector %d", i)
		}
		dirData = append(dirData, data...)
	}

	var extents []cpm.Extent
	for off := 0; off+cpm.ExtentSize <= len(dirData); off += cpm.ExtentSize {
		e, err := cpm.DecodeExtent(dpb, dirData[off:off+cpm.ExtentSize])
		if err != nil {
			return cpm.Directory{}, err
		}
		extents = append(extents, e)
	}
	return cpm.BuildDirectory(dpb, extents), nil
}

// extractFile appends every record of rec's blocks, in directory order, to
// path. The tail of the final record keeps its 0x1A padding, same as
// unpack.py writing whole sectors.
func extractFile(img *imageio.Image, dpb cpm.DPB, path string, rec *cpm.FileRecord) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "unpack: create %s", path)
	}
	defer out.Close()

	rpb := dpb.RecordsPerBlock()
	recs := rec.TotalRecords
	for _, b := range rec.BlockPointers {
		if b == 0 {
			continue
		}
		r := recs
		if r > rpb {
			r = rpb
		}
		recs -= r

		for s := 0; s < r; s++ {
			logical := int(b)*rpb + s
			track := dpb.BootTracks + logical/dpb.SectorsPerTrack
			physical, err := dpb.Translate(logical % dpb.SectorsPerTrack)
			if err != nil {
				return err
			}
			data, err := img.ReadSector(track, physical)
			if err != nil {
				return errors.Wrapf(err, "unpack: read track %d sector %d", track, physical)
			}
			if _, err := out.Write(data); err != nil {
				return errors.Wrapf(err, "unpack: write %s", path)
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(unpackCmd)
}
