package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cpmfif/internal/cpmlog"
	"cpmfif/internal/dirbacking"
	"cpmfif/internal/imageio"
)

var packCmd = &cobra.Command{
	Use:                   "pack SOURCE_DIR IMAGE_FILE",
	Short:                 "Pack a native directory tree into a flat CP/M disk image",
	Long:                  `Synthesizes a CP/M directory from SOURCE_DIR (user-number subdirectories plus an optional $BOOT file) and writes every sector of it into a freshly formatted IMAGE_FILE, the same translation cmd/cpmsrv performs live for a directory-backed unit.`,
	Args:                  cobra.ExactArgs(2),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, imgPath := args[0], args[1]

		dpb, err := geometryByName(geometryName)
		if err != nil {
			return err
		}

		log := cpmlog.Default()
		drv, err := dirbacking.Open(root, dpb, log)
		if err != nil {
			return errors.Wrapf(err, "pack: scan %s", root)
		}

		if err := imageio.Format(imgPath, dpb); err != nil {
			return errors.Wrapf(err, "pack: format %s", imgPath)
		}
		img, err := imageio.Open(imgPath, dpb)
		if err != nil {
			return errors.Wrapf(err, "pack: open %s", imgPath)
		}

		for track := 0; track < dpb.Tracks; track++ {
			for sector := 1; sector <= dpb.SectorsPerTrack; sector++ {
				data, err := drv.ReadSector(track, sector)
				if err != nil {
					return errors.Wrapf(err, "pack: synthesize track %d sector %d", track, sector)
				}
				if err := img.WriteSector(track, sector, data); err != nil {
					return errors.Wrapf(err, "pack: write track %d sector %d", track, sector)
				}
			}
		}

		fmt.Printf("packed %s into %s (%s)\n", root, imgPath, dpb.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
}
