package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cpmfif/internal/cpm"
	"cpmfif/internal/cpmlog"
	"cpmfif/internal/dirbacking"
	"cpmfif/internal/imageio"
)

var catCmd = &cobra.Command{
	Use:                   "cat SOURCE",
	Short:                 "Print the directory catalog of an image file or directory-backed tree",
	Long:                  `Prints every user area's files with their allocated size in K (blocks times block size) and record counts, matching pack.py/unpack.py's printDir output.`,
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		dpb, err := geometryByName(geometryName)
		if err != nil {
			return err
		}

		fi, err := os.Stat(source)
		if err != nil {
			return errors.Wrapf(err, "cat: stat %s", source)
		}

		var dir cpm.Directory
		if fi.IsDir() {
			drv, err := dirbacking.Open(source, dpb, cpmlog.Default())
			if err != nil {
				return err
			}
			dir = drv.Dir
		} else {
			dir, err = catalogFromImage(source, dpb)
			if err != nil {
				return err
			}
		}

		printCatalog(dir, dpb)
		return nil
	},
}

func catalogFromImage(path string, dpb cpm.DPB) (cpm.Directory, error) {
	img, err := imageio.Open(path, dpb)
	if err != nil {
		return cpm.Directory{}, errors.Wrapf(err, "cat: open %s", path)
	}

	dirSectors := dpb.DirectorySectors()
	var extents []cpm.Extent
	for sd := 0; sd < dirSectors; sd++ {
		track := dpb.BootTracks + sd/dpb.SectorsPerTrack
		logicalIndex := sd % dpb.SectorsPerTrack
		physical, err := dpb.Translate(logicalIndex)
		if err != nil {
			return cpm.Directory{}, errors.Wrap(err, "cat: translate directory sector")
		}
		raw, err := img.ReadSector(track, physical)
		if err != nil {
			return cpm.Directory{}, errors.Wrapf(err, "cat: read directory sector %d", sd)
		}
		for off := 0; off+cpm.ExtentSize <= len(raw); off += cpm.ExtentSize {
			ext, err := cpm.DecodeExtent(dpb, raw[off:off+cpm.ExtentSize])
			if err != nil {
				return cpm.Directory{}, err
			}
			extents = append(extents, ext)
		}
	}
	return cpm.BuildDirectory(dpb, extents), nil
}

func printCatalog(dir cpm.Directory, dpb cpm.DPB) {
	for u := 0; u < 16; u++ {
		if len(dir[u]) == 0 {
			continue
		}
		fmt.Printf("\nUser %d:\n\n", u)
		fmt.Println("Name         Bytes   Recs")
		fmt.Println("------------ ------ ------")

		names := make([]string, 0, len(dir[u]))
		for k := range dir[u] {
			names = append(names, k.DisplayName())
		}
		sort.Strings(names)
		byName := make(map[string]*cpm.FileRecord, len(dir[u]))
		for k, rec := range dir[u] {
			byName[k.DisplayName()] = rec
		}

		for _, name := range names {
			rec := byName[name]
			kb := (rec.TotalBlocks * dpb.BlockSizeBytes) / 1024
			fmt.Printf("%-12s %5dK %6d\n", name, kb, rec.TotalRecords)
		}
	}
}

func init() {
	rootCmd.AddCommand(catCmd)
}
