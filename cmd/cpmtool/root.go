package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cpmfif/internal/cpm"
	"cpmfif/internal/version"
)

var geometryName string

var rootCmd = &cobra.Command{
	Use:           "cpmtool",
	Short:         "Pack, unpack, and inspect CP/M 2.2 disk images",
	Long:          `cpmtool packs a native directory tree into a flat CP/M disk image, unpacks an image back into a directory tree, and inspects directory catalogs and disk geometry.`,
	Version:       version.Get().String(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&geometryName, "geometry", "g", "floppy8", `Disk geometry: "floppy8" or "hdd"`)
}

// geometryByName resolves the --geometry flag to a DPB: the eight-inch
// single-density floppy and the larger hard-disk shape.
func geometryByName(name string) (cpm.DPB, error) {
	switch name {
	case "floppy8", "":
		return cpm.Floppy8, nil
	case "hdd":
		return cpm.HDD, nil
	default:
		return cpm.DPB{}, fmt.Errorf("unknown geometry %q (want floppy8 or hdd)", name)
	}
}
