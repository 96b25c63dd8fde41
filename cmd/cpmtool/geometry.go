package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cpmfif/internal/cpm"
)

var geometryCmd = &cobra.Command{
	Use:                   "geometry",
	Short:                 "Print a disk parameter block's geometry",
	Long:                  `Prints the sector, block, directory, and interleave layout for the --geometry shape (floppy8 or hdd).`,
	Args:                  cobra.NoArgs,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dpb, err := geometryByName(geometryName)
		if err != nil {
			return err
		}
		printGeometry(dpb)
		return nil
	},
}

func printGeometry(dpb cpm.DPB) {
	fmt.Printf("name:              %s\n", dpb.Name)
	fmt.Printf("sectors_per_track: %d\n", dpb.SectorsPerTrack)
	fmt.Printf("block_size_bytes:  %d\n", dpb.BlockSizeBytes)
	fmt.Printf("directory_entries: %d\n", dpb.DirectoryEntries)
	fmt.Printf("disk_size_blocks:  %d\n", dpb.DiskSizeBlocks)
	fmt.Printf("boot_tracks:       %d\n", dpb.BootTracks)
	fmt.Printf("tracks:            %d\n", dpb.Tracks)
	fmt.Printf("records_per_block: %d\n", dpb.RecordsPerBlock())
	fmt.Printf("pointer_width:     %s\n", pointerWidth(dpb))
	fmt.Printf("directory_sectors: %d\n", dpb.DirectorySectors())
	fmt.Printf("first_data_block:  %d\n", dpb.FirstDataBlock())
	fmt.Printf("image_bytes:       %d\n", dpb.ByteSize())
	if dpb.Interleave != nil {
		fmt.Printf("interleave:        %v\n", dpb.Interleave)
	} else {
		fmt.Println("interleave:        none")
	}
}

func pointerWidth(dpb cpm.DPB) string {
	if dpb.Use16BitPointers() {
		return "16-bit"
	}
	return "8-bit"
}

func init() {
	rootCmd.AddCommand(geometryCmd)
}
