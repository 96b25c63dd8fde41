// Command cpmtool is an offline CP/M disk image inspector: pack a native
// directory tree into a flat image, unpack an image back into a directory
// tree, list a directory's catalog, or print a DPB's geometry. It adapts
// pack.py/unpack.py's behavior onto the same internal/imageio and
// internal/dirbacking packages cmd/cpmsrv runs against, following
// aiSzzPL-retroio's cobra command layout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
