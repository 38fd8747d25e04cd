// Command uf2touch restarts an RP2040-style board into its mass-storage
// bootloader by touching its serial port at 1200 baud.
//
//	uf2touch [-hold 50ms] [-v] /dev/ttyACM0 [...]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ardnew/uf2flasher/pkg"
	"github.com/ardnew/uf2flasher/touch"
)

var (
	hold    = flag.Duration("hold", touch.DefaultHold, "time DTR stays asserted before it is dropped")
	verbose = flag.Bool("v", false, "enable verbose logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] port...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	} else {
		pkg.SetLogLevel(slog.LevelInfo)
	}

	failed := 0
	for _, port := range flag.Args() {
		if err := touch.Bootsel(port, touch.WithHold(*hold)); err != nil {
			pkg.LogError(pkg.ComponentTouch, "touch failed", "port", port, "error", err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
