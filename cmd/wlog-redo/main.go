// Command wlog-redo drives the log redo engine (spec §4.G): it replays
// a wlog stream onto a target block device using asynchronous direct
// I/O, overlap serialization, adjacent-IO coalescing, and overwrite
// elimination.
//
// Usage:
//
//	wlog-redo [-i PATH] [-d | -z] [-v] DEVICE_PATH
//
// With -i "-" or omitted, the wlog stream is read from standard input.
// -d issues a real device discard (BLKDISCARD) for DISCARD log records;
// -z replaces them with zero-filled writes instead; with neither, DISCARD
// records are dropped untouched. -d and -z are mutually exclusive.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/walb-tools/walb-go/internal/blockdev"
	"github.com/walb-tools/walb-go/internal/redo"
	"github.com/walb-tools/walb-go/walberr"
)

var (
	inPath      = flag.String("i", "-", `input wlog path ("-" for standard input)`)
	discard     = flag.Bool("d", false, "issue a real device discard for DISCARD log records")
	zeroDiscard = flag.Bool("z", false, "write zeros for DISCARD log records instead of discarding")
	verbose     = flag.Bool("v", false, "print statistics to standard error after replay")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *discard && *zeroDiscard {
		return fmt.Errorf("wlog-redo: %w: -d and -z are mutually exclusive", walberr.ErrArg)
	}
	if flag.NArg() != 1 {
		return fmt.Errorf("wlog-redo: a single DEVICE_PATH argument is required")
	}
	devicePath := flag.Arg(0)

	in := os.Stdin
	if *inPath != "-" {
		f, err := os.Open(*inPath)
		if err != nil {
			return fmt.Errorf("wlog-redo: open %s: %w", *inPath, err)
		}
		defer f.Close()
		in = f
	}

	dev, err := blockdev.Open(devicePath, blockdev.Options{Direct: true})
	if err != nil {
		return fmt.Errorf("wlog-redo: %w", err)
	}
	defer dev.Close()

	mode := redo.ModeIgnore
	switch {
	case *discard:
		mode = redo.ModeIssueDiscard
	case *zeroDiscard:
		mode = redo.ModeZeroDiscard
	}

	engine := redo.New(dev, redo.Options{Discard: mode})
	stats, err := engine.Apply(in)
	if err != nil {
		return fmt.Errorf("wlog-redo: %w", err)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr,
			"n_written=%d n_overwritten=%d n_clipped=%d n_discard=%d n_padding=%d lsid=[%d,%d)\n",
			stats.NWritten, stats.NOverwritten, stats.NClipped, stats.NDiscard, stats.NPadding,
			stats.BeginLsid, stats.EndLsid)
	}
	return nil
}
