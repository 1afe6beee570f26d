// Command wdiff-merge drives the bounded-memory N-way diff merger (spec
// §4.E): it combines an ordered chain of wdiff files, oldest first, into
// one address-ordered, non-overlapping output file.
//
// Usage:
//
//	wdiff-merge -o OUT [-x maxIoBlocks] [--check-uuid] IN0 IN1 ...
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/walb-tools/walb-go/internal/diffmerge"
	"github.com/walb-tools/walb-go/internal/wdiff"
)

var (
	outPath     = flag.String("o", "", "output wdiff path (required)")
	maxIoBlocks = flag.Int("x", 0, "split merged entries larger than this many logical blocks (0 = no limit)")
	checkUUID   = flag.Bool("check-uuid", false, "fail if input UUIDs disagree (default: off)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *outPath == "" {
		return fmt.Errorf("wdiff-merge: -o is required")
	}
	if *maxIoBlocks < 0 || *maxIoBlocks > 0xffff {
		return fmt.Errorf("wdiff-merge: -x must be between 0 and 65535")
	}
	inPaths := flag.Args()
	if len(inPaths) == 0 {
		return fmt.Errorf("wdiff-merge: at least one input file is required")
	}

	files := make([]*os.File, 0, len(inPaths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	readers := make([]io.Reader, 0, len(inPaths))
	for _, p := range inPaths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("wdiff-merge: open %s: %w", p, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	mg, err := diffmerge.NewMerger(readers, diffmerge.Options{
		MaxIoBlocksOut: uint16(*maxIoBlocks),
		CheckUUID:      *checkUUID,
	})
	if err != nil {
		return fmt.Errorf("wdiff-merge: %w", err)
	}

	out, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("wdiff-merge: create %s: %w", *outPath, err)
	}
	defer out.Close()

	w := wdiff.NewWriter(out, mg.Salt)
	hdr := wdiff.FileHeader{
		Pbs:         mg.Pbs,
		Salt:        mg.Salt,
		MaxIoBlocks: mg.MaxIoBlocks,
		UUID:        mg.UUID,
	}
	if err := w.WriteFileHeader(hdr); err != nil {
		return fmt.Errorf("wdiff-merge: write file header: %w", err)
	}
	if err := mg.WriteTo(w, wdiff.CompressionSnappy); err != nil {
		return fmt.Errorf("wdiff-merge: write merged diff: %w", err)
	}
	return nil
}
