// Command wlog-to-wdiff drives the log→diff converter (spec §4.F): it
// reads a wlog stream from standard input and writes the equivalent
// wdiff stream to standard output.
//
// Usage:
//
//	wlog-to-wdiff [-x maxIoBlocks] < in.wlog > out.wdiff
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/walb-tools/walb-go/internal/logconv"
	"github.com/walb-tools/walb-go/internal/wdiff"
)

var maxIoBlocks = flag.Int("x", 0, "split diff entries larger than this many logical blocks (0 = no limit)")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *maxIoBlocks < 0 || *maxIoBlocks > 0xffff {
		return fmt.Errorf("wlog-to-wdiff: -x must be between 0 and 65535")
	}

	res, err := logconv.Convert([]io.Reader{os.Stdin}, uint16(*maxIoBlocks))
	if err != nil {
		return fmt.Errorf("wlog-to-wdiff: %w", err)
	}

	w := wdiff.NewWriter(os.Stdout, res.Salt)
	hdr := wdiff.FileHeader{
		Pbs:         res.Pbs,
		Salt:        res.Salt,
		MaxIoBlocks: uint16(*maxIoBlocks),
		UUID:        res.UUID,
	}
	if err := w.WriteFileHeader(hdr); err != nil {
		return fmt.Errorf("wlog-to-wdiff: write file header: %w", err)
	}
	if err := res.WriteTo(w, wdiff.CompressionSnappy); err != nil {
		return fmt.Errorf("wlog-to-wdiff: write diff: %w", err)
	}
	return nil
}
