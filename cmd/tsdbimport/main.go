// Command tsdbimport reads a CSV or similar delimited file and appends its
// records onto an existing series in a store file.
//
//	Usage: tsdbimport [-config cfg.yaml] <parse instructions> <in file> <out file> <out series>
//
// The parse instructions are an XML file defining token filters and field
// parsers; see the example in parsespec.go of package tsdb for the format. Records that
// overlap the series (timestamps before the series tail) are discarded with
// a warning.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tsdb-io/tsdb"
	"github.com/tsdb-io/tsdb/container"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tsdbimport", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML tuning configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 4 {
		fmt.Fprintln(os.Stderr, "Usage: tsdbimport [-config cfg.yaml] <parse instructions> <in file> <out file> <out series>")
		return 1
	}
	specPath, inFile, outFile, seriesName := fs.Arg(0), fs.Arg(1), fs.Arg(2), fs.Arg(3)

	cfg := tsdb.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = tsdb.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	file, err := container.Open(outFile, cfg.ContainerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store file %q: %v\n", outFile, err)
		return 1
	}
	defer file.Close()

	series, err := tsdb.OpenSeries(file.Root(), seriesName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open series %q: %v\n", seriesName, err)
		return 1
	}
	cfg.Apply(series)

	parser, err := tsdb.RecordParserFromSpecFile(specPath, series.Schema())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading parse instructions %q: %v\n", specPath, err)
		return 1
	}
	fmt.Printf("Loaded %q.\n", specPath)

	importer := tsdb.NewImporter(series, parser)
	importer.Progress = printProgress

	stats, err := importer.ImportFile(inFile)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}

	if err := series.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing series: %v\n", err)
		return 1
	}

	fmt.Printf("Imported %d record(s) from %d line(s); %d record(s) discarded.\n",
		stats.Records, stats.Lines, stats.Discarded)
	return 0
}

func printProgress(done, total int64, readMBps, writeRecsPerSec float64) {
	const totalDots = 20

	if total > 0 {
		frac := float64(done) / float64(total)
		dots := int(frac * totalDots)
		meter := ""
		for i := 0; i < totalDots; i++ {
			if i < dots {
				meter += "="
			} else {
				meter += " "
			}
		}
		fmt.Printf("%3.0f%% [%s] read: %3.1f MB/s, write: %3.1f Krec/s   \r",
			frac*100, meter, readMBps, writeRecsPerSec/1000)
	} else {
		fmt.Printf("%d MB read: %3.1f MB/s, write: %3.1f Krec/s   \r",
			done/(1024*1024), readMBps, writeRecsPerSec/1000)
	}
}
