// Command tsdbview prints a sample of the records in a timestamp range:
// every 100th record between the start and end timestamps.
//
//	Usage: tsdbview <filename> <series> <start_date> <end_date>
//
// Dates accept ISO forms such as 20080201T010000, 2008-02-01T01:00:00, or
// 2008-02-01. Fractional seconds are optional.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tsdb-io/tsdb"
	"github.com/tsdb-io/tsdb/container"
)

// recordBlock is how many records are loaded at a time while printing.
const recordBlock = 10000

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "Error: Not enough arguments.")
		fmt.Println("Usage: tsdbview <filename> <series> <start_date> <end_date>.")
		fmt.Println("Date format is ISO, for example 20080201T010000 or 2008-02-01T01:00:00.")
		return 1
	}
	filename, seriesName, startArg, endArg := args[0], args[1], args[2], args[3]

	start, err := parseDate(startArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing start date %q: %v\n", startArg, err)
		return 1
	}
	end, err := parseDate(endArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing end date %q: %v\n", endArg, err)
		return 1
	}
	if start > end {
		fmt.Fprintln(os.Stderr, "Error: start timestamp cannot be greater than end timestamp.")
		return 1
	}

	file, err := container.Open(filename, container.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unable to open store file %q: %v\n", filename, err)
		return 1
	}
	defer file.Close()

	series, err := tsdb.OpenSeries(file.Root(), seriesName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: unable to open series %q: %v\n", seriesName, err)
		return 1
	}

	startID, ok, err := series.RecordIDGE(start)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: the start timestamp is greater than the last record in the series.")
		return 1
	}

	endID, ok, err := series.RecordIDGE(end + 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		n, err := series.NumRecords()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		endID = n - 1
	} else {
		if endID == 0 {
			return 0
		}
		endID--
	}
	if endID < startID {
		return 0
	}

	for i := startID; i <= endID; i += recordBlock {
		j := i + recordBlock - 1
		if j > endID {
			j = endID
		}
		rs, err := series.RecordSetByID(i, j)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for k := 0; k < rs.Size(); k += 100 {
			fmt.Printf("%d,%s\n", i+uint64(k), rs.Record(k).String())
		}
	}
	return 0
}

func parseDate(s string) (int64, error) {
	layouts := []string{
		"20060102T150405",
		"2006-01-02T15:04:05",
		"20060102",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return tsdb.TimestampFromTime(t.UTC()), nil
		}
	}
	return 0, fmt.Errorf("unrecognised date format")
}
