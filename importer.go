package tsdb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// importChunkSize is the read buffer for streaming delimited input.
const importChunkSize = 5 * 1024 * 1024

// ImportStats summarises an import run.
type ImportStats struct {
	// Lines is the number of input lines seen, including skipped ones.
	Lines int64
	// Records is the number of records written to the series.
	Records int64
	// Discarded counts records dropped because they overlapped the series.
	Discarded int64
	// BytesRead is the number of input bytes consumed.
	BytesRead int64
}

// ProgressFunc receives periodic progress reports during an import: bytes
// done and total (total is -1 when unknown), the read rate in MB/s, and the
// write rate in records/s.
type ProgressFunc func(done, total int64, readMBps, writeRecsPerSec float64)

// Importer streams a delimited text file into a series. Input is read in
// fixed-size chunks with partial lines carried over; each chunk's parsed
// records append as one batch with overlap discarding on.
type Importer struct {
	series *Timeseries
	parser *RecordParser

	// Progress, when set, is called once per chunk.
	Progress ProgressFunc

	// Logger receives per-line parse warnings and discard reports.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// NewImporter builds an importer for the series using the given parser.
func NewImporter(series *Timeseries, parser *RecordParser) *Importer {
	return &Importer{series: series, parser: parser}
}

// ImportFile streams the file at path into the series.
func (imp *Importer) ImportFile(path string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, fmt.Errorf("opening input file: %w", err)
	}
	defer f.Close()

	total := int64(-1)
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}
	return imp.Import(f, total)
}

// Import streams r into the series. total is the input size in bytes, or -1
// when unknown.
func (imp *Importer) Import(r io.Reader, total int64) (ImportStats, error) {
	logger := imp.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var stats ImportStats
	recordSize := imp.series.Schema().Size()
	buffer := make([]byte, importChunkSize)
	bufferOffset := 0
	start := time.Now()

	for {
		bytesRead, err := r.Read(buffer[bufferOffset:])
		if bytesRead == 0 {
			if err == io.EOF || err == nil {
				break
			}
			return stats, fmt.Errorf("reading input: %w", err)
		}
		stats.BytesRead += int64(bytesRead)

		// Assume every line in the chunk becomes a record.
		nlines := 1
		for i := 0; i < bufferOffset+bytesRead; i++ {
			if buffer[i] == '\n' {
				nlines++
			}
		}
		records := make([]byte, nlines*recordSize)
		nrecords := 0

		lineStart := 0
		lineStarted := true
		for i := 0; i < bufferOffset+bytesRead; i++ {
			c := buffer[i]
			if lineStarted {
				if c == '\r' || c == '\n' {
					line := string(buffer[lineStart:i])
					stats.Lines++
					if len(line) > 0 {
						if nrecords*recordSize == len(records) {
							// CR-only line endings defeat the newline count.
							records = append(records, make([]byte, recordSize)...)
						}
						ok, perr := imp.parser.ParseLine(line, records[nrecords*recordSize:])
						if perr != nil {
							logger.Warn("skipping unparseable line",
								"line", stats.Lines, "text", line, "err", perr)
						} else if ok {
							nrecords++
						}
					}
					lineStarted = false
				}
			} else if c != '\n' && c != '\r' && c != 0 {
				lineStarted = true
				lineStart = i
			}
		}

		if lineStarted {
			// A partial line remains; move it to the top of the buffer and
			// keep reading.
			if lineStart == 0 && bufferOffset+bytesRead == len(buffer) {
				return stats, errors.New("input line longer than import buffer")
			}
			bufferOffset = copy(buffer, buffer[lineStart:bufferOffset+bytesRead])
		} else {
			bufferOffset = 0
		}

		discarded, aerr := imp.series.AppendRecords(nrecords, records, true)
		if aerr != nil {
			return stats, aerr
		}
		if discarded > 0 {
			logger.Warn("discarded misordered records", "count", discarded)
		}
		stats.Records += int64(nrecords - discarded)
		stats.Discarded += int64(discarded)

		if imp.Progress != nil {
			elapsed := time.Since(start).Seconds()
			if elapsed <= 0 {
				elapsed = 1e-9
			}
			imp.Progress(stats.BytesRead, total,
				float64(stats.BytesRead)/(1024*1024)/elapsed,
				float64(stats.Records)/elapsed)
		}

		if err == io.EOF {
			break
		}
	}

	// A final line without a trailing newline still counts.
	if bufferOffset > 0 {
		line := string(buffer[:bufferOffset])
		stats.Lines++
		record := make([]byte, recordSize)
		ok, perr := imp.parser.ParseLine(line, record)
		if perr != nil {
			logger.Warn("skipping unparseable line", "line", stats.Lines, "text", line, "err", perr)
		} else if ok {
			discarded, aerr := imp.series.AppendRecords(1, record, true)
			if aerr != nil {
				return stats, aerr
			}
			stats.Records += int64(1 - discarded)
			stats.Discarded += int64(discarded)
		}
	}

	return stats, nil
}
