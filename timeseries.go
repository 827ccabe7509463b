package tsdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/tsdb-io/tsdb/container"
)

const (
	// TimestampFieldName is the name of the ordering field every series
	// carries at field index 0.
	TimestampFieldName = "_TSDB_timestamp"

	// DataTableName is the name of the data table inside a series group.
	DataTableName = "_TSDB_data"

	// IndexSeriesName is the name of the sparse-index sub-series.
	IndexSeriesName = "_TSDB_index"

	// DefaultSplitIndexGT is the series size above which the sparse index is
	// materialised.
	DefaultSplitIndexGT = 262144

	// DefaultIndexStep is the target spacing, in records, between adjacent
	// index points.
	DefaultIndexStep = 65536

	indexRecordSize = 16
)

// Timeseries is an ordered-by-timestamp table with a sparse secondary index.
// Records append in non-decreasing timestamp order; duplicate timestamps are
// permitted but their relative order is not preserved across in-batch sorts.
// Once the data table outgrows the split threshold, a nested index series
// maps timestamps to record ordinals, recursively indexing itself the same
// way.
type Timeseries struct {
	loc    *container.Group
	group  *container.Group
	name   string
	title  string
	schema *Schema
	data   *Table
	index  *Timeseries

	splitIndexGT uint64
	indexStep    uint64
	bufferLastTS int64
}

// CreateSeries creates a new series holding the given fields. A timestamp
// field named _TSDB_timestamp is prepended automatically and the record
// layout is auto-packed with memory alignment.
func CreateSeries(loc *container.Group, name, title string, fields []*Field) (*Timeseries, error) {
	all := make([]*Field, 0, len(fields)+1)
	all = append(all, NewTimestampField(TimestampFieldName))
	all = append(all, fields...)
	return createSeries(loc, name, title, NewSchema(all, true))
}

// CreateSeriesWithSchema creates a new series from a caller-built schema.
// The schema's first field must be a Timestamp named _TSDB_timestamp.
func CreateSeriesWithSchema(loc *container.Group, name, title string, schema *Schema) (*Timeseries, error) {
	idx, err := schema.FieldIndex(TimestampFieldName)
	if err != nil || idx != 0 {
		return nil, fmt.Errorf("%w: %s is not the first field", ErrInvalidSchema, TimestampFieldName)
	}
	if schema.Field(0).Kind() != KindTimestamp {
		return nil, fmt.Errorf("%w: %s is not a timestamp field", ErrInvalidSchema, TimestampFieldName)
	}
	return createSeries(loc, name, title, schema)
}

func createSeries(loc *container.Group, name, title string, schema *Schema) (*Timeseries, error) {
	if SeriesExists(loc, name) {
		return nil, fmt.Errorf("%w: %q", ErrSeriesExists, name)
	}

	group, err := loc.CreateGroup(name)
	if err != nil {
		return nil, fmt.Errorf("creating series group %q: %w", name, err)
	}

	data, err := CreateTable(group, DataTableName, title, schema)
	if err != nil {
		return nil, err
	}

	return &Timeseries{
		loc:          loc,
		group:        group,
		name:         name,
		title:        title,
		schema:       schema,
		data:         data,
		splitIndexGT: DefaultSplitIndexGT,
		indexStep:    DefaultIndexStep,
		bufferLastTS: math.MinInt64,
	}, nil
}

// OpenSeries opens an existing series, along with its index sub-series if
// one has been materialised.
func OpenSeries(loc *container.Group, name string) (*Timeseries, error) {
	group, err := loc.OpenGroup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrSeriesNotFound, name)
	}
	if !TableExists(group, DataTableName) {
		return nil, fmt.Errorf("%w: %q has no data table", ErrSeriesNotFound, name)
	}

	data, err := OpenTable(group, DataTableName)
	if err != nil {
		return nil, err
	}

	s := &Timeseries{
		loc:          loc,
		group:        group,
		name:         name,
		title:        data.Title(),
		schema:       data.Schema(),
		data:         data,
		splitIndexGT: DefaultSplitIndexGT,
		indexStep:    DefaultIndexStep,
		bufferLastTS: math.MinInt64,
	}

	if SeriesExists(group, IndexSeriesName) {
		index, err := OpenSeries(group, IndexSeriesName)
		if err != nil {
			return nil, err
		}
		s.index = index
	}

	return s, nil
}

// SeriesExists reports whether a series of that name exists at the location.
func SeriesExists(loc *container.Group, name string) bool {
	quiet := loc.File().Quiet()
	loc.File().SetQuiet(true)
	defer loc.File().SetQuiet(quiet)

	group, err := loc.OpenGroup(name)
	if err != nil {
		return false
	}
	return TableExists(group, DataTableName)
}

// Name returns the series name.
func (s *Timeseries) Name() string { return s.name }

// Title returns the series title.
func (s *Timeseries) Title() string { return s.title }

// Schema returns the record schema, including the prepended timestamp field.
func (s *Timeseries) Schema() *Schema { return s.schema }

// DataTable returns the underlying data table.
func (s *Timeseries) DataTable() *Table { return s.data }

// IndexSeries returns the sparse-index sub-series, nil while the series is
// below the split threshold.
func (s *Timeseries) IndexSeries() *Timeseries { return s.index }

// SetIndexStep overrides the index point spacing. It must be called before
// the first append.
func (s *Timeseries) SetIndexStep(step uint64) { s.indexStep = step }

// SetSplitIndexGT overrides the series size that triggers index creation.
// It must be called before the first append.
func (s *Timeseries) SetSplitIndexGT(n uint64) { s.splitIndexGT = n }

// NumRecords returns the number of records persisted in the series.
func (s *Timeseries) NumRecords() (uint64, error) {
	return s.data.Size()
}

// LastRecord reads the series' final record; ok is false when it is empty.
func (s *Timeseries) LastRecord() (Record, bool, error) {
	return s.data.LastRecord()
}

// tsAt reads the timestamp of record i in a record array. The timestamp
// field sits at offset 0 by invariant, so batch paths read it directly
// instead of going through schema lookups per row.
func tsAt(buf []byte, recordSize, i int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[recordSize*i:]))
}

type recordsByTimestamp struct {
	buf  []byte
	size int
	tmp  []byte
}

func (r *recordsByTimestamp) Len() int { return len(r.buf) / r.size }

func (r *recordsByTimestamp) Less(i, j int) bool {
	return tsAt(r.buf, r.size, i) < tsAt(r.buf, r.size, j)
}

func (r *recordsByTimestamp) Swap(i, j int) {
	a := r.buf[r.size*i : r.size*(i+1)]
	b := r.buf[r.size*j : r.size*(j+1)]
	copy(r.tmp, a)
	copy(a, b)
	copy(b, r.tmp)
}

// AppendRecords appends a batch of n raw records. Batches whose timestamps
// are out of order are sorted in place first. Records whose timestamps fall
// before the series' last timestamp are discarded when discardOverlap is
// set (the discard count is returned), and rejected with ErrOverlap
// otherwise.
func (s *Timeseries) AppendRecords(n int, buf []byte, discardOverlap bool) (int, error) {
	if n == 0 {
		return 0, nil
	}

	recordSize := s.schema.Size()
	records := buf[:n*recordSize]

	if n > 1 {
		prev := tsAt(records, recordSize, 0)
		for i := 1; i < n; i++ {
			cur := tsAt(records, recordSize, i)
			if prev > cur {
				sorter := &recordsByTimestamp{buf: records, size: recordSize, tmp: make([]byte, recordSize)}
				sort.Sort(sorter)
				break
			}
			prev = cur
		}
	}

	first := tsAt(records, recordSize, 0)

	last, ok, err := s.data.LastRecord()
	if err != nil {
		return 0, err
	}
	if ok {
		prev := tsAt(last.Bytes(), recordSize, 0)
		if prev > first {
			if !discardOverlap {
				return 0, ErrOverlap
			}
			for k := 0; k < n; k++ {
				if tsAt(records, recordSize, k) >= prev {
					if err := s.data.AppendRecords(n-k, records[k*recordSize:]); err != nil {
						return 0, err
					}
					return k, s.indexTail()
				}
			}
			// Every record predates the series tail.
			return n, nil
		}
	}

	if err := s.data.AppendRecords(n, records); err != nil {
		return 0, err
	}
	return 0, s.indexTail()
}

// AppendRecordSet appends an in-memory record set as one batch.
func (s *Timeseries) AppendRecordSet(rs RecordSet, discardOverlap bool) (int, error) {
	return s.AppendRecords(rs.Size(), rs.BlockPtr().Raw(), discardOverlap)
}

// AppendRecord appends one record through the table's append buffer. The
// record's timestamp must not precede the last timestamp appended this way
// since the last flush.
func (s *Timeseries) AppendRecord(rec Record) error {
	ts, err := rec.Cell(0).Timestamp()
	if err != nil {
		return err
	}
	if ts < s.bufferLastTS {
		return ErrMisorderedAppend
	}

	if err := s.data.AppendRecord(rec); err != nil {
		return err
	}

	if s.data.AppendBufferLen() == 0 {
		// The buffer just flushed; reindex the tail.
		s.bufferLastTS = math.MinInt64
		return s.indexTail()
	}
	s.bufferLastTS = ts
	return nil
}

// FlushAppendBuffer writes out any buffered records and reindexes the tail.
func (s *Timeseries) FlushAppendBuffer() error {
	if err := s.data.FlushAppendBuffer(); err != nil {
		return err
	}
	s.bufferLastTS = math.MinInt64
	return s.indexTail()
}

// Close flushes pending appends. It must be called when the series is no
// longer needed; abandoning a series without Close loses buffered records.
func (s *Timeseries) Close() error {
	err := s.FlushAppendBuffer()
	if s.index != nil {
		if cerr := s.index.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func indexSchema() *Schema {
	fields := []*Field{
		NewTimestampField(TimestampFieldName),
		NewRecordField("record_id"),
	}
	schema, _ := NewSchemaWithOffsets(fields, []int{0, 8}, indexRecordSize)
	return schema
}

func putIndexPoint(dst []byte, ts int64, id uint64) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(ts))
	binary.LittleEndian.PutUint64(dst[8:], id)
}

func readIndexPoint(b []byte) (ts int64, id uint64) {
	return int64(binary.LittleEndian.Uint64(b[0:])), binary.LittleEndian.Uint64(b[8:])
}

// createIndexIfNecessary materialises the index sub-series once the data
// table outgrows the split threshold, seeding it from the existing records.
// It reports true when tail indexing has nothing left to do: either the
// index was just created (and seeded), or the table is still too small.
func (s *Timeseries) createIndexIfNecessary() (bool, error) {
	if s.index != nil {
		return false, nil
	}

	size, err := s.data.Size()
	if err != nil {
		return false, err
	}
	if size <= s.splitIndexGT {
		return true, nil
	}

	index, err := CreateSeriesWithSchema(s.group, IndexSeriesName, "TSDB: Index", indexSchema())
	if err != nil {
		return false, err
	}
	index.SetIndexStep(s.indexStep)
	index.SetSplitIndexGT(s.splitIndexGT)
	s.index = index

	// Seed the index from the existing data. Index points must land on the
	// first record of a timestamp group, so a candidate that repeats the
	// previous record's timestamp slides forward one record at a time until
	// the next group starts.
	recordSize := s.schema.Size()
	point := make([]byte, indexRecordSize)
	for i := s.indexStep - 1; i < size; {
		ptr, err := s.data.RecordsAsBlock(i-1, i)
		if err != nil {
			return false, err
		}
		buf := ptr.Raw()
		prev := tsAt(buf, recordSize, 0)
		cur := tsAt(buf, recordSize, 1)
		if prev != cur {
			putIndexPoint(point, cur, i)
			if _, err := s.index.AppendRecords(1, point, true); err != nil {
				return false, err
			}
			i += s.indexStep
		} else {
			i++
		}
	}

	return true, nil
}

// indexTail scans the records appended since the last index point and emits
// new index points roughly every indexStep records. It is called after every
// successful append.
func (s *Timeseries) indexTail() error {
	handled, err := s.createIndexIfNecessary()
	if err != nil || handled {
		return err
	}

	size, err := s.data.Size()
	if err != nil {
		return err
	}

	var blkStart uint64
	lastRec, ok, err := s.index.data.LastRecord()
	if err != nil {
		return err
	}
	if ok {
		_, lastID := readIndexPoint(lastRec.Bytes())
		blkStart = lastID + s.indexStep
	} else {
		blkStart = s.indexStep
	}

	recordSize := s.schema.Size()
	var points []byte

	for blkStart < size {
		ptr, err := s.data.RecordsAsBlock(blkStart-1, blkStart)
		if err != nil {
			return err
		}
		buf := ptr.Raw()
		prev := tsAt(buf, recordSize, 0)
		cur := tsAt(buf, recordSize, 1)

		if prev < cur {
			point := make([]byte, indexRecordSize)
			putIndexPoint(point, cur, blkStart)
			points = append(points, point...)
			blkStart += s.indexStep
			continue
		}

		// The block starts mid-group; scan forward a bounded window for the
		// next timestamp change.
		var blkN uint64
		if size-blkStart < s.indexStep-1 {
			blkN = size - blkStart
		} else {
			blkN = s.indexStep - 1
		}
		if blkN == 0 {
			blkStart += s.indexStep
			continue
		}
		winPtr, err := s.data.RecordsAsBlock(blkStart, blkStart+blkN-1)
		if err != nil {
			return err
		}
		win := winPtr.Raw()

		var i uint64
		for prev == cur && i < blkN {
			cur = tsAt(win, recordSize, int(i))
			i++
		}

		if prev < cur {
			i--
			point := make([]byte, indexRecordSize)
			putIndexPoint(point, cur, blkStart+i)
			points = append(points, point...)
			blkStart = blkStart + i + s.indexStep
		} else {
			blkStart += s.indexStep
		}
	}

	if len(points) > 0 {
		if _, err := s.index.AppendRecords(len(points)/indexRecordSize, points, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Timeseries) searchWindow(t int64) (firstID, lastID uint64, exact uint64, haveExact bool, err error) {
	size, err := s.data.Size()
	if err != nil {
		return 0, 0, 0, false, err
	}
	if size == 0 {
		return 0, 0, 0, false, nil
	}

	firstID = 0
	lastID = size - 1

	if s.index != nil {
		if id, ok, err := s.index.RecordIDLE(t); err != nil {
			return 0, 0, 0, false, err
		} else if ok {
			ptr, err := s.index.RecordsByID(id, id)
			if err != nil {
				return 0, 0, 0, false, err
			}
			ts, rid := readIndexPoint(ptr.Raw())
			if ts == t {
				// The exact timestamp is an index point, which by the index
				// invariant is the first record of its group.
				return 0, 0, rid, true, nil
			}
			firstID = rid
		}

		// No point checking the greater-side index point for an exact match:
		// had it matched, it would have been the less-side answer above.
		if id, ok, err := s.index.RecordIDGE(t); err != nil {
			return 0, 0, 0, false, err
		} else if ok {
			ptr, err := s.index.RecordsByID(id, id)
			if err != nil {
				return 0, 0, 0, false, err
			}
			_, rid := readIndexPoint(ptr.Raw())
			lastID = rid
		}
	}

	return firstID, lastID, 0, false, nil
}

// RecordIDLE returns the greatest ordinal whose timestamp is <= t; within a
// group of duplicates matching t it returns the group's first ordinal. ok is
// false when no record qualifies.
func (s *Timeseries) RecordIDLE(t int64) (id uint64, ok bool, err error) {
	size, err := s.data.Size()
	if err != nil || size == 0 {
		return 0, false, err
	}

	firstID, lastID, exact, haveExact, err := s.searchWindow(t)
	if err != nil {
		return 0, false, err
	}
	if haveExact {
		return exact, true, nil
	}

	ptr, err := s.data.RecordsAsBlock(firstID, lastID)
	if err != nil {
		return 0, false, err
	}
	buf := ptr.Raw()
	recordSize := s.schema.Size()

	for i := int64(lastID - firstID); i >= 0; i-- {
		ts := tsAt(buf, recordSize, int(i))
		if ts <= t {
			match := ts
			for ; i >= 0; i-- {
				if tsAt(buf, recordSize, int(i)) < match {
					return firstID + uint64(i) + 1, true, nil
				}
			}
			// Reached the top of the window; its first ordinal starts the
			// matching group.
			return firstID, true, nil
		}
	}
	return 0, false, nil
}

// RecordIDGE returns the least ordinal whose timestamp is >= t, which is
// automatically the first of its timestamp group. ok is false when no record
// qualifies.
func (s *Timeseries) RecordIDGE(t int64) (id uint64, ok bool, err error) {
	size, err := s.data.Size()
	if err != nil || size == 0 {
		return 0, false, err
	}

	firstID, lastID, exact, haveExact, err := s.searchWindow(t)
	if err != nil {
		return 0, false, err
	}
	if haveExact {
		return exact, true, nil
	}

	ptr, err := s.data.RecordsAsBlock(firstID, lastID)
	if err != nil {
		return 0, false, err
	}
	buf := ptr.Raw()
	recordSize := s.schema.Size()

	n := int(lastID - firstID + 1)
	for i := 0; i < n; i++ {
		if tsAt(buf, recordSize, i) >= t {
			return firstID + uint64(i), true, nil
		}
	}
	return 0, false, nil
}

// RecordsByID reads records first through last (inclusive) into a block.
func (s *Timeseries) RecordsByID(first, last uint64) (BlockPtr, error) {
	return s.data.RecordsAsBlock(first, last)
}

// RecordSetByID reads records first through last (inclusive) into a record
// set.
func (s *Timeseries) RecordSetByID(first, last uint64) (RecordSet, error) {
	return s.data.RecordSetRange(first, last)
}

// BufferedRecordSetByID returns a lazily loaded window over records first
// through last (inclusive).
func (s *Timeseries) BufferedRecordSetByID(first, last uint64) *BufferedRecordSet {
	return s.data.BufferedRecordSetRange(first, last)
}

// timeRange resolves a start/end timestamp pair (inclusive) to record
// ordinals. empty is true when no records fall inside the range.
func (s *Timeseries) timeRange(start, end int64) (firstID, lastID uint64, empty bool, err error) {
	startID, ok, err := s.RecordIDGE(start)
	if err != nil || !ok {
		return 0, 0, true, err
	}

	endID, ok, err := s.RecordIDGE(end + 1)
	if err != nil {
		return 0, 0, true, err
	}
	if !ok {
		size, err := s.data.Size()
		if err != nil {
			return 0, 0, true, err
		}
		endID = size - 1
	} else {
		if endID == 0 {
			return 0, 0, true, nil
		}
		endID--
	}

	if endID < startID {
		return 0, 0, true, nil
	}
	return startID, endID, false, nil
}

// RecordSetByTime reads every record with start <= timestamp <= end into a
// record set. An empty set is returned when nothing falls in the range.
func (s *Timeseries) RecordSetByTime(start, end int64) (RecordSet, error) {
	if start > end {
		return RecordSet{}, ErrRangeInverted
	}
	firstID, lastID, empty, err := s.timeRange(start, end)
	if err != nil || empty {
		return RecordSet{}, err
	}
	return s.RecordSetByID(firstID, lastID)
}

// BufferedRecordSetByTime returns a lazily loaded window over every record
// with start <= timestamp <= end.
func (s *Timeseries) BufferedRecordSetByTime(start, end int64) (*BufferedRecordSet, error) {
	if start > end {
		return EmptyBufferedRecordSet(), nil
	}
	firstID, lastID, empty, err := s.timeRange(start, end)
	if err != nil {
		return nil, err
	}
	if empty {
		return EmptyBufferedRecordSet(), nil
	}
	return s.BufferedRecordSetByID(firstID, lastID), nil
}

// NumRecordsByTime counts the records with start <= timestamp <= end.
func (s *Timeseries) NumRecordsByTime(start, end int64) (uint64, error) {
	if start > end {
		return 0, nil
	}
	firstID, lastID, empty, err := s.timeRange(start, end)
	if err != nil || empty {
		return 0, err
	}
	return lastID - firstID + 1, nil
}
