package tsdb

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// createPriceSeries builds a series with a single double field named price.
// Its records are 16 bytes: timestamp at offset 0, price at offset 8.
func createPriceSeries(t *testing.T, name string) *Timeseries {
	t.Helper()
	root := newTestRoot(t)
	s, err := CreateSeries(root, name, "Prices", []*Field{NewDoubleField("price")})
	if err != nil {
		t.Fatalf("creating series: %v", err)
	}
	return s
}

// priceRecords encodes one record per timestamp, with price = ts/1000 + 0.5.
func priceRecords(s *Timeseries, timestamps ...int64) []byte {
	size := s.Schema().Size()
	buf := make([]byte, len(timestamps)*size)
	for i, ts := range timestamps {
		binary.LittleEndian.PutUint64(buf[i*size:], uint64(ts))
		binary.LittleEndian.PutUint64(buf[i*size+8:], math.Float64bits(float64(ts)/1000+0.5))
	}
	return buf
}

func seriesTimestamps(t *testing.T, s *Timeseries) []int64 {
	t.Helper()
	n, err := s.NumRecords()
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		return nil
	}
	rs, err := s.RecordSetByID(0, n-1)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]int64, rs.Size())
	for i := range out {
		ts, err := rs.Record(i).Cell(0).Timestamp()
		if err != nil {
			t.Fatal(err)
		}
		out[i] = ts
	}
	return out
}

func TestTimeseries_CreateAndRoundTrip(t *testing.T) {
	s := createPriceSeries(t, "s")

	recs := priceRecords(s, 1000, 2000, 3000)
	// P7: raw bytes written to an empty series read back identically.
	if _, err := s.AppendRecords(3, recs, false); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.NumRecords(); n != 3 {
		t.Fatalf("expected size 3, got %d", n)
	}

	first, err := s.RecordsByID(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range first.Raw()[:s.Schema().Size()] {
		if b != recs[i] {
			t.Fatalf("byte %d differs after round trip", i)
		}
	}

	rs, err := s.RecordSetByID(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if price, _ := rs.Record(1).Cell(1).Float64(); price != 2.5 {
		t.Errorf("expected price 2.5, got %v", price)
	}

	if id, ok, _ := s.RecordIDLE(2500); !ok || id != 1 {
		t.Errorf("RecordIDLE(2500) = %d, %v; want 1, true", id, ok)
	}
	if id, ok, _ := s.RecordIDGE(2500); !ok || id != 2 {
		t.Errorf("RecordIDGE(2500) = %d, %v; want 2, true", id, ok)
	}
	if _, ok, _ := s.RecordIDLE(500); ok {
		t.Error("RecordIDLE before all records should find nothing")
	}
	if _, ok, _ := s.RecordIDGE(3500); ok {
		t.Error("RecordIDGE after all records should find nothing")
	}
}

func TestTimeseries_DuplicateTimestamps(t *testing.T) {
	s := createPriceSeries(t, "s")
	if _, err := s.AppendRecords(5, priceRecords(s, 1000, 2000, 2000, 2000, 3000), false); err != nil {
		t.Fatal(err)
	}

	// Both searches land on the first record of the tie group.
	if id, ok, _ := s.RecordIDLE(2000); !ok || id != 1 {
		t.Errorf("RecordIDLE(2000) = %d, %v; want 1, true", id, ok)
	}
	if id, ok, _ := s.RecordIDGE(2000); !ok || id != 1 {
		t.Errorf("RecordIDGE(2000) = %d, %v; want 1, true", id, ok)
	}
}

func TestTimeseries_OverlapDiscard(t *testing.T) {
	s := createPriceSeries(t, "s")
	if _, err := s.AppendRecords(2, priceRecords(s, 1000, 2000), false); err != nil {
		t.Fatal(err)
	}

	batch := priceRecords(s, 1500, 2500, 3500)
	discarded, err := s.AppendRecords(3, batch, true)
	if err != nil {
		t.Fatal(err)
	}
	if discarded != 1 {
		t.Errorf("expected 1 discarded record, got %d", discarded)
	}
	if n, _ := s.NumRecords(); n != 4 {
		t.Errorf("expected size 4, got %d", n)
	}
	want := []int64{1000, 2000, 2500, 3500}
	got := seriesTimestamps(t, s)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("timestamp %d: got %d, want %d", i, got[i], want[i])
		}
	}

	// With discarding off the append fails and nothing changes.
	if _, err := s.AppendRecords(3, priceRecords(s, 1500, 2600, 3600), false); !errors.Is(err, ErrOverlap) {
		t.Errorf("expected ErrOverlap, got %v", err)
	}
	if n, _ := s.NumRecords(); n != 4 {
		t.Errorf("size changed after rejected append: %d", n)
	}
}

func TestTimeseries_OverlapDiscardAll(t *testing.T) {
	s := createPriceSeries(t, "s")
	if _, err := s.AppendRecords(1, priceRecords(s, 5000), false); err != nil {
		t.Fatal(err)
	}

	discarded, err := s.AppendRecords(2, priceRecords(s, 1000, 2000), true)
	if err != nil {
		t.Fatal(err)
	}
	if discarded != 2 {
		t.Errorf("expected all 2 records discarded, got %d", discarded)
	}
	if n, _ := s.NumRecords(); n != 1 {
		t.Errorf("expected size 1, got %d", n)
	}
}

func TestTimeseries_InBatchSort(t *testing.T) {
	s := createPriceSeries(t, "s")
	if _, err := s.AppendRecords(3, priceRecords(s, 3000, 1000, 2000), false); err != nil {
		t.Fatal(err)
	}
	got := seriesTimestamps(t, s)
	want := []int64{1000, 2000, 3000}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("timestamp %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestTimeseries_AppendEmptyBatch(t *testing.T) {
	s := createPriceSeries(t, "s")
	discarded, err := s.AppendRecords(0, nil, false)
	if err != nil || discarded != 0 {
		t.Errorf("empty append: %d, %v", discarded, err)
	}
}

func TestTimeseries_CreateValidation(t *testing.T) {
	root := newTestRoot(t)

	// The timestamp field must come first.
	bad := NewSchema([]*Field{NewDoubleField("price"), NewTimestampField(TimestampFieldName)}, true)
	if _, err := CreateSeriesWithSchema(root, "bad", "", bad); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema, got %v", err)
	}

	// And must be a timestamp.
	bad2 := NewSchema([]*Field{NewInt32Field(TimestampFieldName)}, true)
	if _, err := CreateSeriesWithSchema(root, "bad2", "", bad2); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema, got %v", err)
	}

	if _, err := CreateSeries(root, "dup", "", []*Field{NewDoubleField("x")}); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateSeries(root, "dup", "", []*Field{NewDoubleField("x")}); !errors.Is(err, ErrSeriesExists) {
		t.Errorf("expected ErrSeriesExists, got %v", err)
	}

	if _, err := OpenSeries(root, "missing"); !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestTimeseries_OpenExisting(t *testing.T) {
	root := newTestRoot(t)
	s, err := CreateSeries(root, "reopen", "Prices", []*Field{NewDoubleField("price")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendRecords(3, priceRecords(s, 1000, 2000, 3000), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSeries(root, "reopen")
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Title() != "Prices" {
		t.Errorf("expected title Prices, got %q", reopened.Title())
	}
	if n, _ := reopened.NumRecords(); n != 3 {
		t.Errorf("expected 3 records, got %d", n)
	}
	if idx, err := reopened.Schema().FieldIndex("price"); err != nil || idx != 1 {
		t.Errorf("price field at %d (%v)", idx, err)
	}
	if id, ok, _ := reopened.RecordIDGE(1500); !ok || id != 1 {
		t.Errorf("RecordIDGE(1500) = %d, %v; want 1, true", id, ok)
	}
}

func TestTimeseries_AppendRecordPath(t *testing.T) {
	s := createPriceSeries(t, "s")
	rec := NewRecord(s.Schema())

	for _, ts := range []int64{100, 200, 200, 300} {
		if err := rec.Cell(0).SetTimestamp(ts); err != nil {
			t.Fatal(err)
		}
		if err := rec.Cell(1).SetFloat64(float64(ts)); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendRecord(rec); err != nil {
			t.Fatal(err)
		}
	}

	// Misordered records are rejected until the buffer flushes.
	if err := rec.Cell(0).SetTimestamp(50); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendRecord(rec); !errors.Is(err, ErrMisorderedAppend) {
		t.Errorf("expected ErrMisorderedAppend, got %v", err)
	}

	if n, _ := s.NumRecords(); n != 0 {
		t.Errorf("records should still be buffered, size %d", n)
	}
	if err := s.FlushAppendBuffer(); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.NumRecords(); n != 4 {
		t.Errorf("expected 4 records after flush, got %d", n)
	}

	// After a flush the per-record guard resets.
	if err := rec.Cell(0).SetTimestamp(50); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendRecord(rec); err != nil {
		t.Errorf("guard should reset after flush, got %v", err)
	}
}

func TestTimeseries_SparseIndexCreation(t *testing.T) {
	s := createPriceSeries(t, "s")
	s.SetSplitIndexGT(4)
	s.SetIndexStep(2)

	for ts := int64(1); ts <= 10; ts++ {
		if _, err := s.AppendRecords(1, priceRecords(s, ts), false); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.NumRecords(); n <= 4 && s.IndexSeries() != nil {
			t.Fatalf("index created too early at size %d", n)
		}
	}

	idx := s.IndexSeries()
	if idx == nil {
		t.Fatal("index should exist once the series outgrew the threshold")
	}

	n, err := idx.NumRecords()
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("index should hold index points")
	}

	rs, err := idx.RecordSetByID(0, n-1)
	if err != nil {
		t.Fatal(err)
	}

	var prevTS int64 = math.MinInt64
	var prevID uint64
	for i := 0; i < rs.Size(); i++ {
		ts, err := rs.Record(i).Cell(0).Timestamp()
		if err != nil {
			t.Fatal(err)
		}
		id, err := rs.Record(i).Cell(1).RecordID()
		if err != nil {
			t.Fatal(err)
		}

		// Index points are strictly increasing in both timestamp and ordinal,
		// spaced at least an index step apart.
		if ts <= prevTS {
			t.Errorf("index point %d: timestamp %d not increasing", i, ts)
		}
		if i > 0 && (id <= prevID || id-prevID < 2) {
			t.Errorf("index point %d: ordinal gap %d below index step", i, id-prevID)
		}

		// Each point lands on the first record of its timestamp group.
		dataRS, err := s.RecordSetByID(id, id)
		if err != nil {
			t.Fatal(err)
		}
		dataTS, _ := dataRS.Record(0).Cell(0).Timestamp()
		if dataTS != ts {
			t.Errorf("index point %d: data[%d].ts = %d, want %d", i, id, dataTS, ts)
		}
		if id > 0 {
			beforeRS, err := s.RecordSetByID(id-1, id-1)
			if err != nil {
				t.Fatal(err)
			}
			beforeTS, _ := beforeRS.Record(0).Cell(0).Timestamp()
			if beforeTS >= ts {
				t.Errorf("index point %d does not start a timestamp group", i)
			}
		}

		prevTS, prevID = ts, id
	}

	// Searches still resolve through the index.
	for ts := int64(1); ts <= 10; ts++ {
		if id, ok, _ := s.RecordIDGE(ts); !ok || id != uint64(ts-1) {
			t.Errorf("RecordIDGE(%d) = %d, %v; want %d, true", ts, id, ok, ts-1)
		}
		if id, ok, _ := s.RecordIDLE(ts); !ok || id != uint64(ts-1) {
			t.Errorf("RecordIDLE(%d) = %d, %v; want %d, true", ts, id, ok, ts-1)
		}
	}
}

func TestTimeseries_SparseIndexSkipsDuplicateRuns(t *testing.T) {
	s := createPriceSeries(t, "s")
	s.SetSplitIndexGT(4)
	s.SetIndexStep(2)

	// A long run of one timestamp forces index candidates to slide forward
	// to the start of the next group.
	batch := []int64{1000, 2000, 2000, 2000, 2000, 2000, 3000, 4000, 5000, 6000}
	for _, ts := range batch {
		if _, err := s.AppendRecords(1, priceRecords(s, ts), false); err != nil {
			t.Fatal(err)
		}
	}

	idx := s.IndexSeries()
	if idx == nil {
		t.Fatal("index should exist")
	}
	n, _ := idx.NumRecords()
	rs, err := idx.RecordSetByID(0, n-1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < rs.Size(); i++ {
		id, _ := rs.Record(i).Cell(1).RecordID()
		if id == 0 {
			continue
		}
		cur, _ := s.RecordSetByID(id, id)
		before, _ := s.RecordSetByID(id-1, id-1)
		curTS, _ := cur.Record(0).Cell(0).Timestamp()
		beforeTS, _ := before.Record(0).Cell(0).Timestamp()
		if beforeTS >= curTS {
			t.Errorf("index point %d at ordinal %d is not a group start", i, id)
		}
	}

	// The duplicate group still resolves to its first member.
	if id, ok, _ := s.RecordIDLE(2000); !ok || id != 1 {
		t.Errorf("RecordIDLE(2000) = %d, %v; want 1, true", id, ok)
	}
	if id, ok, _ := s.RecordIDGE(2000); !ok || id != 1 {
		t.Errorf("RecordIDGE(2000) = %d, %v; want 1, true", id, ok)
	}
}

func TestTimeseries_RecursiveIndex(t *testing.T) {
	s := createPriceSeries(t, "s")
	s.SetSplitIndexGT(4)
	s.SetIndexStep(2)

	for ts := int64(1); ts <= 30; ts++ {
		if _, err := s.AppendRecords(1, priceRecords(s, ts), false); err != nil {
			t.Fatal(err)
		}
	}

	idx := s.IndexSeries()
	if idx == nil {
		t.Fatal("index should exist")
	}
	if idx.IndexSeries() == nil {
		t.Fatal("the index should have spawned its own index")
	}

	// Searches recurse through both index levels.
	for ts := int64(1); ts <= 30; ts++ {
		if id, ok, _ := s.RecordIDGE(ts); !ok || id != uint64(ts-1) {
			t.Errorf("RecordIDGE(%d) = %d, %v; want %d, true", ts, id, ok, ts-1)
		}
	}
}

func TestTimeseries_RangeQueries(t *testing.T) {
	s := createPriceSeries(t, "s")
	timestamps := make([]int64, 10)
	for i := range timestamps {
		timestamps[i] = int64(i + 1)
	}
	if _, err := s.AppendRecords(10, priceRecords(s, timestamps...), false); err != nil {
		t.Fatal(err)
	}

	rs, err := s.RecordSetByTime(3, 7)
	if err != nil {
		t.Fatal(err)
	}
	if rs.Size() != 5 {
		t.Fatalf("expected 5 records, got %d", rs.Size())
	}
	if ts, _ := rs.Record(0).Cell(0).Timestamp(); ts != 3 {
		t.Errorf("expected first timestamp 3, got %d", ts)
	}
	if ts, _ := rs.Record(4).Cell(0).Timestamp(); ts != 7 {
		t.Errorf("expected last timestamp 7, got %d", ts)
	}

	all, err := s.RecordSetByTime(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if all.Size() != 10 {
		t.Errorf("expected all 10 records, got %d", all.Size())
	}

	empty, err := s.RecordSetByTime(50, 60)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Size() != 0 {
		t.Errorf("expected empty result, got %d", empty.Size())
	}

	if _, err := s.RecordSetByTime(7, 3); !errors.Is(err, ErrRangeInverted) {
		t.Errorf("expected ErrRangeInverted, got %v", err)
	}

	if n, _ := s.NumRecordsByTime(3, 7); n != 5 {
		t.Errorf("NumRecordsByTime(3,7) = %d, want 5", n)
	}
	if n, _ := s.NumRecordsByTime(50, 60); n != 0 {
		t.Errorf("NumRecordsByTime(50,60) = %d, want 0", n)
	}
	if n, _ := s.NumRecordsByTime(7, 3); n != 0 {
		t.Errorf("inverted range should count 0, got %d", n)
	}
}

func TestBufferedRecordSet_ForwardAndReverse(t *testing.T) {
	s := createPriceSeries(t, "s")
	timestamps := make([]int64, 10)
	for i := range timestamps {
		timestamps[i] = int64((i + 1) * 100)
	}
	if _, err := s.AppendRecords(10, priceRecords(s, timestamps...), false); err != nil {
		t.Fatal(err)
	}

	brs := s.BufferedRecordSetByID(2, 8)
	if brs.Size() != 7 {
		t.Fatalf("expected size 7, got %d", brs.Size())
	}
	for i := uint64(0); i < brs.Size(); i++ {
		rec, err := brs.Record(i)
		if err != nil {
			t.Fatal(err)
		}
		ts, _ := rec.Cell(0).Timestamp()
		if want := timestamps[2+i]; ts != want {
			t.Errorf("forward record %d: ts %d, want %d", i, ts, want)
		}
	}

	rev := s.BufferedRecordSetByID(2, 8)
	rev.SetDirection(false)
	for i := int(rev.Size()) - 1; i >= 0; i-- {
		rec, err := rev.Record(uint64(i))
		if err != nil {
			t.Fatal(err)
		}
		ts, _ := rec.Cell(0).Timestamp()
		if want := timestamps[2+i]; ts != want {
			t.Errorf("reverse record %d: ts %d, want %d", i, ts, want)
		}
	}

	if _, err := brs.Record(7); !errors.Is(err, ErrIndexOutOfBounds) {
		t.Errorf("expected ErrIndexOutOfBounds, got %v", err)
	}

	if _, err := EmptyBufferedRecordSet().Record(0); !errors.Is(err, ErrEmptyRecordSet) {
		t.Errorf("expected ErrEmptyRecordSet, got %v", err)
	}
}

func TestBufferedRecordSet_WindowReload(t *testing.T) {
	if testing.Short() {
		t.Skip("large series")
	}

	s := createPriceSeries(t, "s")
	const n = 70000
	timestamps := make([]int64, n)
	for i := range timestamps {
		timestamps[i] = int64(i)
	}
	if _, err := s.AppendRecords(n, priceRecords(s, timestamps...), false); err != nil {
		t.Fatal(err)
	}

	brs := s.BufferedRecordSetByID(0, n-1)
	probes := []uint64{0, ScanBufferSize - 1, ScanBufferSize, n - 1, 1}
	for _, i := range probes {
		rec, err := brs.Record(i)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		ts, _ := rec.Cell(0).Timestamp()
		if ts != int64(i) {
			t.Errorf("record %d: ts %d", i, ts)
		}
	}

	rev := s.BufferedRecordSetByID(0, n-1)
	rev.SetDirection(false)
	for _, i := range []uint64{n - 1, ScanBufferSize, ScanBufferSize - 1, 0} {
		rec, err := rev.Record(i)
		if err != nil {
			t.Fatalf("reverse record %d: %v", i, err)
		}
		ts, _ := rec.Cell(0).Timestamp()
		if ts != int64(i) {
			t.Errorf("reverse record %d: ts %d", i, ts)
		}
	}
}

func TestTimeseries_BufferedRecordSetByTime(t *testing.T) {
	s := createPriceSeries(t, "s")
	if _, err := s.AppendRecords(5, priceRecords(s, 10, 20, 30, 40, 50), false); err != nil {
		t.Fatal(err)
	}

	brs, err := s.BufferedRecordSetByTime(15, 45)
	if err != nil {
		t.Fatal(err)
	}
	if brs.Size() != 3 {
		t.Fatalf("expected 3 records, got %d", brs.Size())
	}
	rec, err := brs.Record(0)
	if err != nil {
		t.Fatal(err)
	}
	if ts, _ := rec.Cell(0).Timestamp(); ts != 20 {
		t.Errorf("expected first ts 20, got %d", ts)
	}

	empty, err := s.BufferedRecordSetByTime(100, 200)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Size() != 0 {
		t.Errorf("expected empty set, got %d", empty.Size())
	}
}
