package tsdb

// ScanBufferSize is the number of records a buffered record set keeps in
// memory at once.
const ScanBufferSize = 65000

// BufferedRecordSet is a bounded-memory window over a table's records
// between two ordinals (both inclusive). Records are reloaded from the table
// in ScanBufferSize batches as the read cursor moves; the load direction is
// forward by default and reversible for tail-to-head scans.
type BufferedRecordSet struct {
	table *Table
	first uint64
	last  uint64

	buf      BlockPtr
	bufFirst uint64
	nBuf     int

	recordSize int
	forward    bool
	empty      bool
}

func newBufferedRecordSet(table *Table, first, last uint64) *BufferedRecordSet {
	return &BufferedRecordSet{
		table:      table,
		first:      first,
		last:       last,
		recordSize: table.Schema().Size(),
		forward:    true,
	}
}

// EmptyBufferedRecordSet returns a set with no backing table; any record
// access fails with ErrEmptyRecordSet.
func EmptyBufferedRecordSet() *BufferedRecordSet {
	return &BufferedRecordSet{forward: true, empty: true}
}

// SetDirection sets the load direction; false buffers backwards from the
// cursor, for reverse scans.
func (b *BufferedRecordSet) SetDirection(forward bool) {
	b.forward = forward
}

// FirstRecordID returns the table ordinal of the set's first record.
func (b *BufferedRecordSet) FirstRecordID() uint64 { return b.first }

// Size returns the number of records spanned by the set.
func (b *BufferedRecordSet) Size() uint64 {
	if b.empty {
		return 0
	}
	return b.last - b.first + 1
}

// Record returns the i-th record of the set, counting from 0 within the set
// (not the table). The returned record owns its bytes and stays valid after
// the window moves.
func (b *BufferedRecordSet) Record(i uint64) (Record, error) {
	if b.empty {
		return Record{}, ErrEmptyRecordSet
	}
	if i > b.last-b.first {
		return Record{}, ErrIndexOutOfBounds
	}

	if b.buf.IsNil() || i < b.bufFirst || i > b.bufFirst+uint64(b.nBuf)-1 {
		if err := b.loadRecords(i, ScanBufferSize); err != nil {
			return Record{}, err
		}
	}

	blk := NewMemoryBlock(b.recordSize)
	ptr := NewBlockPtr(blk, 0)
	src := b.buf.Raw()[int(i-b.bufFirst)*b.recordSize:]
	ptr.CopyFrom(src[:b.recordSize])
	return NewRecordAt(ptr, b.table.Schema()), nil
}

func (b *BufferedRecordSet) loadRecords(i uint64, nrecords int) error {
	if b.forward {
		// Trim the window so it does not run past the set's end.
		if b.first+i+uint64(nrecords)-1 > b.last {
			nrecords = int(b.last - (b.first + i) + 1)
		}
		ptr, err := b.table.RecordsAsBlock(b.first+i, b.first+i+uint64(nrecords)-1)
		if err != nil {
			return err
		}
		b.buf = ptr
		b.bufFirst = i
		b.nBuf = nrecords
		return nil
	}

	// Reverse: the window ends at i and extends towards the set's head.
	if i < uint64(nrecords-1) {
		nrecords = int(i + 1)
	}
	ptr, err := b.table.RecordsAsBlock(b.first+i-uint64(nrecords-1), b.first+i)
	if err != nil {
		return err
	}
	b.buf = ptr
	b.bufFirst = i - uint64(nrecords-1)
	b.nBuf = nrecords
	return nil
}
