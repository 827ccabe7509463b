package tsdb

import (
	"fmt"

	"github.com/tsdb-io/tsdb/container"
)

const (
	// AppendBufferSize is the number of records the record-level append path
	// accumulates before a physical write.
	AppendBufferSize = 1000

	// tableChunkRecords is the container chunk size for table datasets.
	tableChunkRecords = 4096
)

// Table is an append/read interface to one fixed-schema record array stored
// in a container group. The schema is persisted through FIELD_<i>_TYPE and
// FIELD_<i>_NAME attributes, which are authoritative when the table is
// reopened.
type Table struct {
	group  *container.Group
	ds     *container.Dataset
	name   string
	title  string
	schema *Schema

	appendBuf  *MemoryBlock
	nAppendBuf int
}

// CreateTable creates a new table in the group and persists its schema
// attributes.
func CreateTable(group *container.Group, name, title string, schema *Schema) (*Table, error) {
	infos := make([]container.FieldInfo, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		infos[i] = schema.Field(i).containerInfo(schema.Offset(i))
	}

	ds, err := group.CreateTable(name, schema.Size(), infos, tableChunkRecords)
	if err != nil {
		return nil, &TableError{Op: "create " + name, Err: err}
	}

	if err := group.SetAttr(name, "TITLE", title); err != nil {
		return nil, &TableError{Op: "create " + name, Err: err}
	}
	for i := 0; i < schema.NumFields(); i++ {
		f := schema.Field(i)
		if err := group.SetAttr(name, fmt.Sprintf("FIELD_%d_TYPE", i), f.TypeName()); err != nil {
			return nil, &TableError{Op: "create " + name, Err: err}
		}
		if err := group.SetAttr(name, fmt.Sprintf("FIELD_%d_NAME", i), f.Name()); err != nil {
			return nil, &TableError{Op: "create " + name, Err: err}
		}
	}

	return &Table{group: group, ds: ds, name: name, title: title, schema: schema}, nil
}

// OpenTable opens an existing table and rebuilds its schema from the stored
// type attributes and the dataset's persisted offsets.
func OpenTable(group *container.Group, name string) (*Table, error) {
	ds, err := group.OpenDataset(name)
	if err != nil {
		return nil, &TableError{Op: "open " + name, Err: err}
	}

	title, err := group.Attr(name, "TITLE")
	if err != nil {
		return nil, &TableError{Op: "open " + name + ": missing TITLE attribute", Err: err}
	}

	layout := ds.Fields()
	fields := make([]*Field, len(layout))
	offsets := make([]int, len(layout))
	for i := range layout {
		typeName, err := group.Attr(name, fmt.Sprintf("FIELD_%d_TYPE", i))
		if err != nil {
			return nil, &TableError{Op: fmt.Sprintf("open %s: missing FIELD_%d_TYPE attribute", name, i), Err: err}
		}
		fieldName, err := group.Attr(name, fmt.Sprintf("FIELD_%d_NAME", i))
		if err != nil {
			return nil, &TableError{Op: fmt.Sprintf("open %s: missing FIELD_%d_NAME attribute", name, i), Err: err}
		}
		f, err := FieldFromTypeName(typeName, fieldName)
		if err != nil {
			return nil, &TableError{Op: "open " + name, Err: err}
		}
		fields[i] = f
		offsets[i] = layout[i].Offset
	}

	schema, err := NewSchemaWithOffsets(fields, offsets, ds.Stride())
	if err != nil {
		return nil, &TableError{Op: "open " + name, Err: err}
	}

	return &Table{group: group, ds: ds, name: name, title: title, schema: schema}, nil
}

// TableExists reports whether a table of that name exists in the group. The
// probe silences the container's error reporting.
func TableExists(group *container.Group, name string) bool {
	return group.DatasetExists(name)
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Title returns the table's title attribute.
func (t *Table) Title() string { return t.title }

// Schema returns the table's schema.
func (t *Table) Schema() *Schema { return t.schema }

// Size returns the number of records persisted in the table. Records held in
// the append buffer are not counted until flushed.
func (t *Table) Size() (uint64, error) {
	n, err := t.ds.NumRecords()
	if err != nil {
		return 0, &TableError{Op: "size " + t.name, Err: err}
	}
	return n, nil
}

// AppendRecords appends n records from buf to the table.
func (t *Table) AppendRecords(n int, buf []byte) error {
	if err := t.ds.Append(n, buf); err != nil {
		return &TableError{Op: "append " + t.name, Err: err}
	}
	return nil
}

// AppendRecord adds one record to the append buffer, flushing it when full.
// The record must use the table's schema instance.
func (t *Table) AppendRecord(rec Record) error {
	if rec.Schema() != t.schema {
		return ErrSchemaMismatch
	}

	if !t.appendBuf.IsAllocated() {
		t.appendBuf = NewMemoryBlock(t.schema.Size() * AppendBufferSize)
		t.nAppendBuf = 0
	}

	copy(t.appendBuf.Raw()[t.schema.Size()*t.nAppendBuf:], rec.Bytes())
	t.nAppendBuf++

	if t.nAppendBuf == AppendBufferSize {
		return t.FlushAppendBuffer()
	}
	return nil
}

// FlushAppendBuffer writes any buffered records out. It is a no-op on an
// empty buffer. The buffer is not cleared if the write fails.
func (t *Table) FlushAppendBuffer() error {
	if !t.appendBuf.IsAllocated() || t.nAppendBuf == 0 {
		return nil
	}
	if err := t.AppendRecords(t.nAppendBuf, t.appendBuf.Raw()); err != nil {
		return err
	}
	t.nAppendBuf = 0
	return nil
}

// AppendBufferLen returns the number of records waiting in the append buffer.
func (t *Table) AppendBufferLen() int { return t.nAppendBuf }

// Close flushes the append buffer. Callers abandoning a table without Close
// lose buffered records.
func (t *Table) Close() error {
	return t.FlushAppendBuffer()
}

// RecordsAsBlock reads records first through last (inclusive) into a newly
// allocated block.
func (t *Table) RecordsAsBlock(first, last uint64) (BlockPtr, error) {
	size, err := t.Size()
	if err != nil {
		return BlockPtr{}, err
	}
	if first >= size || last >= size {
		return BlockPtr{}, &TableError{Op: "read " + t.name, Err: ErrIndexOutOfBounds}
	}
	if last < first {
		return BlockPtr{}, &TableError{Op: "read " + t.name, Err: ErrRangeInverted}
	}

	n := int(last - first + 1)
	blk := NewMemoryBlock(n * t.schema.Size())
	if err := t.ds.Read(first, n, blk.Raw()); err != nil {
		return BlockPtr{}, &TableError{Op: "read " + t.name, Err: err}
	}
	return NewBlockPtr(blk, 0), nil
}

// RecordSetRange reads records first through last (inclusive) into an
// in-memory record set.
func (t *Table) RecordSetRange(first, last uint64) (RecordSet, error) {
	ptr, err := t.RecordsAsBlock(first, last)
	if err != nil {
		return RecordSet{}, err
	}
	return NewRecordSetAt(ptr, int(last-first+1), t.schema), nil
}

// BufferedRecordSetRange returns a lazily loaded window over records first
// through last (inclusive).
func (t *Table) BufferedRecordSetRange(first, last uint64) *BufferedRecordSet {
	return newBufferedRecordSet(t, first, last)
}

// LastRecord reads the table's final record. ok is false when the table is
// empty.
func (t *Table) LastRecord() (rec Record, ok bool, err error) {
	size, err := t.Size()
	if err != nil {
		return Record{}, false, err
	}
	if size == 0 {
		return Record{}, false, nil
	}
	ptr, err := t.RecordsAsBlock(size-1, size-1)
	if err != nil {
		return Record{}, false, err
	}
	return NewRecordAt(ptr, t.schema), true, nil
}
