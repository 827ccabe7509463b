package tsdb

// Record is one fixed-width record viewed through a shared buffer. A record
// holds a BlockPtr into its buffer and the schema describing the layout; it
// does not own the buffer unless it was allocated with NewRecord.
type Record struct {
	ptr    BlockPtr
	schema *Schema
}

// NewRecord allocates a zeroed record for the schema.
func NewRecord(schema *Schema) Record {
	blk := NewMemoryBlock(schema.Size())
	return Record{ptr: NewBlockPtr(blk, 0), schema: schema}
}

// NewRecordAt wraps an existing buffer view as a record of the schema.
func NewRecordAt(ptr BlockPtr, schema *Schema) Record {
	return Record{ptr: ptr, schema: schema}
}

// Schema returns the record's schema.
func (r Record) Schema() *Schema { return r.schema }

// BlockPtr returns the record's view into its buffer.
func (r Record) BlockPtr() BlockPtr { return r.ptr }

// Bytes returns the record's raw bytes.
func (r Record) Bytes() []byte {
	return r.ptr.Raw()[:r.schema.Size()]
}

// Cell returns a typed cell for field i.
func (r Record) Cell(i int) Cell {
	f := r.schema.Field(i)
	return NewCell(r.ptr.At(r.schema.Offset(i)), f.Kind(), f.Size())
}

// CellByName returns a typed cell for the named field.
func (r Record) CellByName(name string) (Cell, error) {
	i, err := r.schema.FieldIndex(name)
	if err != nil {
		return Cell{}, err
	}
	return r.Cell(i), nil
}

// CopyValuesFrom copies the other record's bytes into this record. The two
// records must share the same schema instance.
func (r Record) CopyValuesFrom(other Record) error {
	if r.schema != other.schema {
		return ErrSchemaMismatch
	}
	r.ptr.CopyFrom(other.Bytes())
	return nil
}

// String renders the record's fields joined by commas.
func (r Record) String() string {
	return r.schema.RecordsString(r.Bytes(), 1, ",", "")
}
