package tsdb

import "errors"

var (
	// ErrFieldNotFound is returned when a schema lookup by name finds no field.
	ErrFieldNotFound = errors.New("field not found")

	// ErrTypeConversion is returned by cell reads and assignments outside the
	// supported conversion matrix, and by unparseable or out-of-range values.
	ErrTypeConversion = errors.New("unsupported type conversion")

	// ErrSeriesExists is returned when creating a series that already exists.
	ErrSeriesExists = errors.New("series already exists")

	// ErrSeriesNotFound is returned when opening a series that does not exist.
	ErrSeriesNotFound = errors.New("series not found")

	// ErrInvalidSchema is returned when a series schema does not start with a
	// timestamp field.
	ErrInvalidSchema = errors.New("invalid series schema")

	// ErrOverlap is returned by batch appends that reach before the series
	// tail when overlap discarding is disabled.
	ErrOverlap = errors.New("records overlap existing data")

	// ErrMisorderedAppend is returned by the record-level append path when a
	// record's timestamp precedes the last buffered timestamp.
	ErrMisorderedAppend = errors.New("misordered timestamp append")

	// ErrRangeInverted is returned when a start timestamp is after the end.
	ErrRangeInverted = errors.New("start timestamp after end timestamp")

	// ErrIndexOutOfBounds is returned for record accesses outside a set.
	ErrIndexOutOfBounds = errors.New("record index out of bounds")

	// ErrEmptyRecordSet is returned for accesses on an uninitialised set.
	ErrEmptyRecordSet = errors.New("empty record set")

	// ErrSchemaMismatch is returned when a record's schema is not the table's
	// schema. Schemas compare by identity, not by structure.
	ErrSchemaMismatch = errors.New("record schema does not match table schema")
)

// TableError wraps a container failure with the table operation that hit it.
type TableError struct {
	Op  string
	Err error
}

func (e *TableError) Error() string { return "table: " + e.Op + ": " + e.Err.Error() }

func (e *TableError) Unwrap() error { return e.Err }
