package tsdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Cell is a typed view of one field's bytes inside a shared record buffer.
// Reads and assignments follow an explicit conversion matrix; anything
// outside it fails with ErrTypeConversion. Writes assume the caller holds an
// exclusive handle to the underlying buffer.
type Cell struct {
	ptr  BlockPtr
	kind Kind
	size int
}

// NewCell wraps an existing buffer view as a cell of the given kind. The
// size matters only for string cells.
func NewCell(ptr BlockPtr, kind Kind, size int) Cell {
	return Cell{ptr: ptr, kind: kind, size: size}
}

// NewOwnedCell allocates a standalone cell of the given kind.
func NewOwnedCell(kind Kind) Cell {
	var size int
	switch kind {
	case KindTimestamp, KindDouble, KindRecord:
		size = 8
	case KindDate, KindInt32:
		size = 4
	case KindInt8, KindChar:
		size = 1
	default:
		return Cell{kind: KindUndefined}
	}
	return Cell{ptr: NewBlockPtr(NewMemoryBlock(size), 0), kind: kind, size: size}
}

// Kind returns the cell's field kind.
func (c Cell) Kind() Kind { return c.kind }

func (c Cell) raw() []byte { return c.ptr.Raw() }

func convErr(from Kind, to string) error {
	return fmt.Errorf("%w: cannot convert %v to %s", ErrTypeConversion, from, to)
}

// Float64 reads the cell as a double. Double, Int32, Int8, Timestamp and
// Date cells convert.
func (c Cell) Float64() (float64, error) {
	b := c.raw()
	switch c.kind {
	case KindDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case KindInt32:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case KindInt8:
		return float64(int8(b[0])), nil
	case KindTimestamp:
		return float64(int64(binary.LittleEndian.Uint64(b))), nil
	case KindDate:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	}
	return 0, convErr(c.kind, "double")
}

// Int32 reads the cell as a 32-bit integer. Int32, Int8 and Date cells
// convert.
func (c Cell) Int32() (int32, error) {
	b := c.raw()
	switch c.kind {
	case KindInt32:
		return int32(binary.LittleEndian.Uint32(b)), nil
	case KindInt8:
		return int32(int8(b[0])), nil
	case KindDate:
		return int32(binary.LittleEndian.Uint32(b)), nil
	}
	return 0, convErr(c.kind, "int32")
}

// Int8 reads the cell as an 8-bit integer. Only Int8 cells convert.
func (c Cell) Int8() (int8, error) {
	if c.kind != KindInt8 {
		return 0, convErr(c.kind, "int8")
	}
	return int8(c.raw()[0]), nil
}

// Char reads the cell as a byte character. Only Char cells convert.
func (c Cell) Char() (byte, error) {
	if c.kind != KindChar {
		return 0, convErr(c.kind, "char")
	}
	return c.raw()[0], nil
}

// Timestamp reads the cell as a millisecond timestamp. Timestamp cells read
// directly; Date cells convert to start-of-day UTC.
func (c Cell) Timestamp() (int64, error) {
	b := c.raw()
	switch c.kind {
	case KindTimestamp:
		return int64(binary.LittleEndian.Uint64(b)), nil
	case KindDate:
		return int64(int32(binary.LittleEndian.Uint32(b))) * millisPerDay, nil
	}
	return 0, convErr(c.kind, "timestamp")
}

// Date reads the cell as a day number. Only Date cells convert.
func (c Cell) Date() (int32, error) {
	if c.kind != KindDate {
		return 0, convErr(c.kind, "date")
	}
	return int32(binary.LittleEndian.Uint32(c.raw())), nil
}

// RecordID reads the cell as a record ordinal. Only Record cells convert.
func (c Cell) RecordID() (uint64, error) {
	if c.kind != KindRecord {
		return 0, convErr(c.kind, "record id")
	}
	return binary.LittleEndian.Uint64(c.raw()), nil
}

// SetFloat64 assigns a double to the cell. Double cells store it directly;
// Int32 and Int8 cells truncate the fractional part and bounds-check the
// result.
func (c Cell) SetFloat64(v float64) error {
	b := c.raw()
	switch c.kind {
	case KindDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return nil
	case KindInt32:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return fmt.Errorf("%w: double %g out of int32 range", ErrTypeConversion, v)
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		return nil
	case KindInt8:
		if v > 127 || v < -127 {
			return fmt.Errorf("%w: double %g out of int8 range", ErrTypeConversion, v)
		}
		b[0] = byte(int8(v))
		return nil
	}
	return convErr(c.kind, "assignment from double")
}

// SetTimestamp assigns a millisecond timestamp. Only Timestamp cells accept
// 64-bit assignment.
func (c Cell) SetTimestamp(ms int64) error {
	if c.kind != KindTimestamp {
		return convErr(c.kind, "assignment from int64")
	}
	binary.LittleEndian.PutUint64(c.raw(), uint64(ms))
	return nil
}

// SetInt8 assigns an 8-bit integer. Int8, Int32, Double and Char cells
// accept it; for Char the bit pattern is preserved.
func (c Cell) SetInt8(v int8) error {
	b := c.raw()
	switch c.kind {
	case KindInt8:
		b[0] = byte(v)
		return nil
	case KindInt32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		return nil
	case KindDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
		return nil
	case KindChar:
		b[0] = byte(v)
		return nil
	}
	return convErr(c.kind, "assignment from int8")
}

// SetChar assigns a byte character. Only Char cells accept it.
func (c Cell) SetChar(v byte) error {
	if c.kind != KindChar {
		return convErr(c.kind, "assignment from char")
	}
	c.raw()[0] = v
	return nil
}

// SetInt32 assigns a 32-bit integer. Int32 and Date cells store it
// directly; Int8 cells bounds-check; Timestamp cells treat the value as a
// day number and convert to start-of-day UTC; Double cells widen.
func (c Cell) SetInt32(v int32) error {
	b := c.raw()
	switch c.kind {
	case KindInt32:
		binary.LittleEndian.PutUint32(b, uint32(v))
		return nil
	case KindInt8:
		if v > 127 || v < -127 {
			return fmt.Errorf("%w: int32 %d out of int8 range", ErrTypeConversion, v)
		}
		b[0] = byte(int8(v))
		return nil
	case KindDate:
		binary.LittleEndian.PutUint32(b, uint32(v))
		return nil
	case KindTimestamp:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)*millisPerDay))
		return nil
	case KindDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
		return nil
	}
	return convErr(c.kind, "assignment from int32")
}

// SetRecordID assigns a record ordinal. Only Record cells accept it.
func (c Cell) SetRecordID(v uint64) error {
	if c.kind != KindRecord {
		return convErr(c.kind, "assignment from record id")
	}
	binary.LittleEndian.PutUint64(c.raw(), v)
	return nil
}

// SetText parses a string into the cell. Char cells take the first byte (or
// NUL for an empty string); Double, Int8 and Int32 cells use a
// locale-independent numeric parse with bounds checks; String cells copy up
// to the field width and zero-fill the remainder.
func (c Cell) SetText(s string) error {
	b := c.raw()
	switch c.kind {
	case KindChar:
		if len(s) > 0 {
			b[0] = s[0]
		} else {
			b[0] = 0
		}
		return nil
	case KindDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("%w: parsing %q as double: %v", ErrTypeConversion, s, err)
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return nil
	case KindInt8:
		v, err := strconv.ParseInt(s, 10, 8)
		if err != nil {
			return fmt.Errorf("%w: parsing %q as int8: %v", ErrTypeConversion, s, err)
		}
		b[0] = byte(int8(v))
		return nil
	case KindInt32:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: parsing %q as int32: %v", ErrTypeConversion, s, err)
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		return nil
	case KindString:
		n := len(s)
		if n > c.size {
			n = c.size
		}
		for i := 0; i < c.size; i++ {
			b[i] = 0
		}
		copy(b, s[:n])
		return nil
	}
	return convErr(c.kind, "assignment from string")
}

// String renders the cell's value using its kind's string form.
func (c Cell) String() string {
	f := Field{kind: c.kind, size: c.size}
	return f.Format(c.raw())
}
