package tsdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/prometheus/model/timestamp"

	"github.com/tsdb-io/tsdb/container"
)

// Kind identifies the semantic type of a field. All kinds are fixed-width
// binary values stored little-endian.
type Kind int

const (
	KindUndefined Kind = iota
	// KindTimestamp is a signed 64-bit count of milliseconds since
	// 1970-01-01T00:00:00 UTC, with no leap seconds.
	KindTimestamp
	// KindDate is a signed 32-bit count of days since 1970-01-01.
	KindDate
	// KindInt8 is a signed 8-bit integer.
	KindInt8
	// KindInt32 is a signed 32-bit integer.
	KindInt32
	// KindDouble is an IEEE-754 binary64 value. Missing values are quiet-NaN.
	KindDouble
	// KindChar is a single byte character.
	KindChar
	// KindString is a fixed-length, zero-padded byte string.
	KindString
	// KindRecord is an unsigned 64-bit record ordinal.
	KindRecord
)

// millisPerDay converts date numbers to start-of-day UTC timestamps.
const millisPerDay = 86400 * 1000

func (k Kind) String() string {
	switch k {
	case KindTimestamp:
		return "Timestamp"
	case KindDate:
		return "Date"
	case KindInt8:
		return "Int8"
	case KindInt32:
		return "Int32"
	case KindDouble:
		return "Double"
	case KindChar:
		return "Char"
	case KindString:
		return "String"
	case KindRecord:
		return "Record"
	}
	return "Undefined"
}

// Field describes one typed field of a record: its kind, byte size and name.
// Fields are immutable after creation.
type Field struct {
	name string
	kind Kind
	size int
}

// NewTimestampField returns a millisecond-timestamp field.
func NewTimestampField(name string) *Field { return &Field{name: name, kind: KindTimestamp, size: 8} }

// NewDateField returns a day-number date field.
func NewDateField(name string) *Field { return &Field{name: name, kind: KindDate, size: 4} }

// NewInt8Field returns a signed 8-bit integer field.
func NewInt8Field(name string) *Field { return &Field{name: name, kind: KindInt8, size: 1} }

// NewInt32Field returns a signed 32-bit integer field.
func NewInt32Field(name string) *Field { return &Field{name: name, kind: KindInt32, size: 4} }

// NewDoubleField returns an IEEE-754 binary64 field.
func NewDoubleField(name string) *Field { return &Field{name: name, kind: KindDouble, size: 8} }

// NewCharField returns a one-byte character field.
func NewCharField(name string) *Field { return &Field{name: name, kind: KindChar, size: 1} }

// NewRecordField returns a record-ordinal field.
func NewRecordField(name string) *Field { return &Field{name: name, kind: KindRecord, size: 8} }

// NewStringField returns a fixed-length string field of n bytes.
func NewStringField(name string, n int) *Field { return &Field{name: name, kind: KindString, size: n} }

// Name returns the field name.
func (f *Field) Name() string { return f.name }

// Kind returns the field kind.
func (f *Field) Kind() Kind { return f.kind }

// Size returns the field width in bytes.
func (f *Field) Size() int { return f.size }

// TypeName returns the field's persisted type name, one of Timestamp, Date,
// Int8, Int32, Double, Char, Record, or String(n).
func (f *Field) TypeName() string {
	switch f.kind {
	case KindTimestamp:
		return "Timestamp"
	case KindDate:
		return "Date"
	case KindInt8:
		return "Int8"
	case KindInt32:
		return "Int32"
	case KindDouble:
		return "Double"
	case KindChar:
		return "Char"
	case KindRecord:
		return "Record"
	case KindString:
		return fmt.Sprintf("String(%d)", f.size)
	}
	return "Undefined"
}

// containerInfo returns the field's layout descriptor for the container, the
// opaque type token the container stores alongside names and offsets.
func (f *Field) containerInfo(offset int) container.FieldInfo {
	fi := container.FieldInfo{Name: f.name, Size: f.size, Offset: offset}
	switch f.kind {
	case KindTimestamp, KindDate, KindInt8, KindInt32, KindChar:
		fi.Class = container.ClassInt
	case KindDouble:
		fi.Class = container.ClassFloat
	case KindRecord:
		fi.Class = container.ClassUint
	case KindString:
		fi.Class = container.ClassString
	}
	return fi
}

// FieldFromTypeName reconstructs a field from a persisted type name. This is
// how a table's schema is rebuilt from its FIELD_<i>_TYPE attributes on open.
func FieldFromTypeName(typeName, name string) (*Field, error) {
	switch typeName {
	case "Timestamp":
		return NewTimestampField(name), nil
	case "Date":
		return NewDateField(name), nil
	case "Int8":
		return NewInt8Field(name), nil
	case "Int32":
		return NewInt32Field(name), nil
	case "Double":
		return NewDoubleField(name), nil
	case "Char":
		return NewCharField(name), nil
	case "Record":
		return NewRecordField(name), nil
	}
	if strings.HasPrefix(typeName, "String(") && strings.HasSuffix(typeName, ")") {
		n, err := strconv.Atoi(typeName[len("String(") : len(typeName)-1])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid string field size in %q", typeName)
		}
		return NewStringField(name, n), nil
	}
	return nil, fmt.Errorf("unsupported field type %q", typeName)
}

// Format renders the field's binary value b as a string. Timestamps use ISO
// format truncated to milliseconds; dates use YYYY-MM-DD; record ordinals
// render as hex.
func (f *Field) Format(b []byte) string {
	switch f.kind {
	case KindTimestamp:
		ms := int64(binary.LittleEndian.Uint64(b))
		return FormatTimestamp(ms)
	case KindDate:
		days := int32(binary.LittleEndian.Uint32(b))
		return time.UnixMilli(int64(days) * millisPerDay).UTC().Format("2006-01-02")
	case KindInt8:
		return strconv.Itoa(int(int8(b[0])))
	case KindInt32:
		return strconv.Itoa(int(int32(binary.LittleEndian.Uint32(b))))
	case KindDouble:
		v := math.Float64frombits(binary.LittleEndian.Uint64(b))
		return strconv.FormatFloat(v, 'g', -1, 64)
	case KindChar:
		return string(b[:1])
	case KindRecord:
		return "0x" + strconv.FormatUint(binary.LittleEndian.Uint64(b), 16)
	case KindString:
		s := b[:f.size]
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return string(s)
	}
	return "Undef"
}

// FormatTimestamp renders a millisecond timestamp as an ISO string truncated
// to millisecond precision.
func FormatTimestamp(ms int64) string {
	return timestamp.Time(ms).UTC().Format("2006-01-02T15:04:05.000")
}

// TimestampFromTime converts a time.Time to a millisecond timestamp.
func TimestampFromTime(t time.Time) int64 {
	return timestamp.FromTime(t)
}
