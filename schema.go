package tsdb

import (
	"fmt"
	"strings"
)

// alignWord is the alignment boundary applied between fields when a schema is
// built with memory alignment enabled.
const alignWord = 4

// Schema is an ordered list of fields with computed offsets and a total
// record size. It plays the role of a runtime-defined struct layout. Schemas
// are shared across tables, record sets and records, and compare by identity.
type Schema struct {
	fields  []*Field
	offsets []int
	size    int
}

// NewSchema builds a schema from fields in declaration order. With align set,
// each field's end offset is rounded up to a multiple of the alignment word
// before the next field is placed; without it, fields pack tightly.
func NewSchema(fields []*Field, align bool) *Schema {
	s := &Schema{fields: fields, offsets: make([]int, len(fields))}
	offset := 0
	for i, f := range fields {
		s.offsets[i] = offset
		offset += f.Size()
		if align && offset%alignWord != 0 {
			offset += alignWord - offset%alignWord
		}
	}
	s.size = offset
	return s
}

// NewSchemaWithOffsets builds a schema from caller-supplied offsets and total
// size, used when reopening a table whose layout is already persisted.
func NewSchemaWithOffsets(fields []*Field, offsets []int, size int) (*Schema, error) {
	if len(fields) != len(offsets) {
		return nil, fmt.Errorf("schema has %d fields but %d offsets", len(fields), len(offsets))
	}
	for i, f := range fields {
		if offsets[i] < 0 || offsets[i]+f.Size() > size {
			return nil, fmt.Errorf("field %q at offset %d does not fit in record size %d",
				f.Name(), offsets[i], size)
		}
	}
	return &Schema{fields: fields, offsets: offsets, size: size}, nil
}

// NumFields returns the number of fields.
func (s *Schema) NumFields() int { return len(s.fields) }

// Field returns the i-th field.
func (s *Schema) Field(i int) *Field { return s.fields[i] }

// Offset returns the byte offset of the i-th field within a record.
func (s *Schema) Offset(i int) int { return s.offsets[i] }

// FieldSize returns the byte size of the i-th field.
func (s *Schema) FieldSize(i int) int { return s.fields[i].Size() }

// Size returns the total record size in bytes.
func (s *Schema) Size() int { return s.size }

// FieldNames returns the names of all fields in order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name()
	}
	return names
}

// TypeNames returns the persisted type names of all fields in order.
func (s *Schema) TypeNames() []string {
	types := make([]string, len(s.fields))
	for i, f := range s.fields {
		types[i] = f.TypeName()
	}
	return types
}

// FieldIndex finds a field by name. Names are case-sensitive; the first
// match wins.
func (s *Schema) FieldIndex(name string) (int, error) {
	for i, f := range s.fields {
		if f.Name() == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrFieldNotFound, name)
}

// Member returns the bytes of field ifield in the irecord-th record of a
// record array starting at buf.
func (s *Schema) Member(buf []byte, irecord, ifield int) []byte {
	start := s.size*irecord + s.offsets[ifield]
	return buf[start : start+s.fields[ifield].Size()]
}

// SetMember copies the field's width of bytes from src into field ifield of
// the irecord-th record.
func (s *Schema) SetMember(buf []byte, irecord, ifield int, src []byte) {
	copy(s.Member(buf, irecord, ifield), src)
}

// RecordsString renders n records starting at buf, joining fields with
// fieldDelim and records with recordDelim.
func (s *Schema) RecordsString(buf []byte, n int, fieldDelim, recordDelim string) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(recordDelim)
		}
		for j, f := range s.fields {
			if j > 0 {
				sb.WriteString(fieldDelim)
			}
			sb.WriteString(f.Format(s.Member(buf, i, j)))
		}
	}
	return sb.String()
}
