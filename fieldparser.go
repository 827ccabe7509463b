package tsdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldParser parses one or more tokens of a delimited row into one field of
// a record. Parsers bind to their field's index once so per-row parsing does
// not pay for name lookups.
type FieldParser interface {
	// Bind resolves the parser's field name against the schema.
	Bind(schema *Schema) error
	// Parse writes the parsed token value into the record's bytes.
	Parse(tokens []string, record []byte) error
}

type baseFieldParser struct {
	fieldName string
	fieldID   int
	schema    *Schema

	missingOK          bool
	missingReplacement string
}

func (b *baseFieldParser) Bind(schema *Schema) error {
	id, err := schema.FieldIndex(b.fieldName)
	if err != nil {
		return err
	}
	b.fieldID = id
	b.schema = schema
	return nil
}

// SetMissingTokenReplacement substitutes the given text for any consumed
// token missing from a short row, instead of failing the row.
func (b *baseFieldParser) SetMissingTokenReplacement(s string) {
	b.missingOK = true
	b.missingReplacement = s
}

func (b *baseFieldParser) token(tokens []string, idx int) (string, error) {
	if idx >= len(tokens) {
		if b.missingOK {
			return b.missingReplacement, nil
		}
		return "", fmt.Errorf("field %q: token %d out of range (%d tokens)", b.fieldName, idx, len(tokens))
	}
	return tokens[idx], nil
}

func (b *baseFieldParser) bound() error {
	if b.schema == nil {
		return fmt.Errorf("field %q: parser not bound to a schema", b.fieldName)
	}
	return nil
}

// TimestampFieldParser joins one or more tokens with spaces and parses the
// result as a timestamp in UTC. The format accepts strptime-style tokens
// (%Y %m %d %H %M %S %F) or a plain Go reference layout.
type TimestampFieldParser struct {
	baseFieldParser
	consume []int
	layout  string
}

// NewTimestampFieldParser builds a timestamp parser over the given token
// indices.
func NewTimestampFieldParser(consume []int, format, fieldName string) *TimestampFieldParser {
	return &TimestampFieldParser{
		baseFieldParser: baseFieldParser{fieldName: fieldName},
		consume:         consume,
		layout:          translateTimeLayout(format),
	}
}

// translateTimeLayout converts strptime-style format tokens to a Go
// reference layout. Fractional-second tokens translate to nothing: the time
// parser accepts a fraction after the seconds field on its own. Strings
// without % pass through as Go layouts.
func translateTimeLayout(format string) string {
	if !strings.Contains(format, "%") {
		return format
	}
	replacer := strings.NewReplacer(
		"%Y", "2006",
		"%y", "06",
		"%m", "01",
		"%d", "02",
		"%H", "15",
		"%M", "04",
		"%S", "05",
		"%F", "",
		"%f", "",
		"%%", "%",
	)
	return replacer.Replace(format)
}

func (p *TimestampFieldParser) Parse(tokens []string, record []byte) error {
	if err := p.bound(); err != nil {
		return err
	}

	parts := make([]string, len(p.consume))
	for i, idx := range p.consume {
		tok, err := p.token(tokens, idx)
		if err != nil {
			return err
		}
		parts[i] = tok
	}
	joined := strings.Join(parts, " ")

	t, err := time.Parse(p.layout, joined)
	if err != nil {
		return fmt.Errorf("field %q: parsing timestamp %q: %w", p.fieldName, joined, err)
	}

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(TimestampFromTime(t.UTC())))
	p.schema.SetMember(record, 0, p.fieldID, b[:])
	return nil
}

// StringFieldParser splices one or more tokens (joined with spaces) into a
// fixed-length string field, truncating to the field width and zero-filling
// the remainder.
type StringFieldParser struct {
	baseFieldParser
	consume []int
}

// NewStringFieldParser builds a string parser over the given token indices.
func NewStringFieldParser(consume []int, fieldName string) *StringFieldParser {
	return &StringFieldParser{
		baseFieldParser: baseFieldParser{fieldName: fieldName},
		consume:         consume,
	}
}

func (p *StringFieldParser) Parse(tokens []string, record []byte) error {
	if err := p.bound(); err != nil {
		return err
	}

	parts := make([]string, len(p.consume))
	for i, idx := range p.consume {
		tok, err := p.token(tokens, idx)
		if err != nil {
			return err
		}
		parts[i] = tok
	}
	joined := strings.Join(parts, " ")

	size := p.schema.FieldSize(p.fieldID)
	buf := make([]byte, size)
	copy(buf, joined)
	p.schema.SetMember(record, 0, p.fieldID, buf)
	return nil
}

// Int32FieldParser parses a single token as a signed 32-bit integer.
type Int32FieldParser struct {
	baseFieldParser
	consume int
}

// NewInt32FieldParser builds an int32 parser for one token index.
func NewInt32FieldParser(token int, fieldName string) *Int32FieldParser {
	return &Int32FieldParser{baseFieldParser: baseFieldParser{fieldName: fieldName}, consume: token}
}

func (p *Int32FieldParser) Parse(tokens []string, record []byte) error {
	if err := p.bound(); err != nil {
		return err
	}
	tok, err := p.token(tokens, p.consume)
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(strings.Trim(tok, " "), 10, 32)
	if err != nil {
		return fmt.Errorf("field %q: parsing %q as int32: %w", p.fieldName, tok, err)
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
	p.schema.SetMember(record, 0, p.fieldID, b[:])
	return nil
}

// Int8FieldParser parses a single token as a signed 8-bit integer.
type Int8FieldParser struct {
	baseFieldParser
	consume int
}

// NewInt8FieldParser builds an int8 parser for one token index.
func NewInt8FieldParser(token int, fieldName string) *Int8FieldParser {
	return &Int8FieldParser{baseFieldParser: baseFieldParser{fieldName: fieldName}, consume: token}
}

func (p *Int8FieldParser) Parse(tokens []string, record []byte) error {
	if err := p.bound(); err != nil {
		return err
	}
	tok, err := p.token(tokens, p.consume)
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(strings.Trim(tok, " "), 10, 64)
	if err != nil {
		return fmt.Errorf("field %q: parsing %q as int8: %w", p.fieldName, tok, err)
	}
	if v > 127 || v < -127 {
		return fmt.Errorf("field %q: integer %d out of int8 bounds", p.fieldName, v)
	}
	p.schema.SetMember(record, 0, p.fieldID, []byte{byte(int8(v))})
	return nil
}

// CharFieldParser parses a single token as one byte character.
type CharFieldParser struct {
	baseFieldParser
	consume int
}

// NewCharFieldParser builds a char parser for one token index.
func NewCharFieldParser(token int, fieldName string) *CharFieldParser {
	return &CharFieldParser{baseFieldParser: baseFieldParser{fieldName: fieldName}, consume: token}
}

func (p *CharFieldParser) Parse(tokens []string, record []byte) error {
	if err := p.bound(); err != nil {
		return err
	}
	tok, err := p.token(tokens, p.consume)
	if err != nil {
		return err
	}
	var c byte
	if len(tok) > 0 {
		c = tok[0]
	}
	p.schema.SetMember(record, 0, p.fieldID, []byte{c})
	return nil
}

// DoubleFieldParser parses a single token as an IEEE-754 binary64 value. A
// blank or all-space token stores a quiet NaN, the missing-value marker.
type DoubleFieldParser struct {
	baseFieldParser
	consume int
}

// NewDoubleFieldParser builds a double parser for one token index.
func NewDoubleFieldParser(token int, fieldName string) *DoubleFieldParser {
	return &DoubleFieldParser{baseFieldParser: baseFieldParser{fieldName: fieldName}, consume: token}
}

func (p *DoubleFieldParser) Parse(tokens []string, record []byte) error {
	if err := p.bound(); err != nil {
		return err
	}
	tok, err := p.token(tokens, p.consume)
	if err != nil {
		return err
	}
	tok = strings.Trim(tok, " ")

	var v float64
	if tok == "" {
		v = math.NaN()
	} else {
		v, err = strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("field %q: parsing %q as double: %w", p.fieldName, tok, err)
		}
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	p.schema.SetMember(record, 0, p.fieldID, b[:])
	return nil
}
