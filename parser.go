package tsdb

import (
	"errors"
	"strings"
)

// RecordParser turns delimited text rows into binary records. Token filters
// run first, in the order added, and can exclude a row before any parsing
// effort is spent on it; field parsers then fill in the record's fields.
type RecordParser struct {
	schema  *Schema
	filters []*TokenFilter
	parsers []FieldParser

	delim  string
	escape string
	quote  string
	simple bool

	tokenbuf []string
}

// NewRecordParser returns a parser with the default comma delimiter,
// backslash escape, and single/double quote characters.
func NewRecordParser() *RecordParser {
	return &RecordParser{
		delim:  ",",
		escape: "\\",
		quote:  `"'`,
	}
}

// SetSchema links the parser to a record schema and rebinds any field
// parsers already added.
func (p *RecordParser) SetSchema(schema *Schema) error {
	p.schema = schema
	for _, fp := range p.parsers {
		if err := fp.Bind(schema); err != nil {
			p.schema = nil
			return err
		}
	}
	return nil
}

// Schema returns the linked schema, nil if none is set.
func (p *RecordParser) Schema() *Schema { return p.schema }

// AddFieldParser appends a field parser and binds it to the schema. The
// parser must be linked to a schema first.
func (p *RecordParser) AddFieldParser(fp FieldParser) error {
	if p.schema == nil {
		return errors.New("record parser: not linked to a schema")
	}
	if err := fp.Bind(p.schema); err != nil {
		return err
	}
	p.parsers = append(p.parsers, fp)
	return nil
}

// AddTokenFilter appends a token filter. Filters run before field parsers.
func (p *RecordParser) AddTokenFilter(f *TokenFilter) {
	p.filters = append(p.filters, f)
}

// SetDelimiter sets the field delimiter characters. Any character of the
// string acts as a delimiter.
func (p *RecordParser) SetDelimiter(delim string) { p.delim = delim }

// SetEscapeChars sets the escape characters for extended parsing.
func (p *RecordParser) SetEscapeChars(escape string) { p.escape = escape }

// SetQuoteChars sets the quote characters for extended parsing.
func (p *RecordParser) SetQuoteChars(quote string) { p.quote = quote }

// SetSimpleParse switches between the simple tokenizer (plain split, fast)
// and the extended escape/quote-aware tokenizer.
func (p *RecordParser) SetSimpleParse(simple bool) { p.simple = simple }

// ParseTokens runs the token filters, then the field parsers, writing the
// result into record. It returns false with no error when a filter excluded
// the row.
func (p *RecordParser) ParseTokens(tokens []string, record []byte) (bool, error) {
	if p.schema == nil {
		return false, errors.New("record parser: not linked to a schema")
	}

	for _, f := range p.filters {
		excluded, err := f.Evaluate(tokens)
		if err != nil {
			return false, err
		}
		if excluded {
			return false, nil
		}
	}

	for i := range record[:p.schema.Size()] {
		record[i] = 0
	}

	for _, fp := range p.parsers {
		if err := fp.Parse(tokens, record); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ParseLine tokenizes one line under the configured mode and parses the
// tokens into record.
func (p *RecordParser) ParseLine(line string, record []byte) (bool, error) {
	if p.simple {
		p.tokenizeSimple(line)
	} else {
		if err := p.tokenizeExtended(line); err != nil {
			return false, err
		}
	}
	return p.ParseTokens(p.tokenbuf, record)
}

// tokenizeSimple splits on the delimiter characters with no escape or quote
// handling. Empty tokens are kept.
func (p *RecordParser) tokenizeSimple(line string) {
	p.tokenbuf = p.tokenbuf[:0]
	start := 0
	for i := 0; i < len(line); i++ {
		if strings.IndexByte(p.delim, line[i]) >= 0 {
			p.tokenbuf = append(p.tokenbuf, line[start:i])
			start = i + 1
		}
	}
	p.tokenbuf = append(p.tokenbuf, line[start:])
}

// tokenizeExtended splits on the delimiter characters, honouring escape
// characters (an escaped n produces a newline) and quoted tokens that may
// contain delimiters.
func (p *RecordParser) tokenizeExtended(line string) error {
	p.tokenbuf = p.tokenbuf[:0]
	var sb strings.Builder
	var quoteCh byte
	inQuote := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case strings.IndexByte(p.escape, c) >= 0:
			if i+1 >= len(line) {
				return errors.New("record parser: dangling escape character")
			}
			i++
			if line[i] == 'n' {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(line[i])
			}
		case inQuote && c == quoteCh:
			inQuote = false
		case !inQuote && strings.IndexByte(p.quote, c) >= 0:
			inQuote = true
			quoteCh = c
		case !inQuote && strings.IndexByte(p.delim, c) >= 0:
			p.tokenbuf = append(p.tokenbuf, sb.String())
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	if inQuote {
		return errors.New("record parser: unterminated quote")
	}
	p.tokenbuf = append(p.tokenbuf, sb.String())
	return nil
}
