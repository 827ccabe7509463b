package tsdb

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// The XML parser definition drives the import tool. A minimal example:
//
//	<?xml version="1.0" encoding="UTF-8" ?>
//	<dataimport>
//	<delimparser field_delim=",">
//	    <tokenfilter tokens="2" comparison="NE" value="USD/JPY" />
//	    <fieldparser name="_TSDB_timestamp" type="timestamp" tokens="0,1" format_string="%Y/%m/%d %H:%M:%S%F" />
//	    <fieldparser name="price" type="double" tokens="3" />
//	</delimparser>
//	</dataimport>
type parseSpec struct {
	XMLName     xml.Name        `xml:"dataimport"`
	DelimParser delimParserSpec `xml:"delimparser"`
}

type delimParserSpec struct {
	FieldDelim   string            `xml:"field_delim,attr"`
	EscapeChars  string            `xml:"escape_chars,attr"`
	QuoteChars   string            `xml:"quote_chars,attr"`
	ParseMode    string            `xml:"parse_mode,attr"`
	TokenFilters []tokenFilterSpec `xml:"tokenfilter"`
	FieldParsers []fieldParserSpec `xml:"fieldparser"`
}

type tokenFilterSpec struct {
	Tokens     string `xml:"tokens,attr"`
	Comparison string `xml:"comparison,attr"`
	Value      string `xml:"value,attr"`
}

type fieldParserSpec struct {
	Name         string  `xml:"name,attr"`
	Type         string  `xml:"type,attr"`
	Tokens       string  `xml:"tokens,attr"`
	FormatString string  `xml:"format_string,attr"`
	MissingToken *string `xml:"missing_token_replacement,attr"`
}

func parseTokenList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	tokens := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid token list %q: %w", s, err)
		}
		tokens = append(tokens, n)
	}
	return tokens, nil
}

// RecordParserFromSpecFile reads an XML parser definition and builds a
// RecordParser bound to the given schema.
func RecordParserFromSpecFile(path string, schema *Schema) (*RecordParser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening parse spec: %w", err)
	}
	defer f.Close()
	return RecordParserFromSpec(f, schema)
}

// RecordParserFromSpec builds a RecordParser from an XML parser definition.
func RecordParserFromSpec(r io.Reader, schema *Schema) (*RecordParser, error) {
	var spec parseSpec
	if err := xml.NewDecoder(r).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decoding parse spec: %w", err)
	}

	p := NewRecordParser()
	if err := p.SetSchema(schema); err != nil {
		return nil, err
	}

	dp := spec.DelimParser
	delim := dp.FieldDelim
	if delim == "" {
		delim = ","
	}
	escape := dp.EscapeChars
	if escape == "" {
		escape = "\\"
	}
	quote := dp.QuoteChars
	if quote == "" {
		quote = `"'`
	}

	if dp.ParseMode == "extended" {
		p.SetSimpleParse(false)
		p.SetDelimiter(delim)
		p.SetEscapeChars(escape)
		p.SetQuoteChars(quote)
	} else {
		p.SetSimpleParse(true)
		p.SetDelimiter(delim[:1])
	}

	for _, tf := range dp.TokenFilters {
		tokens, err := parseTokenList(tf.Tokens)
		if err != nil {
			return nil, err
		}
		var op Comparison
		switch tf.Comparison {
		case "EQ":
			op = EqualTo
		case "NE":
			op = NotEqualTo
		default:
			return nil, fmt.Errorf("unrecognised token filter comparison %q", tf.Comparison)
		}
		filter, err := NewTokenFilter(tokens, op, tf.Value)
		if err != nil {
			return nil, err
		}
		p.AddTokenFilter(filter)
	}

	for _, fp := range dp.FieldParsers {
		tokens, err := parseTokenList(fp.Tokens)
		if err != nil {
			return nil, err
		}

		var parser FieldParser
		switch fp.Type {
		case "timestamp":
			parser = NewTimestampFieldParser(tokens, fp.FormatString, fp.Name)
		case "string":
			parser = NewStringFieldParser(tokens, fp.Name)
		case "int32":
			parser = NewInt32FieldParser(tokens[0], fp.Name)
		case "int8":
			parser = NewInt8FieldParser(tokens[0], fp.Name)
		case "double":
			parser = NewDoubleFieldParser(tokens[0], fp.Name)
		case "char":
			parser = NewCharFieldParser(tokens[0], fp.Name)
		default:
			return nil, fmt.Errorf("unrecognised field parser type %q", fp.Type)
		}

		if fp.MissingToken != nil {
			type missingSetter interface{ SetMissingTokenReplacement(string) }
			parser.(missingSetter).SetMissingTokenReplacement(*fp.MissingToken)
		}

		if err := p.AddFieldParser(parser); err != nil {
			return nil, err
		}
	}

	return p, nil
}
