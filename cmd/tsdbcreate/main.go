// Command tsdbcreate creates a new store file and series, or a new series in
// an existing file.
//
//	Usage: tsdbcreate <filename> <series> (<field type> <field name>)...
//
// Field types are timestamp, date, int32, int8, double, char, record, and
// string(n). A timestamp field called _TSDB_timestamp is automatically added
// to the start of the field list; it orders the records in the series.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tsdb-io/tsdb"
	"github.com/tsdb-io/tsdb/container"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: tsdbcreate <filename> <series> (<field type> <field name>)...")
}

func run(args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "One or more fields required.")
		usage()
		return 1
	}
	if (len(args)-2)%2 != 0 {
		fmt.Fprintln(os.Stderr, "Each field must have a type and name.")
		usage()
		return 1
	}

	filename, series := args[0], args[1]

	fields := []*tsdb.Field{tsdb.NewTimestampField(tsdb.TimestampFieldName)}
	for i := 2; i < len(args); i += 2 {
		field, err := fieldFromArgs(args[i], args[i+1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fields = append(fields, field)
	}

	file, err := container.OpenOrCreate(filename, container.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store file %q: %v\n", filename, err)
		return 1
	}
	defer file.Close()

	// Packed layout, no alignment padding, for better space utilisation.
	schema := tsdb.NewSchema(fields, false)
	s, err := tsdb.CreateSeriesWithSchema(file.Root(), series, "", schema)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating series %q: %v\n", series, err)
		return 1
	}
	if err := s.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing series %q: %v\n", series, err)
		return 1
	}
	return 0
}

func fieldFromArgs(fieldType, fieldName string) (*tsdb.Field, error) {
	switch t := strings.ToUpper(fieldType); {
	case t == "TIMESTAMP":
		return tsdb.NewTimestampField(fieldName), nil
	case t == "DATE":
		return tsdb.NewDateField(fieldName), nil
	case t == "INT32":
		return tsdb.NewInt32Field(fieldName), nil
	case t == "INT8":
		return tsdb.NewInt8Field(fieldName), nil
	case t == "DOUBLE":
		return tsdb.NewDoubleField(fieldName), nil
	case t == "CHAR":
		return tsdb.NewCharField(fieldName), nil
	case t == "RECORD":
		return tsdb.NewRecordField(fieldName), nil
	case strings.HasPrefix(t, "STRING(") && strings.HasSuffix(t, ")"):
		size, err := strconv.Atoi(t[len("STRING(") : len(t)-1])
		if err != nil || size < 1 {
			return nil, fmt.Errorf("invalid string field size in %q", fieldType)
		}
		return tsdb.NewStringField(fieldName, size), nil
	}
	return nil, fmt.Errorf("incorrect field type %q", fieldType)
}
