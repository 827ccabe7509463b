// Package container implements the hierarchical binary container that backs
// time-series files: a tree of named groups, fixed-stride record datasets with
// chunked storage, and string attributes, all persisted in a single SQLite
// database file.
package container
