// Package tsdb implements an append-mostly, timestamp-ordered record store on
// top of a hierarchical binary container. A series is a sequence of
// fixed-width records in ascending timestamp order, optionally accompanied by
// a sparse secondary index mapping timestamps to record ordinals. Series are
// created once and grow by append; lookups run by record ordinal or by
// timestamp range, and large ranges stream through a bounded-memory buffered
// view.
package tsdb
