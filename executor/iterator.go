package executor

import (
	"context"

	"github.com/relational/dbcore/common"
)

// Iterator is the pull-based operator contract every plan node compiles
// to (spec §4.8 "open(), next() -> row | EOF, close()"). Next returns
// io.EOF once exhausted, the conventional Go sentinel for "no more
// values," so callers can use errors.Is the same way they would for any
// other exhausted reader.
type Iterator interface {
	// Open prepares the operator to produce rows: acquiring locks,
	// opening child iterators, building a hash table, and so on.
	Open(ctx context.Context) error
	// Next returns the next row, or io.EOF when exhausted. ctx is
	// checked at each operator's safe points (spec §5 "next() returns a
	// cancellation signal at the next safe point"): between input rows
	// for a pipelining operator, between materialize and drain for a
	// blocking one.
	Next(ctx context.Context) (Row, error)
	// Close releases any resource Open acquired (temp files, hash
	// tables, index scan cursors). Safe to call more than once.
	Close() error
	// Schema describes this operator's output row shape.
	Schema() Schema
}

// checkCancelled returns ctx.Err() wrapped as a Cancelled engine error
// if ctx has been cancelled or has timed out, nil otherwise.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return common.NewError(common.KindCancelled, "executor", ctx.Err())
	default:
		return nil
	}
}
