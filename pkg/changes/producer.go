// Package changes implements the change-data computation engine: producer
// contracts, the ordered change-data sequence they fill, and the partitioned
// batch scheduler that drives producers with bounded concurrency.
package changes

import (
	"context"
	"fmt"

	"github.com/gridwell/gridwell/pkg/grid"
)

// Mode selects how change data is merged back into the grid.
type Mode int

const (
	// RowBased change data maps one value per row.
	RowBased Mode = iota

	// RecordBased change data maps one value per record.
	RecordBased
)

func (m Mode) String() string {
	switch m {
	case RowBased:
		return "rows"
	case RecordBased:
		return "records"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Result is the outcome of computing change data for one unit.
//
// The three cases are distinct and never conflated:
//   - Present true: a value was computed (possibly an error value the
//     producer chose to store).
//   - Present false, Err nil: the producer legitimately yielded no value.
//   - Err non-nil: an unrecoverable failure; the whole computation aborts.
type Result[T any] struct {
	Value   T
	Present bool
	Err     error
}

// Value returns a present result.
func Value[T any](v T) Result[T] { return Result[T]{Value: v, Present: true} }

// Absent returns an empty result. Absent is not an error.
func Absent[T any]() Result[T] { return Result[T]{} }

// Failure returns a failed result. A failed unit aborts the computation;
// producers that want to continue must map errors to a value or to Absent
// themselves (the engine never retries on their behalf).
func Failure[T any](err error) Result[T] { return Result[T]{Err: err} }

// Producer computes one derived value per unit. Implementations must be
// safe for concurrent calls across distinct units and hold no shared
// mutable state unless internally synchronized.
//
// Producers are pure data holders reconstructable from configuration; any
// internal cache or client is initialized explicitly, not captured state.
type Producer[T any] interface {
	// Compute returns the derived value for a single unit given the
	// column schema snapshot. The context carries the run's cancellation
	// signal for producers with interruptible waits; cancellation is
	// otherwise only observed between batches.
	Compute(ctx context.Context, unit grid.Unit, model *grid.ColumnModel) Result[T]

	// BatchSize is the largest batch the producer wants to be invoked
	// with. Smaller batches are permitted at partition tails. Minimum 1.
	BatchSize() int

	// MaxConcurrency caps simultaneous batch invocations across the whole
	// computation. 0 means unbounded.
	MaxConcurrency() int

	// ColumnDependencies lists the columns the producer reads. nil means
	// no restriction; non-nil means any column outside the set may be
	// stale, and callers must not feed such columns as fresh. This layer
	// does not enforce the contract at runtime.
	ColumnDependencies() []grid.ColumnID
}

// BatchProducer is implemented by producers with a batch-capable backend
// (e.g. a bulk network API). ComputeBatch must return exactly one result
// per input unit, in input order; a missing value is an Absent result,
// never a shorter slice.
type BatchProducer[T any] interface {
	Producer[T]

	ComputeBatch(ctx context.Context, units []grid.Unit, model *grid.ColumnModel) []Result[T]
}

// ComputeBatch invokes the producer on a batch, using its batch override
// when available and element-wise Compute otherwise.
func ComputeBatch[T any](ctx context.Context, p Producer[T], units []grid.Unit, model *grid.ColumnModel) ([]Result[T], error) {
	if bp, ok := p.(BatchProducer[T]); ok {
		results := bp.ComputeBatch(ctx, units, model)
		if len(results) != len(units) {
			return nil, fmt.Errorf("batch producer returned %d results for %d units", len(results), len(units))
		}
		return results, nil
	}
	results := make([]Result[T], len(units))
	for i, u := range units {
		results[i] = p.Compute(ctx, u, model)
	}
	return results, nil
}

// ProducerDefaults carries the default producer attributes: batch size 1,
// unbounded concurrency, no column restriction. Embed it and override what
// the producer actually needs.
type ProducerDefaults struct{}

func (ProducerDefaults) BatchSize() int                        { return 1 }
func (ProducerDefaults) MaxConcurrency() int                   { return 0 }
func (ProducerDefaults) ColumnDependencies() []grid.ColumnID   { return nil }
