package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gridwell/gridwell/pkg/grid"
)

var (
	// ErrCanceled is returned when a computation observes cancellation
	// between batches. The partial results are to be discarded.
	ErrCanceled = errors.New("computation canceled")
)

// ProgressFunc reports computation progress as completed and total
// partition counts. It is called from partition goroutines and must be
// cheap and safe for concurrent use.
type ProgressFunc func(done, total int)

// ComputeOptions tunes one computation run. The zero value uses defaults.
type ComputeOptions struct {
	// Parallelism caps concurrently running partitions. Defaults to
	// runtime.NumCPU().
	Parallelism int

	// PartitionCount overrides the number of contiguous partitions the
	// units are split into. Defaults to Parallelism, capped by the unit
	// count.
	PartitionCount int

	// Progress, if set, receives partition completion updates.
	Progress ProgressFunc

	Logger *slog.Logger
}

func (o ComputeOptions) withDefaults(unitCount int) ComputeOptions {
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if o.PartitionCount <= 0 {
		o.PartitionCount = o.Parallelism
	}
	if o.PartitionCount > unitCount {
		o.PartitionCount = unitCount
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Compute applies a producer across the source's units and streams every
// present value into the sink.
//
// The units are split into contiguous partitions which run in parallel;
// within a partition the producer is invoked on consecutive batches of at
// most BatchSize units, in order. Batch invocations across the whole run
// are additionally capped by the producer's MaxConcurrency.
//
// Cancellation is cooperative: it is observed between batches, never
// mid-batch. A canceled run returns ErrCanceled and leaves the sink with
// partial content that the caller must discard. Any unit failure or sink
// failure aborts the run with that error.
func Compute[T any](ctx context.Context, source grid.UnitSource, producer Producer[T], sink Sink[T], opts ComputeOptions) error {
	units, err := source.Units()
	if err != nil {
		return fmt.Errorf("enumerate units: %w", err)
	}
	model := source.ColumnModel()
	if len(units) == 0 {
		return nil
	}
	opts = opts.withDefaults(len(units))

	batchSize := producer.BatchSize()
	if batchSize < 1 {
		batchSize = 1
	}

	// Per-producer cap on simultaneous batch invocations, shared by all
	// partitions. nil means unbounded.
	var batchSem *semaphore.Weighted
	if mc := producer.MaxConcurrency(); mc > 0 {
		batchSem = semaphore.NewWeighted(int64(mc))
	}

	parts := partition(units, opts.PartitionCount)
	opts.Logger.Debug("starting change data computation",
		"units", len(units),
		"partitions", len(parts),
		"batch_size", batchSize,
		"max_concurrency", producer.MaxConcurrency())

	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for _, part := range parts {
		part := part
		g.Go(func() error {
			if err := computePartition(gctx, part, producer, model, sink, batchSize, batchSem); err != nil {
				return err
			}
			done := completed.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(done), len(parts))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// A requested cancellation dominates whatever error it surfaced
		// as (an interrupted wait, a context error from a batch).
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
			return ErrCanceled
		}
		return err
	}
	return nil
}

// partition splits units into count contiguous slices of near-equal size.
func partition(units []grid.Unit, count int) [][]grid.Unit {
	if count < 1 {
		count = 1
	}
	parts := make([][]grid.Unit, 0, count)
	n := len(units)
	base := n / count
	rem := n % count
	start := 0
	for i := 0; i < count; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		parts = append(parts, units[start:start+size])
		start += size
	}
	return parts
}

func computePartition[T any](ctx context.Context, part []grid.Unit, producer Producer[T], model *grid.ColumnModel, sink Sink[T], batchSize int, batchSem *semaphore.Weighted) error {
	for start := 0; start < len(part); start += batchSize {
		end := min(start+batchSize, len(part))
		batch := part[start:end]

		// Cancellation is observed here, between batches.
		if err := ctx.Err(); err != nil {
			return ErrCanceled
		}

		if batchSem != nil {
			if err := batchSem.Acquire(ctx, 1); err != nil {
				return ErrCanceled
			}
		}
		results, err := ComputeBatch(ctx, producer, batch, model)
		if batchSem != nil {
			batchSem.Release(1)
		}
		if err != nil {
			return err
		}

		for i, r := range results {
			if r.Err != nil {
				return fmt.Errorf("unit %d: %w", batch[i].Index, r.Err)
			}
			if !r.Present {
				continue
			}
			if err := sink.Append(batch[i].Index, r.Value); err != nil {
				return fmt.Errorf("append unit %d: %w", batch[i].Index, err)
			}
		}
	}
	return nil
}
