package changes

import (
	"sort"
	"sync"
)

// IndexedValue pairs a change-data value with the absolute position of the
// unit it was computed for.
type IndexedValue[T any] struct {
	Index int
	Value T
}

// ChangeData is an ordered, partial mapping from unit index to computed
// value. Absent indices are valid: a producer may yield no value for a
// unit. A ChangeData is immutable once fully materialized.
type ChangeData[T any] struct {
	values []IndexedValue[T]
	byIdx  map[int]int
}

// NewChangeData builds a fully materialized sequence from indexed values.
// The input is sorted by index; duplicate indices are not permitted and
// keep the last value.
func NewChangeData[T any](values []IndexedValue[T]) *ChangeData[T] {
	sorted := make([]IndexedValue[T], len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	byIdx := make(map[int]int, len(sorted))
	for i, v := range sorted {
		byIdx[v.Index] = i
	}
	return &ChangeData[T]{values: sorted, byIdx: byIdx}
}

// Get returns the value at a unit index, if one was produced.
func (c *ChangeData[T]) Get(index int) (T, bool) {
	i, ok := c.byIdx[index]
	if !ok {
		var zero T
		return zero, false
	}
	return c.values[i].Value, true
}

// Len returns the number of present values.
func (c *ChangeData[T]) Len() int { return len(c.values) }

// Indexed returns the values in ascending index order.
func (c *ChangeData[T]) Indexed() []IndexedValue[T] {
	out := make([]IndexedValue[T], len(c.values))
	copy(out, c.values)
	return out
}

// Sink receives change-data values as partitions produce them. Appends may
// arrive from concurrent partition goroutines in arbitrary index order;
// implementations must serialize internally. Index assignment is positional,
// so a sink never needs to reorder, only to record.
type Sink[T any] interface {
	Append(index int, value T) error
}

// Collector is an in-memory Sink that materializes a ChangeData once the
// computation finishes.
type Collector[T any] struct {
	mu     sync.Mutex
	values []IndexedValue[T]
}

// Append implements Sink.
func (c *Collector[T]) Append(index int, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, IndexedValue[T]{Index: index, Value: value})
	return nil
}

// ChangeData returns the materialized sequence. Call only after the
// computation has completed; a canceled or failed computation's partial
// content must be discarded, not read.
func (c *Collector[T]) ChangeData() *ChangeData[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewChangeData(c.values)
}
