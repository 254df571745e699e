package changes

import "fmt"

// AppendWriter is the store-facing half of a streaming sink: something that
// accepts opaque payloads under unit indices. *store.Writer satisfies it.
type AppendWriter interface {
	Append(index int, payload []byte) error
}

// SerializingSink marshals values through a Serializer and streams the
// payloads into an AppendWriter. It is the bridge between a computation and
// the durable store.
type SerializingSink[T any] struct {
	w     AppendWriter
	codec Serializer[T]
}

// NewSerializingSink builds a sink writing through codec into w.
func NewSerializingSink[T any](w AppendWriter, codec Serializer[T]) *SerializingSink[T] {
	return &SerializingSink[T]{w: w, codec: codec}
}

// Append implements Sink.
func (s *SerializingSink[T]) Append(index int, value T) error {
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("serialize value at %d: %w", index, err)
	}
	return s.w.Append(index, payload)
}
