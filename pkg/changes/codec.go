package changes

import (
	"encoding/json"
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/gridwell/gridwell/pkg/grid"
)

// Serializer turns change-data values into opaque payloads for the store.
// The store never inspects payloads; serialization is pluggable per value
// type.
type Serializer[T any] interface {
	// Name identifies the serializer so history entries can reference the
	// codec their change data was written with.
	Name() string

	Marshal(value T) ([]byte, error)
}

// Deserializer reverses a Serializer.
type Deserializer[T any] interface {
	Unmarshal(payload []byte) (T, error)
}

// CellCodec reads and writes cells as JSON. It is the default codec for
// cell-valued change data.
type CellCodec struct{}

func (CellCodec) Name() string { return "cell-json" }

func (CellCodec) Marshal(cell *grid.Cell) ([]byte, error) {
	if cell == nil {
		return nil, fmt.Errorf("cannot serialize nil cell")
	}
	return json.Marshal(cell)
}

func (CellCodec) Unmarshal(payload []byte) (*grid.Cell, error) {
	var cell grid.Cell
	if err := json.Unmarshal(payload, &cell); err != nil {
		return nil, fmt.Errorf("decode cell: %w", err)
	}
	return &cell, nil
}

// avroCellSchema is the writer schema for string-valued cells. Cells
// produced by fetch-style operations hold text responses or error values,
// so non-nil values are stored in their string form.
const avroCellSchema = `{
	"type": "record",
	"name": "Cell",
	"fields": [
		{"name": "value", "type": ["null", "string"], "default": null},
		{"name": "error", "type": ["null", "string"], "default": null}
	]
}`

type avroCell struct {
	Value *string `avro:"value"`
	Error *string `avro:"error"`
}

// AvroCellCodec reads and writes string-valued cells in Avro binary form,
// for callers that keep change data in an Avro-based toolchain.
type AvroCellCodec struct {
	schema avro.Schema
}

// NewAvroCellCodec parses the cell schema once for reuse.
func NewAvroCellCodec() (*AvroCellCodec, error) {
	schema, err := avro.Parse(avroCellSchema)
	if err != nil {
		return nil, fmt.Errorf("parse cell schema: %w", err)
	}
	return &AvroCellCodec{schema: schema}, nil
}

func (c *AvroCellCodec) Name() string { return "cell-avro" }

func (c *AvroCellCodec) Marshal(cell *grid.Cell) ([]byte, error) {
	if cell == nil {
		return nil, fmt.Errorf("cannot serialize nil cell")
	}
	var rec avroCell
	if cell.Err != "" {
		e := cell.Err
		rec.Error = &e
	}
	if cell.Value != nil {
		s := fmt.Sprintf("%v", cell.Value)
		rec.Value = &s
	}
	return avro.Marshal(c.schema, rec)
}

func (c *AvroCellCodec) Unmarshal(payload []byte) (*grid.Cell, error) {
	var rec avroCell
	if err := avro.Unmarshal(c.schema, payload, &rec); err != nil {
		return nil, fmt.Errorf("decode cell: %w", err)
	}
	cell := &grid.Cell{}
	if rec.Error != nil {
		cell.Err = *rec.Error
	}
	if rec.Value != nil {
		cell.Value = *rec.Value
	}
	return cell, nil
}
