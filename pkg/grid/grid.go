// Package grid defines the minimal data model the change-data engine sees:
// cells, rows, records and the column schema, plus the contracts the
// dataset collaborator must satisfy to feed units into a computation.
//
// The engine never mutates a grid. It only reads a stable snapshot of the
// selected units and produces derived values to be merged back by the
// history layer.
package grid

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnNotFound is returned when a column name does not resolve.
	ErrColumnNotFound = errors.New("column not found")
)

// ColumnID identifies a column independently of its display name.
type ColumnID string

// ColumnMetadata describes a single column of the schema.
type ColumnMetadata struct {
	ID   ColumnID `json:"id"`
	Name string   `json:"name"`
}

// ColumnModel is an immutable snapshot of the column schema at the time a
// computation starts. Producers receive the same snapshot for every unit.
type ColumnModel struct {
	columns []ColumnMetadata
	byName  map[string]int
}

// NewColumnModel builds a column model from an ordered list of columns.
func NewColumnModel(columns []ColumnMetadata) *ColumnModel {
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		byName[c.Name] = i
	}
	cols := make([]ColumnMetadata, len(columns))
	copy(cols, columns)
	return &ColumnModel{columns: cols, byName: byName}
}

// Columns returns the ordered column list.
func (m *ColumnModel) Columns() []ColumnMetadata {
	cols := make([]ColumnMetadata, len(m.columns))
	copy(cols, m.columns)
	return cols
}

// ColumnCount returns the number of columns.
func (m *ColumnModel) ColumnCount() int { return len(m.columns) }

// IndexByName returns the position of a column, or an error if absent.
func (m *ColumnModel) IndexByName(name string) (int, error) {
	i, ok := m.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return i, nil
}

// ColumnByName returns the metadata of a named column, or nil if absent.
func (m *ColumnModel) ColumnByName(name string) *ColumnMetadata {
	i, ok := m.byName[name]
	if !ok {
		return nil
	}
	c := m.columns[i]
	return &c
}

// Cell is one value of the grid. A cell either holds a concrete value or a
// typed evaluation error; both are storable and survive a round trip through
// the change-data store. A nil *Cell means "no value at all".
type Cell struct {
	Value any    `json:"v,omitempty"`
	Err   string `json:"e,omitempty"`
}

// NewCell returns a cell holding a concrete value.
func NewCell(value any) *Cell { return &Cell{Value: value} }

// NewErrorCell returns a cell holding a typed error value. Error cells are
// distinct from absent cells: they are stored and displayed.
func NewErrorCell(err error) *Cell { return &Cell{Err: err.Error()} }

// IsError reports whether the cell carries an error value.
func (c *Cell) IsError() bool { return c != nil && c.Err != "" }

// IsBlank reports whether the cell is absent or holds no data.
func (c *Cell) IsBlank() bool {
	if c == nil {
		return true
	}
	if c.Err != "" {
		return false
	}
	if c.Value == nil {
		return true
	}
	if s, ok := c.Value.(string); ok {
		return s == ""
	}
	return false
}

func (c *Cell) String() string {
	if c == nil {
		return ""
	}
	if c.Err != "" {
		return fmt.Sprintf("#error: %s", c.Err)
	}
	return fmt.Sprintf("%v", c.Value)
}

// Row is one logical row: a fixed-width slice of cells matching the column
// model. Rows handed to producers are snapshots and must not be mutated.
type Row struct {
	cells []*Cell
}

// NewRow builds a row from its cells. The slice is not copied; callers hand
// over ownership.
func NewRow(cells []*Cell) Row { return Row{cells: cells} }

// Cell returns the cell at the given column index, or nil when out of range.
func (r Row) Cell(index int) *Cell {
	if index < 0 || index >= len(r.cells) {
		return nil
	}
	return r.cells[index]
}

// Width returns the number of cells in the row.
func (r Row) Width() int { return len(r.cells) }

// Record groups a leading row with its dependent sub-rows, as produced by
// the grid's records mode. Index refers to the leading row's position.
type Record struct {
	Index int
	Rows  []Row
}

// Unit is one input to a change-data producer: a row or a record together
// with its absolute position in the selection.
type Unit struct {
	Index  int
	Row    Row
	Record *Record
}

// UnitSource enumerates the selected units of a grid in a stable order.
// Implementations are provided by the dataset collaborator (e.g. a filter
// engine); the change-data engine only requires that two enumerations of
// the same source yield the same units at the same indices.
type UnitSource interface {
	// Units returns the selected units in ascending index order.
	Units() ([]Unit, error)

	// ColumnModel returns the schema snapshot the units were read under.
	ColumnModel() *ColumnModel
}

// SliceSource is an in-memory UnitSource over a fixed row slice, used by
// tests and by callers that already materialized their selection.
type SliceSource struct {
	Model *ColumnModel
	Rows  []Row
}

// Units implements UnitSource.
func (s *SliceSource) Units() ([]Unit, error) {
	units := make([]Unit, len(s.Rows))
	for i, r := range s.Rows {
		units[i] = Unit{Index: i, Row: r}
	}
	return units, nil
}

// ColumnModel implements UnitSource.
func (s *SliceSource) ColumnModel() *ColumnModel { return s.Model }
