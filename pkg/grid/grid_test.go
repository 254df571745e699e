package grid_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwell/gridwell/pkg/grid"
)

func TestColumnModel_Lookup(t *testing.T) {
	t.Parallel()
	model := grid.NewColumnModel([]grid.ColumnMetadata{
		{ID: "c1", Name: "city"},
		{ID: "c2", Name: "country"},
	})

	i, err := model.IndexByName("country")
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, err = model.IndexByName("missing")
	assert.ErrorIs(t, err, grid.ErrColumnNotFound)

	assert.Equal(t, 2, model.ColumnCount())
	assert.Nil(t, model.ColumnByName("missing"))
	require.NotNil(t, model.ColumnByName("city"))
	assert.Equal(t, grid.ColumnID("c1"), model.ColumnByName("city").ID)
}

func TestCell_BlankAndErrorSemantics(t *testing.T) {
	t.Parallel()

	var nilCell *grid.Cell
	assert.True(t, nilCell.IsBlank())
	assert.False(t, nilCell.IsError())

	assert.True(t, grid.NewCell("").IsBlank())
	assert.True(t, grid.NewCell(nil).IsBlank())
	assert.False(t, grid.NewCell("x").IsBlank())

	errCell := grid.NewErrorCell(errors.New("fetch failed"))
	assert.True(t, errCell.IsError())
	// an error cell carries data; it is not blank
	assert.False(t, errCell.IsBlank())
	assert.Contains(t, errCell.String(), "fetch failed")
}

func TestRow_CellOutOfRangeIsNil(t *testing.T) {
	t.Parallel()
	row := grid.NewRow([]*grid.Cell{grid.NewCell("a")})

	assert.Equal(t, 1, row.Width())
	assert.Nil(t, row.Cell(-1))
	assert.Nil(t, row.Cell(1))
	require.NotNil(t, row.Cell(0))
}

func TestSliceSource_UnitsAreIndexedInOrder(t *testing.T) {
	t.Parallel()
	model := grid.NewColumnModel([]grid.ColumnMetadata{{ID: "c0", Name: "v"}})
	src := &grid.SliceSource{
		Model: model,
		Rows: []grid.Row{
			grid.NewRow([]*grid.Cell{grid.NewCell("a")}),
			grid.NewRow([]*grid.Cell{grid.NewCell("b")}),
		},
	}

	units, err := src.Units()
	require.NoError(t, err)
	require.Len(t, units, 2)
	for i, u := range units {
		assert.Equal(t, i, u.Index)
	}
}
