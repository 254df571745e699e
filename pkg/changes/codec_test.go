package changes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwell/gridwell/pkg/changes"
	"github.com/gridwell/gridwell/pkg/grid"
)

func TestCellCodec_ErrorCellSurvivesRoundTrip(t *testing.T) {
	t.Parallel()

	codec := changes.CellCodec{}
	payload, err := codec.Marshal(&grid.Cell{Err: "connection refused"})
	require.NoError(t, err)

	cell, err := codec.Unmarshal(payload)
	require.NoError(t, err)
	assert.True(t, cell.IsError())
	assert.Equal(t, "connection refused", cell.Err)
	assert.False(t, cell.IsBlank(), "an error cell is not blank")
}

func TestAvroCellCodec_ValueCell(t *testing.T) {
	t.Parallel()

	codec, err := changes.NewAvroCellCodec()
	require.NoError(t, err)
	assert.Equal(t, "cell-avro", codec.Name())

	payload, err := codec.Marshal(grid.NewCell("hello"))
	require.NoError(t, err)

	cell, err := codec.Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, "hello", cell.Value)
	assert.False(t, cell.IsError())
}

func TestCellCodec_NilCellRejected(t *testing.T) {
	t.Parallel()

	_, err := changes.CellCodec{}.Marshal(nil)
	assert.Error(t, err)
}

func TestChangeData_GetAndOrder(t *testing.T) {
	t.Parallel()

	data := changes.NewChangeData([]changes.IndexedValue[string]{
		{Index: 9, Value: "i"},
		{Index: 2, Value: "c"},
		{Index: 5, Value: "f"},
	})
	assert.Equal(t, 3, data.Len())

	indexed := data.Indexed()
	assert.Equal(t, []int{2, 5, 9}, []int{indexed[0].Index, indexed[1].Index, indexed[2].Index})

	v, ok := data.Get(5)
	require.True(t, ok)
	assert.Equal(t, "f", v)

	_, ok = data.Get(4)
	assert.False(t, ok)
}
