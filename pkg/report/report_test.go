package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/astromechza/roomboard/pkg/rooms"
)

func TestWriteProducesOneRowPerRoom(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	roster := []rooms.Room{
		{ID: "201", Category: rooms.CategoryGeneral, IsActive: true, IsCheckout: true, UpdatedAt: stamp},
		{ID: "202", Category: rooms.CategoryGeneral, IsActive: true, Notes: "baby cot"},
		{ID: "401", Category: rooms.CategorySpecial},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, roster, stamp))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 5)
	assert.Equal(t, "Room", rows[0][0])
	assert.Equal(t, []string{"201", "general", "yes", "yes"}, rows[1][:4])
	assert.Equal(t, "baby cot", rows[2][4])
	assert.Equal(t, "401", rows[3][0])

	last := rows[len(rows)-1]
	require.Len(t, last, 4)
	assert.Equal(t, "Progress", last[0])
	assert.Equal(t, "1/2", last[1])
}
