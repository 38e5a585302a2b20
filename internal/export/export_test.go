package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
)

func sampleRows() []Row {
	return Rows([]analytics.StudentStat{
		{UserID: "S1", Name: "Asha", Total: 3, Attended: 2},
		{UserID: "S2", Name: "Ravi, Jr.", Total: 4, Attended: 4},
	})
}

func TestRows_RoundsPercent(t *testing.T) {
	rows := sampleRows()
	assert.Equal(t, 66.67, rows[0].Percent)
	assert.Equal(t, 100.0, rows[1].Percent)
}

func TestLookup(t *testing.T) {
	f, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "csv", f.Name)
	assert.Equal(t, "attendance_report.csv", f.Filename())

	f, err = Lookup("XLSX")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", f.Name)

	_, err = Lookup("docx")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, []string{"S1", "Asha", "3", "2", "66.67"}, records[1])
	assert.Equal(t, "Ravi, Jr.", records[2][1])
}

func TestWriteCSV_EmptyHasHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "User ID,Name,Total Classes,Attended Classes,Attendance Percentage\n", buf.String())
}

func TestWritePDF(t *testing.T) {
	f, err := Lookup("pdf")
	require.NoError(t, err)
	out, err := f.Render(sampleRows())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	empty, err := f.Render(nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(empty, []byte("%PDF-")))
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleRows()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{"S1", "Asha", "3", "2", "66.67"}, rows[1])
}

func TestLineChartPNG(t *testing.T) {
	png, err := LineChartPNG("Weekly Attendance Rate", "Week", nil)
	require.NoError(t, err)
	assert.Nil(t, png)
	assert.Empty(t, Base64(png))

	png, err = LineChartPNG("Weekly Attendance Rate", "Week", []analytics.Point{{X: "2024-W10", Y: 50}})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	png, err = LineChartPNG("Weekly Attendance Rate", "Week", []analytics.Point{
		{X: "2024-W10", Y: 50}, {X: "2024-W11", Y: 100}, {X: "2024-W12", Y: 0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, Base64(png))
}
