package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func attendanceDataset() Dataset {
	return Dataset{
		Title:   "Attendance Report",
		Headers: []string{"Roll", "Name", "Present", "Percentage"},
		Rows: []map[string]string{
			{"Roll": "H-001", "Name": "Asha", "Present": "20", "Percentage": "95.24"},
			{"Roll": "H-002", "Name": "Ben", "Present": "12"},
		},
	}
}

func TestCSVExporterOrdersByHeader(t *testing.T) {
	out, err := NewCSVExporter().Render(attendanceDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Roll,Name,Present,Percentage", lines[0])
	assert.Equal(t, "H-002,Ben,12,", lines[2])
}

func TestXLSXExporterWritesNumbers(t *testing.T) {
	out, err := NewXLSXExporter().Render(attendanceDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Report", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Attendance Report", title)

	header, err := f.GetCellValue("Report", "B3")
	require.NoError(t, err)
	assert.Equal(t, "Name", header)

	present, err := f.GetCellValue("Report", "C4")
	require.NoError(t, err)
	assert.Equal(t, "20", present)
}

func TestPDFExporterProducesDocument(t *testing.T) {
	out, err := NewPDFExporter().Render(attendanceDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRejectsEmptyHeaders(t *testing.T) {
	for _, f := range []Format{FormatCSV, FormatXLSX, FormatPDF} {
		_, err := Render(f, Dataset{})
		assert.Error(t, err, string(f))
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}
