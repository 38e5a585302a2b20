// Package export renders the per-student attendance report as CSV, PDF or
// XLSX, and draws trend charts as PNG.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
)

// Columns is the fixed column order of every export format.
var Columns = []string{"User ID", "Name", "Total Classes", "Attended Classes", "Attendance Percentage"}

// Row is one student line of the report.
type Row struct {
	UserID   string
	Name     string
	Total    int
	Attended int
	// Percent is rounded to two places.
	Percent float64
}

// Rows converts analytics stats into report rows.
func Rows(stats []analytics.StudentStat) []Row {
	out := make([]Row, 0, len(stats))
	for _, s := range stats {
		out = append(out, Row{
			UserID:   s.UserID,
			Name:     s.Name,
			Total:    s.Total,
			Attended: s.Attended,
			Percent:  analytics.Round2(s.Percent()),
		})
	}
	return out
}

func (r Row) cells() []string {
	return []string{
		r.UserID,
		r.Name,
		strconv.Itoa(r.Total),
		strconv.Itoa(r.Attended),
		strconv.FormatFloat(r.Percent, 'f', -1, 64),
	}
}

// Format is a supported export encoding.
type Format struct {
	Name        string
	ContentType string
	write       func(io.Writer, []Row) error
}

// Filename is the attachment name served for this format.
func (f Format) Filename() string { return "attendance_report." + f.Name }

var formats = map[string]Format{
	"csv":  {Name: "csv", ContentType: "text/csv", write: WriteCSV},
	"pdf":  {Name: "pdf", ContentType: "application/pdf", write: WritePDF},
	"xlsx": {Name: "xlsx", ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", write: WriteXLSX},
}

// Lookup resolves a format name; empty means csv.
func Lookup(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "csv"
	}
	f, ok := formats[name]
	if !ok {
		return Format{}, apperr.Validation("Unsupported export format. Use csv, pdf or xlsx.")
	}
	return f, nil
}

// Render encodes rows into a buffer.
func (f Format) Render(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.write(&buf, rows); err != nil {
		return nil, fmt.Errorf("export %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// WriteCSV writes a header line and one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.cells()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var pdfWidths = []float64{35, 60, 30, 35, 40}

// WritePDF writes a single table with a shaded header row.
func WritePDF(w io.Writer, rows []Row) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Attendance Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(128, 128, 128)
	pdf.SetTextColor(245, 245, 245)
	for i, col := range Columns {
		pdf.CellFormat(pdfWidths[i], 10, col, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetFillColor(245, 245, 220)
	pdf.SetTextColor(0, 0, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, r := range rows {
		for i, cell := range r.cells() {
			pdf.CellFormat(pdfWidths[i], 8, tr(cell), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	return pdf.Output(w)
}

const xlsxSheet = "Attendance"

// WriteXLSX writes one sheet with a header row; numeric columns stay numeric.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return err
	}
	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{r.UserID, r.Name, r.Total, r.Attended, r.Percent}
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
