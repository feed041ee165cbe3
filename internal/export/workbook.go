package export

import (
	"fmt"
	"io"

	"cityshift/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	hoursSheet   = "Hours"
)

// Filename returns the attachment name for a day's workbook.
func Filename(date string) string {
	return fmt.Sprintf("occupancy_%s.xlsx", date)
}

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel limits sheet names to 31 characters.
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *sheetWriter) writeRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

// WriteWorkbook writes an XLSX with a per-city summary sheet and an
// hour-by-city occupancy sheet.
func WriteWorkbook(days []models.CityDay, out io.Writer) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet(summarySheet); err != nil {
		return err
	}
	if err := w.writeHeader([]string{"City", "Date", "Workers", "Submitted", "Non-working hours", "Peak hour", "Peak count"}); err != nil {
		return err
	}
	for _, d := range days {
		if err := w.writeRow(summaryRowValues(d)); err != nil {
			return err
		}
	}

	if err := w.addSheet(hoursSheet); err != nil {
		return err
	}
	header := []string{"Hour"}
	for _, d := range days {
		header = append(header, d.City)
	}
	if err := w.writeHeader(header); err != nil {
		return err
	}
	for _, row := range hourRows(days) {
		if err := w.writeRow(row); err != nil {
			return err
		}
	}

	return w.file.Write(out)
}

func summaryRowValues(d models.CityDay) []interface{} {
	peakHour, peakCount := peak(d)
	return []interface{}{
		d.City,
		d.Date,
		d.Workers,
		d.Submitted,
		d.NonWorkingHours,
		fmt.Sprintf("%02d:00", peakHour),
		peakCount,
	}
}

// peak returns the earliest hour with the highest count.
func peak(d models.CityDay) (hour, count int) {
	if len(d.Hours) > 0 {
		hour = d.Hours[0]
	}
	for i, c := range d.Counts {
		if c > count {
			hour, count = d.Hours[i], c
		}
	}
	return hour, count
}

// hourRows lays out one row per hour with one count column per city. Days
// built over the same window share the same hours.
func hourRows(days []models.CityDay) [][]interface{} {
	if len(days) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(days[0].Hours))
	for i, h := range days[0].Hours {
		row := []interface{}{fmt.Sprintf("%02d:00", h)}
		for _, d := range days {
			c := 0
			if i < len(d.Counts) {
				c = d.Counts[i]
			}
			row = append(row, c)
		}
		rows[i] = row
	}
	return rows
}
