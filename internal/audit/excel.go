package audit

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExcelWriter writes tabular data to a workbook.
type ExcelWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []any) error
	Save(w io.Writer) error
	SaveToFile(path string) error
	Close() error
}

// ExcelizeWriter implements ExcelWriter using excelize library.
type ExcelizeWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func NewExcelizeWriter() *ExcelizeWriter {
	return &ExcelizeWriter{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The first call renames the default sheet.
func (w *ExcelizeWriter) AddSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes a bold header row.
func (w *ExcelizeWriter) WriteHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	start, _ := excelize.CoordinatesToCellName(1, w.currentRow)
	end, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
	if err := w.file.SetCellStyle(w.currentSheet, start, end, style); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	if err := w.file.SetPanes(w.currentSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	w.currentRow++
	return nil
}

// WriteRow writes a data row to the current sheet.
func (w *ExcelizeWriter) WriteRow(row []any) error {
	if err := w.writeRow(row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

func (w *ExcelizeWriter) writeRow(row []any) error {
	if w.currentSheet == "" {
		return errors.New("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	return w.file.SetSheetRow(w.currentSheet, cell, &row)
}

func (w *ExcelizeWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *ExcelizeWriter) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

func (w *ExcelizeWriter) Close() error {
	return w.file.Close()
}
