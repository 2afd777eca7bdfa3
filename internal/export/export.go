// Package export serializes filtered dataset views to delimited-text and
// spreadsheet byte streams. It owns formatting only; what rows to export is
// the caller's business.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mgauthier/tradescope/internal/engine"
)

const sheetName = "Data"

// CSV renders the selected rows (header included) as RFC 4180 bytes.
func CSV(ds *engine.Dataset, idx []int) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ds.Table.Header); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}
	for _, i := range idx {
		if err := w.Write(ds.Table.Rows[i]); err != nil {
			return nil, fmt.Errorf("export: write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	return buf.Bytes(), nil
}

// XLSX renders the selected rows into a single-sheet workbook.
func XLSX(ds *engine.Dataset, idx []int) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("export: rename sheet: %w", err)
	}

	header := append([]string(nil), ds.Table.Header...)
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}
	for n, i := range idx {
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return nil, err
		}
		row := append([]string(nil), ds.Table.Rows[i]...)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("export: write row %d: %w", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("export: serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
