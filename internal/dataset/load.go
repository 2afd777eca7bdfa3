package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mgauthier/tradescope/internal/engine"
)

// parseTable decodes raw file bytes into an engine.Table. CSV files are read
// with encoding/csv (ragged rows tolerated, UTF-8 BOM stripped); Excel files
// go through excelize, first sheet only.
func parseTable(path string, data []byte) (engine.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(data)
	case ".xlsx", ".xlsm":
		return parseXLSX(data)
	default:
		return engine.Table{}, fmt.Errorf("dataset: unsupported format: %s", filepath.Ext(path))
	}
}

func parseCSV(data []byte) (engine.Table, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var t engine.Table
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return engine.Table{}, fmt.Errorf("dataset: csv parse: %w", err)
		}
		if t.Header == nil {
			t.Header = rec
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	if t.Header == nil {
		return engine.Table{}, fmt.Errorf("dataset: empty csv")
	}
	return t, nil
}

func parseXLSX(data []byte) (engine.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return engine.Table{}, fmt.Errorf("dataset: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return engine.Table{}, fmt.Errorf("dataset: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return engine.Table{}, fmt.Errorf("dataset: read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return engine.Table{}, fmt.Errorf("dataset: sheet %q is empty", sheets[0])
	}
	return engine.Table{Header: rows[0], Rows: rows[1:]}, nil
}

// ReadReferenceTable loads a small reference file (IPTB or concordance) into
// a raw table without normalization.
func ReadReferenceTable(path string, data []byte) (engine.Table, error) {
	return parseTable(path, data)
}
