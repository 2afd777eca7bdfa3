package engine

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical column names produced by Normalize. Downstream components refer to
// these only; source header variants never leak past normalization.
const (
	ColHS10            = "HS10"
	ColSUPC            = "SUPC"
	ColDescription     = "Description"
	ColSUPCDescription = "SUPCDescription"
	ColCountry         = "Country"
	ColProvince        = "Province"
	ColState           = "State"
	ColUoM             = "UoM"
	ColYearMonth       = "YearMonth"
	ColValue           = "Value"
	ColQuantity        = "Quantity"
	ColPCI             = "PCI"
	ColNAICS           = "NAICS"
	ColIOIC            = "IOIC"
	ColYear            = "Year"
	ColMonth           = "Month"
	ColMonthName       = "MonthName"
)

// headerAliases is the fixed lookup from known source header variants
// (bilingual StatCan exports and already-normalized files) to canonical names.
// Unmapped headers pass through unchanged.
var headerAliases = map[string]string{
	"HS10":                           ColHS10,
	"SUPC":                           ColSUPC,
	"Description":                    ColDescription,
	"Description/Description":        ColDescription,
	"SUPC Description":               ColSUPCDescription,
	"SUPCDescription":                ColSUPCDescription,
	"Country":                        ColCountry,
	"Country/Pays":                   ColCountry,
	"Province":                       ColProvince,
	"State":                          ColState,
	"State/État":                     ColState,
	"UoM":                            ColUoM,
	"Unit of Measure/Unité de Mesure": ColUoM,
	"YearMonth":                      ColYearMonth,
	"YearMonth/AnnéeMois":            ColYearMonth,
	"Value":                          ColValue,
	"Value/Valeur":                   ColValue,
	"Quantity":                       ColQuantity,
	"Quantity/Quantité":              ColQuantity,
	"PCI":                            ColPCI,
	"pci":                            ColPCI,
	"NAICS":                          ColNAICS,
	"naics_mod":                      ColNAICS,
	"IOIC":                           ColIOIC,
	"ioic":                           ColIOIC,
}

// Table is the raw tabular input handed to the engine by the ingestion layer:
// one header row plus string cells. Rows may be ragged; missing cells read as
// empty strings.
type Table struct {
	Header []string
	Rows   [][]string
}

// Cell returns the trimmed cell at (row, col), tolerating short rows.
func (t Table) Cell(row, col int) string {
	if col < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// ColumnIndex returns the position of a canonical column, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Capabilities records which optional columns the loaded table carries.
// It is computed once at normalization time; downstream components consult it
// instead of probing for columns repeatedly.
type Capabilities struct {
	SUPC            bool `json:"supc"`
	Description     bool `json:"description"`
	SUPCDescription bool `json:"supc_description"`
	Province        bool `json:"province"`
	State           bool `json:"state"`
	PCI             bool `json:"pci"`
	NAICS           bool `json:"naics"`
	IOIC            bool `json:"ioic"`
}

// Record is one normalized import transaction-aggregate. Value, Quantity and
// PCI are NaN when the source cell was missing or unparseable; rows with a
// missing Value are excluded at aggregation time, never at load time.
type Record struct {
	Period          int     `json:"period"`
	Year            int     `json:"year"`
	Month           int     `json:"month"`
	MonthName       string  `json:"month_name"`
	HS10            string  `json:"hs10"`
	SUPC            string  `json:"supc,omitempty"`
	Description     string  `json:"description,omitempty"`
	SUPCDescription string  `json:"supc_description,omitempty"`
	Country         string  `json:"country,omitempty"`
	Province        string  `json:"province,omitempty"`
	State           string  `json:"state,omitempty"`
	UoM             string  `json:"uom,omitempty"`
	Value           float64 `json:"value"`
	Quantity        float64 `json:"quantity"`
	PCI             float64 `json:"pci"`
}

// Dataset is the normalized, immutable result of a load. Records align 1:1
// with Table.Rows; filters produce index views and never mutate either.
type Dataset struct {
	Table       Table
	Records     []Record
	Caps        Capabilities
	BadNumerics int // cells absorbed as NaN during coercion
}

// All returns the identity view: every row, input order.
func (d *Dataset) All() []int {
	idx := make([]int, len(d.Records))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// NormalizeHeader maps one source header to its canonical name. Unknown
// headers are returned trimmed but otherwise unchanged, so the mapping is
// idempotent: canonical names map to themselves.
func NormalizeHeader(name string) string {
	n := strings.TrimSpace(name)
	if c, ok := headerAliases[n]; ok {
		return c
	}
	return n
}

// PadHS10 coerces a product code to the canonical 10-character left-zero-padded
// form. Codes at or beyond 10 characters are returned as-is, which makes the
// padding idempotent.
func PadHS10(code string) string {
	c := strings.TrimSpace(code)
	if c == "" || len(c) >= 10 {
		return c
	}
	return strings.Repeat("0", 10-len(c)) + c
}

// MonthName returns the 3-letter English abbreviation for month 1..12.
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return time.Month(m).String()[:3]
}

// parseNumeric coerces a cell to float64, tolerating thousands separators and
// currency prefixes. The second return is false when the cell is missing or
// unparseable; callers represent that as NaN, not as an error.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), false
	}
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ',', '$':
			return -1
		}
		return r
	}, s)
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return math.NaN(), false
	}
	return f, true
}

// Normalize canonicalizes headers, derives Year/Month/MonthName from the
// YearMonth column, pads product codes, and coerces numerics. It preserves the
// input row count: data-quality problems become NaN cells, while a missing
// YearMonth column or an out-of-range month abort the load. Applying Normalize
// to an already-normalized table is a no-op.
func Normalize(t Table) (*Dataset, error) {
	header := make([]string, len(t.Header))
	for i, h := range t.Header {
		header[i] = NormalizeHeader(h)
	}

	norm := Table{Header: header, Rows: t.Rows}
	ymCol := norm.ColumnIndex(ColYearMonth)
	if ymCol < 0 {
		return nil, &SchemaError{Column: ColYearMonth}
	}

	cols := map[string]int{}
	for _, name := range []string{
		ColHS10, ColSUPC, ColDescription, ColSUPCDescription, ColCountry,
		ColProvince, ColState, ColUoM, ColValue, ColQuantity, ColPCI,
		ColNAICS, ColIOIC,
	} {
		cols[name] = norm.ColumnIndex(name)
	}

	ds := &Dataset{
		Records: make([]Record, 0, len(t.Rows)),
		Caps: Capabilities{
			SUPC:            cols[ColSUPC] >= 0,
			Description:     cols[ColDescription] >= 0,
			SUPCDescription: cols[ColSUPCDescription] >= 0,
			Province:        cols[ColProvince] >= 0,
			State:           cols[ColState] >= 0,
			PCI:             cols[ColPCI] >= 0,
			NAICS:           cols[ColNAICS] >= 0,
			IOIC:            cols[ColIOIC] >= 0,
		},
	}

	get := func(row int, name string) string {
		c, ok := cols[name]
		if !ok || c < 0 {
			return ""
		}
		return norm.Cell(row, c)
	}

	for i := range t.Rows {
		period, err := strconv.Atoi(norm.Cell(i, ymCol))
		if err != nil {
			return nil, &InvalidPeriodError{Row: i + 1, Period: 0}
		}
		year, month := period/100, period%100
		if month < 1 || month > 12 {
			return nil, &InvalidPeriodError{Row: i + 1, Period: period}
		}

		rec := Record{
			Period:          period,
			Year:            year,
			Month:           month,
			MonthName:       MonthName(month),
			HS10:            PadHS10(get(i, ColHS10)),
			SUPC:            get(i, ColSUPC),
			Description:     get(i, ColDescription),
			SUPCDescription: get(i, ColSUPCDescription),
			Country:         get(i, ColCountry),
			Province:        get(i, ColProvince),
			State:           get(i, ColState),
			UoM:             get(i, ColUoM),
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{ColValue, &rec.Value},
			{ColQuantity, &rec.Quantity},
			{ColPCI, &rec.PCI},
		} {
			cell := get(i, f.name)
			v, ok := parseNumeric(cell)
			*f.dst = v
			if !ok && cell != "" {
				ds.BadNumerics++
			}
		}
		ds.Records = append(ds.Records, rec)
	}

	ds.Table = materialize(norm, ds.Records, cols[ColHS10])
	return ds, nil
}

// materialize rewrites the normalized table view: padded HS10 cells and the
// derived Year/Month/MonthName columns appended when not already present.
func materialize(t Table, recs []Record, hsCol int) Table {
	header := append([]string(nil), t.Header...)
	addYear := t.ColumnIndex(ColYear) < 0
	addMonth := t.ColumnIndex(ColMonth) < 0
	addMonthName := t.ColumnIndex(ColMonthName) < 0
	if addYear {
		header = append(header, ColYear)
	}
	if addMonth {
		header = append(header, ColMonth)
	}
	if addMonthName {
		header = append(header, ColMonthName)
	}

	rows := make([][]string, len(t.Rows))
	for i, src := range t.Rows {
		row := make([]string, len(t.Header), len(header))
		for c := range row {
			if c < len(src) {
				row[c] = strings.TrimSpace(src[c])
			}
		}
		if hsCol >= 0 && hsCol < len(row) {
			row[hsCol] = PadHS10(row[hsCol])
		}
		if addYear {
			row = append(row, strconv.Itoa(recs[i].Year))
		}
		if addMonth {
			row = append(row, strconv.Itoa(recs[i].Month))
		}
		if addMonthName {
			row = append(row, recs[i].MonthName)
		}
		rows[i] = row
	}
	return Table{Header: header, Rows: rows}
}
