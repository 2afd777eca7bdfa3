package engine

import (
	"sort"
	"strconv"
	"strings"
)

// IPTBRow is one raw row of the inter-provincial trade balance reference
// table: a trade-effort coefficient between an origin and destination
// industry. TEC stays a string until BuildMatrix parses it, since source files
// mix "12.5" and "12.5%" spellings.
type IPTBRow struct {
	IndustryCode string
	Origin       string
	Dest         string
	TEC          string
}

// ConcordanceRow maps a SUPC product code to its industry codes in the two
// classification systems used by the IPTB table.
type ConcordanceRow struct {
	SUPC     string
	NAICSMod string
	IOIC     string
}

// Matrix is the dense bilateral cost-coefficient matrix: Cells[i][j] is the
// mean TEC for (Origins[i], Dests[j]), with 0.0 for pairs never observed.
// Origins and Dests are the sorted sets observed after restriction.
type Matrix struct {
	Origins []string    `json:"origins"`
	Dests   []string    `json:"dests"`
	Cells   [][]float64 `json:"cells"`
}

// Cell returns the coefficient for a named (origin, dest) pair, or 0.
func (m *Matrix) Cell(origin, dest string) float64 {
	for i, o := range m.Origins {
		if o != origin {
			continue
		}
		for j, d := range m.Dests {
			if d == dest {
				return m.Cells[i][j]
			}
		}
	}
	return 0
}

// iptbAliases maps known IPTB/concordance header variants to field names.
var iptbAliases = map[string]string{
	"IndustryCode":  "IndustryCode",
	"industry_code": "IndustryCode",
	"Industry":      "IndustryCode",
	"Origin":        "Origin",
	"Dest":          "Dest",
	"Destination":   "Dest",
	"TEC":           "TEC",
}

// ParseIPTB extracts IPTB rows from a raw reference table. A table without
// Origin/Dest/TEC columns counts as absent reference data.
func ParseIPTB(t Table) ([]IPTBRow, error) {
	cols := map[string]int{"IndustryCode": -1, "Origin": -1, "Dest": -1, "TEC": -1}
	for i, h := range t.Header {
		if f, ok := iptbAliases[strings.TrimSpace(h)]; ok {
			cols[f] = i
		}
	}
	if cols["Origin"] < 0 || cols["Dest"] < 0 || cols["TEC"] < 0 {
		return nil, ErrNoReferenceData
	}
	rows := make([]IPTBRow, 0, len(t.Rows))
	for i := range t.Rows {
		rows = append(rows, IPTBRow{
			IndustryCode: t.Cell(i, cols["IndustryCode"]),
			Origin:       t.Cell(i, cols["Origin"]),
			Dest:         t.Cell(i, cols["Dest"]),
			TEC:          t.Cell(i, cols["TEC"]),
		})
	}
	return rows, nil
}

// ParseConcordance extracts SUPC↔NAICS↔IOIC mappings from a raw table.
func ParseConcordance(t Table) ([]ConcordanceRow, error) {
	supc, naics, ioic := -1, -1, -1
	for i, h := range t.Header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "supc":
			supc = i
		case "naics_mod", "naics":
			naics = i
		case "ioic":
			ioic = i
		}
	}
	if supc < 0 || (naics < 0 && ioic < 0) {
		return nil, ErrNoReferenceData
	}
	rows := make([]ConcordanceRow, 0, len(t.Rows))
	for i := range t.Rows {
		rows = append(rows, ConcordanceRow{
			SUPC:     t.Cell(i, supc),
			NAICSMod: t.Cell(i, naics),
			IOIC:     t.Cell(i, ioic),
		})
	}
	return rows, nil
}

// parseTEC parses a trade-effort coefficient, tolerating a trailing percent
// sign. "10%" parses to 10, not 0.1: the matrix is displayed in percentage
// points.
func parseTEC(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// BuildMatrix aggregates the IPTB table into a dense Origin×Dest matrix of
// mean TEC values. industryPrefix keeps rows whose industry code starts with
// the prefix (case-insensitive). supcCode additionally restricts to the
// industry codes the concordance maps that SUPC to (union of NAICS and IOIC
// codes); requesting a SUPC restriction without a concordance table is
// ErrNoReferenceData. An empty result after restriction is ErrEmptyResult so
// callers can tell "nothing matched" apart from genuine zero cells.
func BuildMatrix(iptb []IPTBRow, conc []ConcordanceRow, industryPrefix, supcCode string) (*Matrix, error) {
	if len(iptb) == 0 {
		return nil, ErrNoReferenceData
	}

	var allowed map[string]struct{}
	if supcCode != "" {
		if len(conc) == 0 {
			return nil, ErrNoReferenceData
		}
		allowed = map[string]struct{}{}
		for _, c := range conc {
			if c.SUPC != supcCode {
				continue
			}
			if c.NAICSMod != "" {
				allowed[strings.ToLower(c.NAICSMod)] = struct{}{}
			}
			if c.IOIC != "" {
				allowed[strings.ToLower(c.IOIC)] = struct{}{}
			}
		}
	}

	prefix := strings.ToLower(industryPrefix)

	type pair struct{ origin, dest string }
	sums := map[pair]float64{}
	counts := map[pair]int{}
	originSet := map[string]struct{}{}
	destSet := map[string]struct{}{}

	matched := false
	for _, row := range iptb {
		code := strings.ToLower(row.IndustryCode)
		if prefix != "" && !strings.HasPrefix(code, prefix) {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[code]; !ok {
				continue
			}
		}
		matched = true
		tec, ok := parseTEC(row.TEC)
		if !ok {
			continue
		}
		p := pair{row.Origin, row.Dest}
		sums[p] += tec
		counts[p]++
		originSet[row.Origin] = struct{}{}
		destSet[row.Dest] = struct{}{}
	}
	if !matched || len(originSet) == 0 {
		return nil, ErrEmptyResult
	}

	origins := sortedKeys(originSet)
	dests := sortedKeys(destSet)
	cells := make([][]float64, len(origins))
	for i, o := range origins {
		cells[i] = make([]float64, len(dests))
		for j, d := range dests {
			p := pair{o, d}
			if n := counts[p]; n > 0 {
				cells[i][j] = sums[p] / float64(n)
			}
			// absent pairs stay 0.0: the display needs a dense matrix
		}
	}
	return &Matrix{Origins: origins, Dests: dests, Cells: cells}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
