package engine

import (
	"math"
	"sort"
	"strings"
)

// TopCountryLimit bounds the per-period country breakdown in a summary.
const TopCountryLimit = 10

// CountryShare is one row of the top source-country breakdown. SharePercent
// is the country's share of the period partition's total value, rounded to
// two decimals.
type CountryShare struct {
	Period       int     `json:"period"`
	Country      string  `json:"country"`
	UoM          string  `json:"uom,omitempty"`
	Value        float64 `json:"value"`
	Quantity     float64 `json:"quantity"`
	SharePercent float64 `json:"share_percent"`
}

// YearHHI is the quick per-year concentration of the matched subset.
type YearHHI struct {
	Year int     `json:"year"`
	HHI  float64 `json:"hhi"`
}

// ProductSummary describes a single product match: a representative record,
// the top source-country breakdown, and concentration of the matched subset.
//
// Representative is deliberately the first matching row in input order — an
// example match, never a canonical one. AggregateHHI lumps every matched row
// together regardless of HS10/SUPC, so it can legitimately differ from the
// per-product table produced by ComputeConcentration; both are exposed and
// never reconciled.
type ProductSummary struct {
	Representative Record         `json:"representative"`
	Matches        int            `json:"matches"`
	TotalValue     float64        `json:"total_value"`
	TotalQuantity  float64        `json:"total_quantity"`
	TopCountries   []CountryShare `json:"top_countries"`
	YearlyHHI      []YearHHI      `json:"yearly_hhi"`
	AggregateHHI   float64        `json:"aggregate_hhi"`
}

// Summarize composes a ProductSummary for the rows of the given view whose
// HS10/SUPC contain the respective query (case-insensitive). An empty match
// set returns ErrEmptyResult.
func Summarize(ds *Dataset, idx []int, hsQuery, supcQuery string) (*ProductSummary, error) {
	hs := strings.ToLower(strings.TrimSpace(hsQuery))
	supc := strings.ToLower(strings.TrimSpace(supcQuery))

	var matched []int
	for _, i := range idx {
		rec := ds.Records[i]
		if hs != "" && !strings.Contains(strings.ToLower(rec.HS10), hs) {
			continue
		}
		if supc != "" && !strings.Contains(strings.ToLower(rec.SUPC), supc) {
			continue
		}
		matched = append(matched, i)
	}
	if len(matched) == 0 {
		return nil, ErrEmptyResult
	}

	sum := &ProductSummary{
		Representative: ds.Records[matched[0]],
		Matches:        len(matched),
	}
	for _, i := range matched {
		rec := ds.Records[i]
		if !math.IsNaN(rec.Value) {
			sum.TotalValue += rec.Value
		}
		if !math.IsNaN(rec.Quantity) {
			sum.TotalQuantity += rec.Quantity
		}
	}

	sum.TopCountries = topCountries(ds, matched)
	sum.YearlyHHI = yearlyHHI(ds, matched)
	sum.AggregateHHI = quickHHI(ds, matched, func(Record) bool { return true })
	return sum, nil
}

// topCountries groups the matched rows by (period, country, UoM), sums value
// and quantity, computes each group's share of its period partition, and
// keeps the top rows by value within each period.
func topCountries(ds *Dataset, matched []int) []CountryShare {
	type key struct {
		period  int
		country string
		uom     string
	}
	order := []key{}
	agg := map[key]*CountryShare{}
	periodTotal := map[int]float64{}

	for _, i := range matched {
		rec := ds.Records[i]
		if math.IsNaN(rec.Value) {
			continue
		}
		k := key{rec.Period, rec.Country, rec.UoM}
		cs, ok := agg[k]
		if !ok {
			cs = &CountryShare{Period: rec.Period, Country: rec.Country, UoM: rec.UoM}
			agg[k] = cs
			order = append(order, k)
		}
		cs.Value += rec.Value
		if !math.IsNaN(rec.Quantity) {
			cs.Quantity += rec.Quantity
		}
		periodTotal[rec.Period] += rec.Value
	}

	rows := make([]CountryShare, 0, len(order))
	for _, k := range order {
		cs := *agg[k]
		if t := periodTotal[cs.Period]; t > 0 {
			cs.SharePercent = round2(cs.Value / t * 100)
		}
		rows = append(rows, cs)
	}

	// Stable sort by (period asc, value desc), then truncate per period so
	// every period keeps its own top rows.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Period != rows[j].Period {
			return rows[i].Period < rows[j].Period
		}
		return rows[i].Value > rows[j].Value
	})
	out := rows[:0]
	kept := 0
	lastPeriod := 0
	for i, r := range rows {
		if i == 0 || r.Period != lastPeriod {
			kept = 0
			lastPeriod = r.Period
		}
		if kept < TopCountryLimit {
			out = append(out, r)
			kept++
		}
	}
	return out
}

// yearlyHHI recomputes concentration independently for each year of the
// matched subset.
func yearlyHHI(ds *Dataset, matched []int) []YearHHI {
	seen := map[int]struct{}{}
	var out []YearHHI
	for _, i := range matched {
		y := ds.Records[i].Year
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		year := y
		out = append(out, YearHHI{
			Year: year,
			HHI:  quickHHI(ds, matched, func(r Record) bool { return r.Year == year }),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// quickHHI is the single-pass country-share concentration of a row subset.
// It is intentionally a different computation path from ComputeConcentration:
// the subset may span several products lumped together.
func quickHHI(ds *Dataset, matched []int, keep func(Record) bool) float64 {
	byCountry := map[string]float64{}
	var total float64
	for _, i := range matched {
		rec := ds.Records[i]
		if !keep(rec) || math.IsNaN(rec.Value) {
			continue
		}
		byCountry[rec.Country] += rec.Value
		total += rec.Value
	}
	if total <= 0 {
		return 0
	}
	var hhi float64
	for _, v := range byCountry {
		sh := v / total
		hhi += sh * sh
	}
	return hhi
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
