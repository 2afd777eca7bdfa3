package engine

import (
	"math"
	"sort"
)

// ShareRow is the per-origin-country aggregate for one product key: duplicate
// source rows (multiple UoM lines) are summed before shares are computed.
type ShareRow struct {
	Period       int     `json:"period"`
	HS10         string  `json:"hs10"`
	SUPC         string  `json:"supc"`
	Country      string  `json:"country"`
	Value        float64 `json:"value"`
	Quantity     float64 `json:"quantity"`
	Share        float64 `json:"share"`
	ShareSquared float64 `json:"share_squared"`
}

// ConcentrationRow is the per-(period, product) concentration result. HHI is
// in (0, 1] when TotalValue is positive and defined as 0 when the total is
// zero; the zero convention is applied consistently instead of letting NaN
// propagate. PCI is NaN when the dataset carries no complexity scores.
type ConcentrationRow struct {
	Period          int     `json:"period"`
	HS10            string  `json:"hs10"`
	SUPC            string  `json:"supc"`
	Description     string  `json:"description,omitempty"`
	SUPCDescription string  `json:"supc_description,omitempty"`
	TotalValue      float64 `json:"total_value"`
	HHI             float64 `json:"hhi"`
	PCI             float64 `json:"pci"`
	Rank            int     `json:"rank"`
}

type shareKey struct {
	period  int
	hs10    string
	supc    string
	country string
}

type productKey struct {
	period int
	hs10   string
	supc   string
}

// ComputeConcentration derives per-country share rows and per-product HHI
// rows from the given view of the dataset. Rows with a missing Value are
// dropped; duplicates are summed per (period, HS10, SUPC, country) before any
// share is taken; a zero product total yields zero shares and zero HHI.
//
// Group order is first-encountered input order throughout, and the per-period
// ranking uses a stable sort, so equal-HHI products keep their relative order
// and the output is deterministic for a given input. Callers must not feed
// country/province/state-filtered views in here; see Facets.Origin.
func ComputeConcentration(ds *Dataset, idx []int) ([]ConcentrationRow, []ShareRow) {
	shareIdx := map[shareKey]int{}
	var shares []ShareRow

	prodIdx := map[productKey]int{}
	var products []ConcentrationRow
	totals := []float64{}

	for _, i := range idx {
		rec := ds.Records[i]
		if math.IsNaN(rec.Value) {
			continue
		}

		sk := shareKey{rec.Period, rec.HS10, rec.SUPC, rec.Country}
		si, ok := shareIdx[sk]
		if !ok {
			si = len(shares)
			shareIdx[sk] = si
			shares = append(shares, ShareRow{
				Period:  rec.Period,
				HS10:    rec.HS10,
				SUPC:    rec.SUPC,
				Country: rec.Country,
			})
		}
		shares[si].Value += rec.Value
		if !math.IsNaN(rec.Quantity) {
			shares[si].Quantity += rec.Quantity
		}

		pk := productKey{rec.Period, rec.HS10, rec.SUPC}
		pi, ok := prodIdx[pk]
		if !ok {
			pi = len(products)
			prodIdx[pk] = pi
			products = append(products, ConcentrationRow{
				Period: rec.Period,
				HS10:   rec.HS10,
				SUPC:   rec.SUPC,
				PCI:    math.NaN(),
			})
			totals = append(totals, 0)
		}
		totals[pi] += rec.Value
		// Representative labels: first non-empty encountered per product key.
		if products[pi].Description == "" {
			products[pi].Description = rec.Description
		}
		if products[pi].SUPCDescription == "" {
			products[pi].SUPCDescription = rec.SUPCDescription
		}
		if math.IsNaN(products[pi].PCI) && !math.IsNaN(rec.PCI) {
			products[pi].PCI = rec.PCI
		}
	}

	for si := range shares {
		pk := productKey{shares[si].Period, shares[si].HS10, shares[si].SUPC}
		pi := prodIdx[pk]
		total := totals[pi]
		if total > 0 {
			shares[si].Share = shares[si].Value / total
		} else {
			shares[si].Share = 0
		}
		shares[si].ShareSquared = shares[si].Share * shares[si].Share
		products[pi].HHI += shares[si].ShareSquared
		products[pi].TotalValue = total
	}

	rankPeriods(products)
	return products, shares
}

// rankPeriods sorts the concentration rows by (period asc, HHI desc) with a
// stable sort and assigns Rank as the 1-based position within each period:
// a dense 1..N sequence with HHI non-increasing as rank increases.
func rankPeriods(rows []ConcentrationRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Period != rows[j].Period {
			return rows[i].Period < rows[j].Period
		}
		return rows[i].HHI > rows[j].HHI
	})
	rank := 0
	lastPeriod := 0
	for i := range rows {
		if i == 0 || rows[i].Period != lastPeriod {
			rank = 0
			lastPeriod = rows[i].Period
		}
		rank++
		rows[i].Rank = rank
	}
}
