package engine

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// Bounds for the fuzzy description matcher. The candidate cap is part of the
// design, not an optimization: without it the matcher is unbounded in the
// number of distinct strings compared.
const (
	FuzzyCandidateCap  = 5000
	FuzzyMaxResults    = 10
	FuzzyMinSimilarity = 0.6
)

// Facets is a set of user-selected restrictions over a normalized dataset.
// The zero value restricts nothing. Country, Province and State are exact
// matches ("" or "All" means no restriction); HSContains and SUPCContains are
// case-insensitive substring containment; IndustryPrefix is a case-insensitive
// prefix over the NAICS or IOIC column; DescriptionQuery goes through the
// fuzzy matcher. All facets compose by logical AND.
type Facets struct {
	Years            []int  `json:"years,omitempty"`
	Country          string `json:"country,omitempty"`
	Province         string `json:"province,omitempty"`
	State            string `json:"state,omitempty"`
	HSContains       string `json:"hs_contains,omitempty"`
	SUPCContains     string `json:"supc_contains,omitempty"`
	IndustryPrefix   string `json:"industry_prefix,omitempty"`
	DescriptionQuery string `json:"description_query,omitempty"`
}

// exact reports whether a facet value restricts at all.
func exact(v string) bool {
	return v != "" && v != "All"
}

// IsZero reports whether no facet restricts.
func (f Facets) IsZero() bool {
	return len(f.Years) == 0 && !exact(f.Country) && !exact(f.Province) &&
		!exact(f.State) && f.HSContains == "" && f.SUPCContains == "" &&
		f.IndustryPrefix == "" && strings.TrimSpace(f.DescriptionQuery) == ""
}

// Origin returns the facets with country, province and state restrictions
// removed. Concentration is a measure of the global competitive landscape per
// product, so origin facets must never feed into it.
func (f Facets) Origin() Facets {
	f.Country, f.Province, f.State = "", "", ""
	return f
}

// Apply evaluates the facets against every record and returns the indices of
// matching rows in input order. Zero facets return the identity view, so the
// caller sees the same rows in the same order.
func (f Facets) Apply(ds *Dataset) []int {
	if f.IsZero() {
		return ds.All()
	}

	years := map[int]struct{}{}
	for _, y := range f.Years {
		years[y] = struct{}{}
	}
	hs := strings.ToLower(f.HSContains)
	supc := strings.ToLower(f.SUPCContains)
	industry := strings.ToLower(f.IndustryPrefix)

	// The description facet keeps rows whose description is one of the fuzzy
	// matches for the query.
	var descSet map[string]struct{}
	if q := strings.TrimSpace(f.DescriptionQuery); q != "" {
		matches := MatchDescriptions(ds, q)
		descSet = make(map[string]struct{}, len(matches))
		for _, m := range matches {
			descSet[m.Description] = struct{}{}
		}
	}

	naicsCol := ds.Table.ColumnIndex(ColNAICS)
	ioicCol := ds.Table.ColumnIndex(ColIOIC)

	var out []int
	for i, rec := range ds.Records {
		if len(years) > 0 {
			if _, ok := years[rec.Year]; !ok {
				continue
			}
		}
		if exact(f.Country) && rec.Country != f.Country {
			continue
		}
		if exact(f.Province) && rec.Province != f.Province {
			continue
		}
		if exact(f.State) && rec.State != f.State {
			continue
		}
		// Substring, not prefix: the dashboards always matched HS and SUPC
		// selections by containment.
		if hs != "" && !strings.Contains(strings.ToLower(rec.HS10), hs) {
			continue
		}
		if supc != "" && !strings.Contains(strings.ToLower(rec.SUPC), supc) {
			continue
		}
		if industry != "" {
			naics := strings.ToLower(ds.Table.Cell(i, naicsCol))
			ioic := strings.ToLower(ds.Table.Cell(i, ioicCol))
			if !strings.HasPrefix(naics, industry) && !strings.HasPrefix(ioic, industry) {
				continue
			}
		}
		if descSet != nil {
			if _, ok := descSet[rec.Description]; !ok {
				continue
			}
		}
		out = append(out, i)
	}
	if out == nil {
		out = []int{}
	}
	return out
}

// DescriptionMatch is one fuzzy hit with its similarity score.
type DescriptionMatch struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// MatchDescriptions returns up to FuzzyMaxResults distinct description values
// whose normalized edit-distance similarity to the query is at least
// FuzzyMinSimilarity. Candidates are the distinct non-empty descriptions in
// first-encountered order, capped at FuzzyCandidateCap; when the universe
// exceeds the cap only the first candidates are searched, a documented
// precision/performance trade-off. Results sort by score descending with ties
// kept in candidate order.
func MatchDescriptions(ds *Dataset, query string) []DescriptionMatch {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	seen := map[string]struct{}{}
	var candidates []string
	for _, rec := range ds.Records {
		if rec.Description == "" {
			continue
		}
		if _, ok := seen[rec.Description]; ok {
			continue
		}
		seen[rec.Description] = struct{}{}
		candidates = append(candidates, rec.Description)
		if len(candidates) >= FuzzyCandidateCap {
			break
		}
	}

	var matches []DescriptionMatch
	for _, cand := range candidates {
		score := levenshtein.Similarity(q, strings.ToLower(cand), nil)
		if score >= FuzzyMinSimilarity {
			matches = append(matches, DescriptionMatch{Description: cand, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > FuzzyMaxResults {
		matches = matches[:FuzzyMaxResults]
	}
	return matches
}
