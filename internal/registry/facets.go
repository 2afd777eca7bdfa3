package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mgauthier/tradescope/internal/engine"
)

// FacetInput is the wire shape of a facet selection, embedded by every tool
// that restricts a dataset view.
type FacetInput struct {
	Years            []int  `json:"years,omitempty" jsonschema_description:"Years to keep (empty = all years)"`
	Country          string `json:"country,omitempty" jsonschema_description:"Exact origin country ('All' or empty = no restriction)"`
	Province         string `json:"province,omitempty" jsonschema_description:"Exact Canadian province ('All' or empty = no restriction)"`
	State            string `json:"state,omitempty" jsonschema_description:"Exact US state ('All' or empty = no restriction)"`
	HSContains       string `json:"hs_contains,omitempty" jsonschema_description:"Case-insensitive substring over the HS10 code"`
	SUPCContains     string `json:"supc_contains,omitempty" jsonschema_description:"Case-insensitive substring over the SUPC code"`
	IndustryPrefix   string `json:"industry_prefix,omitempty" jsonschema_description:"Case-insensitive prefix over the NAICS or IOIC column"`
	DescriptionQuery string `json:"description_query,omitempty" jsonschema_description:"Fuzzy query over product descriptions (top 10 matches at similarity >= 0.6)"`
}

// Facets converts the wire shape into the engine's facet set.
func (f FacetInput) Facets() engine.Facets {
	return engine.Facets{
		Years:            f.Years,
		Country:          f.Country,
		Province:         f.Province,
		State:            f.State,
		HSContains:       f.HSContains,
		SUPCContains:     f.SUPCContains,
		IndustryPrefix:   f.IndustryPrefix,
		DescriptionQuery: f.DescriptionQuery,
	}
}

// Hash derives a short stable identifier for the selection, used to bind
// pagination cursors to the facets they were issued under.
func (f FacetInput) Hash() string {
	b, _ := json.Marshal(f)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:6])
}

// PageMeta captures paging/truncation metadata.
type PageMeta struct {
	Total      int    `json:"total"`
	Returned   int    `json:"returned"`
	Truncated  bool   `json:"truncated"`
	NextCursor string `json:"nextCursor,omitempty"`
}
