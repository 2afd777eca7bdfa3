package registry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mgauthier/tradescope/internal/dataset"
	"github.com/mgauthier/tradescope/internal/engine"
	"github.com/mgauthier/tradescope/internal/runtime"
	"github.com/mgauthier/tradescope/internal/security"
	"github.com/mgauthier/tradescope/pkg/mcperr"
	"github.com/mgauthier/tradescope/pkg/validation"
)

// ProductFacetInput is the facet shape for concentration analysis. It
// deliberately carries no country/province/state fields: concentration
// measures the competitive landscape per product, and restricting the origin
// before computing shares would make every HHI trivially 1.
type ProductFacetInput struct {
	Years            []int  `json:"years,omitempty" jsonschema_description:"Years to keep (empty = all years)"`
	HSContains       string `json:"hs_contains,omitempty" jsonschema_description:"Case-insensitive substring over the HS10 code"`
	SUPCContains     string `json:"supc_contains,omitempty" jsonschema_description:"Case-insensitive substring over the SUPC code"`
	IndustryPrefix   string `json:"industry_prefix,omitempty" jsonschema_description:"Case-insensitive prefix over the NAICS or IOIC column"`
	DescriptionQuery string `json:"description_query,omitempty" jsonschema_description:"Fuzzy query over product descriptions"`
}

// Facets converts the product facets into the engine's facet set. Origin
// fields stay zero by construction.
func (f ProductFacetInput) Facets() engine.Facets {
	return engine.Facets{
		Years:            f.Years,
		HSContains:       f.HSContains,
		SUPCContains:     f.SUPCContains,
		IndustryPrefix:   f.IndustryPrefix,
		DescriptionQuery: f.DescriptionQuery,
	}
}

// ConcentrationInput defines parameters for the concentration table.
type ConcentrationInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
	ProductFacetInput
	Top           int  `json:"top,omitempty" validate:"omitempty,min=1,max=1000" jsonschema_description:"Keep products ranked 1..top within each period (default from server limits)"`
	IncludeShares bool `json:"include_shares,omitempty" jsonschema_description:"Also return the per-country share rows behind the HHI"`
}

// ConcentrationOutput carries the ranked concentration table.
type ConcentrationOutput struct {
	DatasetID string                    `json:"dataset_id"`
	Products  []engine.ConcentrationRow `json:"products"`
	Shares    []engine.ShareRow         `json:"shares,omitempty"`
	Periods   int                       `json:"periods"`
	Truncated bool                      `json:"truncated"`
}

// ProductSummaryInput defines parameters for a single-product drill-down.
type ProductSummaryInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
	FacetInput
	HSQuery   string `json:"hs_query,omitempty" jsonschema_description:"Case-insensitive substring over HS10 picking the product"`
	SUPCQuery string `json:"supc_query,omitempty" jsonschema_description:"Case-insensitive substring over SUPC picking the product; leave both queries empty to summarize the whole filtered view"`
}

// ProductSummaryOutput wraps the composed summary.
type ProductSummaryOutput struct {
	DatasetID string                `json:"dataset_id"`
	Summary   engine.ProductSummary `json:"summary"`
}

// IndustryMatrixInput defines parameters for the bilateral cost matrix.
type IndustryMatrixInput struct {
	IPTBPath        string `json:"iptb_path" validate:"required" jsonschema_description:"Path to the inter-provincial trade balance reference table"`
	ConcordancePath string `json:"concordance_path,omitempty" jsonschema_description:"Path to the SUPC/NAICS/IOIC concordance table (required when supc_code is set)"`
	IndustryPrefix  string `json:"industry_prefix,omitempty" jsonschema_description:"Case-insensitive industry-code prefix restriction"`
	SUPCCode        string `json:"supc_code,omitempty" jsonschema_description:"Exact SUPC whose concorded industries restrict the matrix"`
}

// IndustryMatrixOutput carries the dense origin-by-destination matrix.
type IndustryMatrixOutput struct {
	Matrix  engine.Matrix `json:"matrix"`
	Origins int           `json:"origin_count"`
	Dests   int           `json:"dest_count"`
}

// SearchDescriptionsInput defines parameters for fuzzy description search.
type SearchDescriptionsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
	Query     string `json:"query" validate:"required,min=1" jsonschema_description:"Free-text product description query"`
}

// SearchDescriptionsOutput lists the scored matches.
type SearchDescriptionsOutput struct {
	DatasetID string                    `json:"dataset_id"`
	Matches   []engine.DescriptionMatch `json:"matches"`
}

// RegisterAnalysisTools wires the concentration, summary, matrix, and search
// tools.
func RegisterAnalysisTools(s *server.MCPServer, reg *Registry, limits runtime.Limits, mgr *dataset.Manager, sec *security.Manager) {
	// concentration_table
	conc := mcp.NewTool(
		"concentration_table",
		mcp.WithDescription("Compute per-product import concentration (HHI over source-country value shares) for each period, ranked within each period by HHI descending. Duplicate rows are summed per (period, product, country) before shares are taken; products with zero total value get HHI 0. Facets restrict by year, HS/SUPC substring, industry prefix, or fuzzy description; origin restrictions are intentionally unavailable here. Set include_shares to also get the per-country rows behind each HHI."),
		mcp.WithInputSchema[ConcentrationInput](),
		mcp.WithOutputSchema[ConcentrationOutput](),
	)
	s.AddTool(conc, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ConcentrationInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		top := in.Top
		if top <= 0 {
			top = limits.TopProducts
		}

		var out ConcentrationOutput
		err := mgr.WithDataset(in.DatasetID, func(ds *engine.Dataset) error {
			idx := in.ProductFacetInput.Facets().Apply(ds)
			products, shares := engine.ComputeConcentration(ds, idx)
			if len(products) == 0 {
				return engine.ErrEmptyResult
			}

			out.DatasetID = in.DatasetID
			periods := map[int]struct{}{}
			for _, p := range products {
				periods[p.Period] = struct{}{}
				if p.Rank > top {
					out.Truncated = true
					continue
				}
				out.Products = append(out.Products, p)
			}
			out.Periods = len(periods)
			if in.IncludeShares {
				kept := map[productKeyWire]struct{}{}
				for _, p := range out.Products {
					kept[productKeyWire{p.Period, p.HS10, p.SUPC}] = struct{}{}
				}
				for _, sh := range shares {
					if _, ok := kept[productKeyWire{sh.Period, sh.HS10, sh.SUPC}]; ok {
						out.Shares = append(out.Shares, sh)
					}
				}
			}
			return nil
		})
		if err != nil {
			return analysisError(err), nil
		}
		summary := fmt.Sprintf("products=%d periods=%d truncated=%v", len(out.Products), out.Periods, out.Truncated)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(conc)

	// product_summary
	summaryTool := mcp.NewTool(
		"product_summary",
		mcp.WithDescription("Compose a drill-down for one product selection: a representative matching record, totals, the top source countries per period with value shares, per-year HHI, and an aggregate HHI over the whole matched subset. The aggregate lumps every matched row together regardless of product code, so it may differ from the per-product concentration table; both views are exposed. EMPTY_RESULT when nothing matches."),
		mcp.WithInputSchema[ProductSummaryInput](),
		mcp.WithOutputSchema[ProductSummaryOutput](),
	)
	s.AddTool(summaryTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ProductSummaryInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}

		var out ProductSummaryOutput
		err := mgr.WithDataset(in.DatasetID, func(ds *engine.Dataset) error {
			idx := in.FacetInput.Facets().Apply(ds)
			sum, err := engine.Summarize(ds, idx, in.HSQuery, in.SUPCQuery)
			if err != nil {
				return err
			}
			out.DatasetID = in.DatasetID
			out.Summary = *sum
			return nil
		})
		if err != nil {
			return analysisError(err), nil
		}
		summary := fmt.Sprintf("matches=%d total_value=%.2f aggregate_hhi=%.4f", out.Summary.Matches, out.Summary.TotalValue, out.Summary.AggregateHHI)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(summaryTool)

	// industry_matrix
	matrix := mcp.NewTool(
		"industry_matrix",
		mcp.WithDescription("Build the dense origin-by-destination trade-effort coefficient matrix from an IPTB reference table: mean TEC per (origin, destination) pair, 0.0 for pairs never observed, origins and destinations sorted. Restrict by industry-code prefix, or by a SUPC code via the concordance table (NO_REFERENCE_DATA when the concordance is needed but absent). EMPTY_RESULT when the restriction matches no rows, so callers can tell that apart from genuine zero cells."),
		mcp.WithInputSchema[IndustryMatrixInput](),
		mcp.WithOutputSchema[IndustryMatrixOutput](),
	)
	s.AddTool(matrix, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in IndustryMatrixInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}

		iptb, errRes := readReference(sec, in.IPTBPath, engine.ParseIPTB)
		if errRes != nil {
			return errRes, nil
		}
		var conc []engine.ConcordanceRow
		if in.ConcordancePath != "" {
			conc, errRes = readReference(sec, in.ConcordancePath, engine.ParseConcordance)
			if errRes != nil {
				return errRes, nil
			}
		}

		m, err := engine.BuildMatrix(iptb, conc, in.IndustryPrefix, in.SUPCCode)
		if err != nil {
			return analysisError(err), nil
		}
		out := IndustryMatrixOutput{Matrix: *m, Origins: len(m.Origins), Dests: len(m.Dests)}
		summary := fmt.Sprintf("origins=%d dests=%d", out.Origins, out.Dests)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(matrix)

	// search_descriptions
	search := mcp.NewTool(
		"search_descriptions",
		mcp.WithDescription("Fuzzy-search product descriptions by normalized edit-distance similarity. Returns up to 10 distinct descriptions scoring at least 0.6 against the query, best first. The candidate universe is the first 5000 distinct descriptions in row order."),
		mcp.WithInputSchema[SearchDescriptionsInput](),
		mcp.WithOutputSchema[SearchDescriptionsOutput](),
	)
	s.AddTool(search, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SearchDescriptionsInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}

		var out SearchDescriptionsOutput
		err := mgr.WithDataset(in.DatasetID, func(ds *engine.Dataset) error {
			out.DatasetID = in.DatasetID
			out.Matches = engine.MatchDescriptions(ds, in.Query)
			return nil
		})
		if err != nil {
			return mcperr.New(mcperr.InvalidHandle, ""), nil
		}
		summary := fmt.Sprintf("matches=%d", len(out.Matches))
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(search)
}

type productKeyWire struct {
	period int
	hs10   string
	supc   string
}

// readReference validates, reads and parses a reference table in one step.
func readReference[T any](sec *security.Manager, path string, parse func(engine.Table) ([]T, error)) ([]T, *mcp.CallToolResult) {
	real, err := sec.ValidateOpenPath(path)
	if err != nil {
		return nil, securityError(err)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, mcperr.Wrapf(mcperr.LoadFailed, "read reference table: %v", err)
	}
	t, err := dataset.ReadReferenceTable(real, data)
	if err != nil {
		return nil, mcperr.Wrapf(mcperr.LoadFailed, "%v", err)
	}
	rows, err := parse(t)
	if err != nil {
		return nil, analysisError(err)
	}
	return rows, nil
}

// analysisError maps engine analysis failures to catalog codes. Unknown
// errors from WithDataset mean the handle is gone.
func analysisError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, engine.ErrEmptyResult):
		return mcperr.New(mcperr.EmptyResult, "")
	case errors.Is(err, engine.ErrNoReferenceData):
		return mcperr.New(mcperr.NoReferenceData, "")
	case errors.Is(err, dataset.ErrHandleNotFound):
		return mcperr.New(mcperr.InvalidHandle, "")
	default:
		return mcperr.Wrapf(mcperr.AnalysisFailed, "%v", err)
	}
}

// securityError maps allow-list failures to catalog codes.
func securityError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, security.ErrUnsupportedExtension):
		return mcperr.New(mcperr.UnsupportedFormat, "")
	case errors.Is(err, security.ErrNotFound):
		return mcperr.Wrapf(mcperr.LoadFailed, "file not found")
	default:
		return mcperr.New(mcperr.PermissionDenied, "")
	}
}
