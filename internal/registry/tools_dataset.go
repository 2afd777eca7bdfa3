package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mgauthier/tradescope/internal/dataset"
	"github.com/mgauthier/tradescope/internal/engine"
	"github.com/mgauthier/tradescope/internal/runtime"
	"github.com/mgauthier/tradescope/internal/telemetry"
	"github.com/mgauthier/tradescope/pkg/mcperr"
	"github.com/mgauthier/tradescope/pkg/pagination"
	"github.com/mgauthier/tradescope/pkg/validation"
)

// LoadDatasetInput defines parameters for loading a trade dataset.
type LoadDatasetInput struct {
	Path string `json:"path" validate:"required,datapath_ext" jsonschema_description:"Absolute or allowed path to a trade microdata file (.csv, .xlsx)"`
}

// LoadDatasetOutput documents the response fields for load_dataset.
type LoadDatasetOutput struct {
	DatasetID    string              `json:"dataset_id" jsonschema_description:"Server-assigned dataset handle ID"`
	Rows         int                 `json:"rows"`
	BadNumerics  int                 `json:"bad_numerics" jsonschema_description:"Cells absorbed as missing during numeric coercion"`
	Years        []int               `json:"years"`
	Capabilities engine.Capabilities `json:"capabilities"`
	PreviewLimit int                 `json:"previewRowLimit"`
}

// CloseDatasetInput defines parameters for closing a dataset handle.
type CloseDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID to close"`
}

// CloseDatasetOutput reports the close outcome.
type CloseDatasetOutput struct {
	Success bool `json:"success"`
}

// DescribeDatasetInput defines parameters for schema/summary discovery.
type DescribeDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
}

// DescribeDatasetOutput summarizes a loaded dataset without row data.
type DescribeDatasetOutput struct {
	DatasetID     string              `json:"dataset_id"`
	Rows          int                 `json:"rows"`
	Columns       []string            `json:"columns"`
	Capabilities  engine.Capabilities `json:"capabilities"`
	Years         []int               `json:"years"`
	TotalValue    float64             `json:"total_value"`
	TotalQuantity float64             `json:"total_quantity"`
}

// PreviewRowsInput defines parameters for a bounded filtered preview.
type PreviewRowsInput struct {
	DatasetID string `json:"dataset_id" validate:"required_without=Cursor" jsonschema_description:"Dataset handle ID"`
	FacetInput
	Rows   int    `json:"rows,omitempty" validate:"omitempty,min=1,max=1000" jsonschema_description:"Max rows per page (bounded)"`
	Cursor string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page; facets must not change between pages"`
}

// PreviewRowsOutput carries one page of the filtered table.
type PreviewRowsOutput struct {
	DatasetID     string     `json:"dataset_id"`
	Header        []string   `json:"header"`
	Rows          [][]string `json:"rows"`
	TotalValue    float64    `json:"total_value" jsonschema_description:"Sum of Value over the whole filtered view, not just this page"`
	TotalQuantity float64    `json:"total_quantity"`
	Meta          PageMeta   `json:"meta"`
}

// RegisterDatasetTools wires the dataset lifecycle tools.
func RegisterDatasetTools(s *server.MCPServer, reg *Registry, limits runtime.Limits, mgr *dataset.Manager, hooks *telemetry.Hooks) {
	// load_dataset
	load := mcp.NewTool(
		"load_dataset",
		mcp.WithDescription("Load and normalize a Canadian import microdata file (.csv or .xlsx) and return a dataset handle. Normalization canonicalizes bilingual headers, derives Year/Month/MonthName from YearMonth, zero-pads HS10 codes, and coerces numerics (unparseable cells become missing, row count is preserved). Reloading identical file bytes returns the cached handle. Errors include SCHEMA_ERROR (no YearMonth column), INVALID_PERIOD (month outside 1..12), and LOAD_FAILED."),
		mcp.WithInputSchema[LoadDatasetInput](),
		mcp.WithOutputSchema[LoadDatasetOutput](),
	)
	s.AddTool(load, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in LoadDatasetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		start := time.Now()
		id, err := mgr.Open(ctx, in.Path)
		if err != nil {
			return loadError(err), nil
		}
		var out LoadDatasetOutput
		out.DatasetID = id
		out.PreviewLimit = limits.PreviewRowLimit
		_ = mgr.WithDataset(id, func(ds *engine.Dataset) error {
			out.Rows = len(ds.Records)
			out.BadNumerics = ds.BadNumerics
			out.Years = distinctYears(ds, ds.All())
			out.Capabilities = ds.Caps
			return nil
		})
		if h, ok := mgr.Get(id); ok && hooks != nil {
			hooks.OnDatasetLoad(id, h.Fingerprint, out.Rows, out.BadNumerics, time.Since(start))
		}
		summary := fmt.Sprintf("dataset_id=%s rows=%d years=%d bad_numerics=%d", id, out.Rows, len(out.Years), out.BadNumerics)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(load)

	// close_dataset
	closeTool := mcp.NewTool(
		"close_dataset",
		mcp.WithDescription("Close a previously loaded dataset handle and release its capacity slot."),
		mcp.WithInputSchema[CloseDatasetInput](),
		mcp.WithOutputSchema[CloseDatasetOutput](),
	)
	s.AddTool(closeTool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CloseDatasetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		if err := mgr.CloseHandle(ctx, in.DatasetID); err != nil {
			return mcperr.New(mcperr.InvalidHandle, ""), nil
		}
		res := mcp.NewToolResultStructured(CloseDatasetOutput{Success: true}, "closed")
		return res, nil
	}))
	reg.Register(closeTool)

	// describe_dataset
	describe := mcp.NewTool(
		"describe_dataset",
		mcp.WithDescription("Return the schema-capability descriptor and summary statistics of a loaded dataset: canonical columns, which optional fields are present (province, state, PCI, descriptions, industry codes), distinct years, record count, and total import value/quantity. No row data."),
		mcp.WithInputSchema[DescribeDatasetInput](),
		mcp.WithOutputSchema[DescribeDatasetOutput](),
	)
	s.AddTool(describe, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in DescribeDatasetInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}
		var out DescribeDatasetOutput
		err := mgr.WithDataset(in.DatasetID, func(ds *engine.Dataset) error {
			out.DatasetID = in.DatasetID
			out.Rows = len(ds.Records)
			out.Columns = append([]string(nil), ds.Table.Header...)
			out.Capabilities = ds.Caps
			out.Years = distinctYears(ds, ds.All())
			out.TotalValue, out.TotalQuantity = viewTotals(ds, ds.All())
			return nil
		})
		if err != nil {
			return mcperr.New(mcperr.InvalidHandle, ""), nil
		}
		summary := fmt.Sprintf("rows=%d columns=%d years=%d total_value=%.2f", out.Rows, len(out.Columns), len(out.Years), out.TotalValue)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(describe)

	// preview_rows
	preview := mcp.NewTool(
		"preview_rows",
		mcp.WithDescription("Return a bounded page of the filtered table with pagination metadata and summary statistics (record count, total value, total quantity over the whole filtered view). Facets compose by AND; empty facets return the table unchanged. Cursors bind to the dataset and the facet selection; changing facets between pages is CURSOR_INVALID."),
		mcp.WithInputSchema[PreviewRowsInput](),
		mcp.WithOutputSchema[PreviewRowsOutput](),
	)
	s.AddTool(preview, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in PreviewRowsInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}

		pageSize := in.Rows
		if pageSize <= 0 || pageSize > limits.PreviewRowLimit {
			pageSize = limits.PreviewRowLimit
		}
		offset := 0
		datasetID := in.DatasetID
		if in.Cursor != "" {
			cur, err := pagination.DecodeCursor(in.Cursor)
			if err != nil {
				return mcperr.New(mcperr.CursorInvalid, err.Error()), nil
			}
			if datasetID != "" && datasetID != cur.Did {
				return mcperr.New(mcperr.CursorInvalid, "cursor belongs to a different dataset"), nil
			}
			if cur.Fh != "" && cur.Fh != in.FacetInput.Hash() {
				return mcperr.New(mcperr.CursorInvalid, "facets changed since cursor was issued"), nil
			}
			datasetID = cur.Did
			offset = cur.Off
			pageSize = cur.Ps
		}

		var out PreviewRowsOutput
		err := mgr.WithDataset(datasetID, func(ds *engine.Dataset) error {
			idx := in.FacetInput.Facets().Apply(ds)
			out.DatasetID = datasetID
			out.Header = append([]string(nil), ds.Table.Header...)
			out.TotalValue, out.TotalQuantity = viewTotals(ds, idx)
			out.Meta.Total = len(idx)

			end := offset + pageSize
			if end > len(idx) {
				end = len(idx)
			}
			if offset > len(idx) {
				offset = len(idx)
			}
			remaining := limits.MaxPayloadBytes
			for _, i := range idx[offset:end] {
				row := ds.Table.Rows[i]
				for _, c := range row {
					remaining -= len(c)
				}
				if remaining < 0 && len(out.Rows) > 0 {
					out.Meta.Truncated = true
					break
				}
				out.Rows = append(out.Rows, row)
			}
			out.Meta.Returned = len(out.Rows)
			next := pagination.NextOffset(offset, len(out.Rows))
			if next < len(idx) {
				out.Meta.Truncated = true
				token, err := pagination.EncodeCursor(pagination.Cursor{
					Did: datasetID,
					Fh:  in.FacetInput.Hash(),
					Off: next,
					Ps:  pageSize,
				})
				if err == nil {
					out.Meta.NextCursor = token
				}
			}
			return nil
		})
		if err != nil {
			return mcperr.New(mcperr.InvalidHandle, ""), nil
		}
		summary := fmt.Sprintf("total=%d returned=%d truncated=%v total_value=%.2f", out.Meta.Total, out.Meta.Returned, out.Meta.Truncated, out.TotalValue)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(preview)
}

// loadError maps load/normalization failures to catalog codes.
func loadError(err error) *mcp.CallToolResult {
	var schemaErr *engine.SchemaError
	var periodErr *engine.InvalidPeriodError
	switch {
	case errors.As(err, &schemaErr):
		return mcperr.Wrapf(mcperr.SchemaError, "%v", schemaErr)
	case errors.As(err, &periodErr):
		return mcperr.Wrapf(mcperr.InvalidPeriod, "%v", periodErr)
	default:
		return mcperr.Wrapf(mcperr.LoadFailed, "%v", err)
	}
}

// distinctYears returns the sorted distinct years of a view.
func distinctYears(ds *engine.Dataset, idx []int) []int {
	seen := map[int]struct{}{}
	var years []int
	for _, i := range idx {
		y := ds.Records[i].Year
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// viewTotals sums value and quantity over a view, skipping missing cells.
func viewTotals(ds *engine.Dataset, idx []int) (value, quantity float64) {
	for _, i := range idx {
		rec := ds.Records[i]
		if !math.IsNaN(rec.Value) {
			value += rec.Value
		}
		if !math.IsNaN(rec.Quantity) {
			quantity += rec.Quantity
		}
	}
	return value, quantity
}
