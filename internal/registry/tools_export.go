package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mgauthier/tradescope/internal/dataset"
	"github.com/mgauthier/tradescope/internal/engine"
	"github.com/mgauthier/tradescope/internal/export"
	"github.com/mgauthier/tradescope/internal/runtime"
	"github.com/mgauthier/tradescope/internal/security"
	"github.com/mgauthier/tradescope/pkg/mcperr"
	"github.com/mgauthier/tradescope/pkg/validation"
)

// ExportTableInput defines parameters for writing a filtered view to a file.
// The output format follows the target extension (.csv or .xlsx).
type ExportTableInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID"`
	FacetInput
	Path string `json:"path" validate:"required" jsonschema_description:"Target file path inside an allowed directory; extension picks the format (.csv, .xlsx)"`
}

// ExportTableOutput reports what was written.
type ExportTableOutput struct {
	Path      string `json:"path"`
	Rows      int    `json:"rows"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated" jsonschema_description:"True when the view exceeded the export row cap and was cut off"`
}

// RegisterExportTools wires the file-export tool. The tool stays registered
// even when exports are disabled; the server-level tool filter hides it from
// discovery in that case.
func RegisterExportTools(s *server.MCPServer, reg *Registry, limits runtime.Limits, mgr *dataset.Manager, sec *security.Manager) {
	exp := mcp.NewTool(
		"export_table",
		mcp.WithDescription("Write the filtered view of a dataset to a .csv or .xlsx file inside an allowed directory. The header row is always included; views larger than the export row cap are truncated and flagged. Facets compose by AND exactly as in preview_rows."),
		mcp.WithInputSchema[ExportTableInput](),
		mcp.WithOutputSchema[ExportTableOutput](),
	)
	s.AddTool(exp, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ExportTableInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcp.NewToolResultError(msg), nil
		}

		target, err := sec.ValidateCreatePath(in.Path)
		if err != nil {
			return securityError(err), nil
		}

		var out ExportTableOutput
		var data []byte
		werr := mgr.WithDataset(in.DatasetID, func(ds *engine.Dataset) error {
			idx := in.FacetInput.Facets().Apply(ds)
			if len(idx) > limits.MaxExportRows {
				idx = idx[:limits.MaxExportRows]
				out.Truncated = true
			}
			var err error
			switch strings.ToLower(filepath.Ext(target)) {
			case ".csv":
				data, err = export.CSV(ds, idx)
			case ".xlsx":
				data, err = export.XLSX(ds, idx)
			default:
				return fmt.Errorf("unsupported export format %q", filepath.Ext(target))
			}
			out.Rows = len(idx)
			return err
		})
		if werr != nil {
			if werr == dataset.ErrHandleNotFound {
				return mcperr.New(mcperr.InvalidHandle, ""), nil
			}
			return mcperr.Wrapf(mcperr.ExportFailed, "%v", werr), nil
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return mcperr.Wrapf(mcperr.ExportFailed, "write %s: %v", target, err), nil
		}
		out.Path = target
		out.Bytes = len(data)

		summary := fmt.Sprintf("path=%s rows=%d bytes=%d truncated=%v", out.Path, out.Rows, out.Bytes, out.Truncated)
		res := mcp.NewToolResultStructured(out, summary)
		res.Content = []mcp.Content{mcp.NewTextContent(summary)}
		return res, nil
	}))
	reg.Register(exp)
}
