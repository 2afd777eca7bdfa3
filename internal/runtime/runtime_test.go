package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgauthier/tradescope/config"
)

func TestNewLimitsDefaults(t *testing.T) {
	l := NewLimits(0, 0)
	assert.Equal(t, config.DefaultMaxConcurrentRequests, l.MaxConcurrentRequests)
	assert.Equal(t, config.DefaultMaxOpenDatasets, l.MaxOpenDatasets)
	assert.Equal(t, config.DefaultPreviewRowLimit, l.PreviewRowLimit)
	assert.Equal(t, config.DefaultMaxExportRows, l.MaxExportRows)

	l = NewLimits(3, 2)
	assert.Equal(t, 3, l.MaxConcurrentRequests)
	assert.Equal(t, 2, l.MaxOpenDatasets)
}

func TestControllerDatasetCapacity(t *testing.T) {
	limits := NewLimits(1, 1)
	c := NewController(limits)

	require.NoError(t, c.AcquireDataset(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireDataset(ctx), "second acquire must block until release")

	c.ReleaseDataset()
	require.NoError(t, c.AcquireDataset(context.Background()))
	c.ReleaseDataset()
}

func TestToolMiddlewareBusyResource(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.AcquireRequestTimeout = 20 * time.Millisecond
	c := NewController(limits)
	mw := NewMiddleware(c)

	// Occupy the only request slot so the wrapped call cannot acquire.
	require.NoError(t, c.AcquireRequest(context.Background()))
	defer c.ReleaseRequest()

	handler := mw.ToolMiddleware(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t.Fatal("handler must not run without a slot")
		return nil, nil
	})

	res, err := handler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
}

func TestToolMiddlewarePassesThrough(t *testing.T) {
	c := NewController(NewLimits(2, 1))
	mw := NewMiddleware(c)

	var handler server.ToolHandlerFunc = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}
	res, err := mw.ToolMiddleware(handler)(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.IsError)
}
