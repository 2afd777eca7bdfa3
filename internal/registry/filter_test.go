package registry

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

func TestExportToolFilterHidesExportTools(t *testing.T) {
	tools := []mcp.Tool{
		{Name: "load_dataset"},
		{Name: "export_table"},
		{Name: "concentration_table"},
	}

	f := &ExportToolFilter{allowExports: false}
	got := f.FilterTools(context.Background(), tools)
	assert.Equal(t, []string{"load_dataset", "concentration_table"}, toolNames(got))

	f = &ExportToolFilter{allowExports: true}
	got = f.FilterTools(context.Background(), tools)
	assert.Equal(t, []string{"load_dataset", "export_table", "concentration_table"}, toolNames(got))
}

func TestNewExportToolFilterFromEnv(t *testing.T) {
	t.Setenv("TRADESCOPE_ENABLE_EXPORT", "")
	assert.False(t, NewExportToolFilterFromEnv().allowExports)

	for _, v := range []string{"1", "true", "YES"} {
		t.Setenv("TRADESCOPE_ENABLE_EXPORT", v)
		assert.True(t, NewExportToolFilterFromEnv().allowExports, "value %q", v)
	}

	t.Setenv("TRADESCOPE_ENABLE_EXPORT", "0")
	assert.False(t, NewExportToolFilterFromEnv().allowExports)
}

func TestRegistryStableOrder(t *testing.T) {
	r := New()
	r.Register(mcp.Tool{Name: "zeta"})
	r.Register(mcp.Tool{Name: "alpha"})
	r.Register(mcp.Tool{Name: "mid"})

	tools, err := r.Tools(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, toolNames(tools))

	_, ok := r.Get("alpha")
	assert.True(t, ok)
	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestFacetInputHash(t *testing.T) {
	a := FacetInput{Country: "China", Years: []int{2023}}
	b := FacetInput{Country: "China", Years: []int{2023}}
	c := FacetInput{Country: "Germany", Years: []int{2023}}

	assert.Equal(t, a.Hash(), b.Hash(), "equal selections hash equal")
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 12)
}

func TestProductFacetInputHasNoOriginFields(t *testing.T) {
	f := ProductFacetInput{Years: []int{2023}, HSContains: "1234"}
	facets := f.Facets()
	assert.Empty(t, facets.Country)
	assert.Empty(t, facets.Province)
	assert.Empty(t, facets.State)
	assert.Equal(t, []int{2023}, facets.Years)
}
