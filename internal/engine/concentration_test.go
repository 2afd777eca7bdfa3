package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concDataset(t *testing.T, rows [][]string) *Dataset {
	t.Helper()
	ds, err := Normalize(Table{
		Header: []string{"YearMonth", "HS10", "SUPC", "Description", "Country", "Value"},
		Rows:   rows,
	})
	require.NoError(t, err)
	return ds
}

func TestComputeConcentrationSingleSupplier(t *testing.T) {
	ds := concDataset(t, [][]string{
		{"202301", "123456", "S1", "Widgets", "China", "1000"},
	})
	products, shares := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 1)
	require.Len(t, shares, 1)

	assert.InDelta(t, 1.0, products[0].HHI, 1e-12, "a single supplier is full concentration")
	assert.Equal(t, 1000.0, products[0].TotalValue)
	assert.Equal(t, 1, products[0].Rank)
	assert.InDelta(t, 1.0, shares[0].Share, 1e-12)
}

func TestComputeConcentrationSumsDuplicatesBeforeShares(t *testing.T) {
	// Two UoM lines for the same (period, product, country) must be summed
	// first; otherwise the same country would count as two suppliers.
	ds := concDataset(t, [][]string{
		{"202301", "123456", "S1", "Widgets", "China", "600"},
		{"202301", "123456", "S1", "Widgets", "China", "400"},
		{"202301", "123456", "S1", "Widgets", "Germany", "1000"},
	})
	products, shares := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 1)
	require.Len(t, shares, 2, "duplicates collapse to one share row per country")

	assert.InDelta(t, 0.5, shares[0].Share, 1e-12)
	assert.InDelta(t, 0.5, shares[1].Share, 1e-12)
	assert.InDelta(t, 0.5, products[0].HHI, 1e-12)
	assert.Equal(t, 2000.0, products[0].TotalValue)
}

func TestComputeConcentrationSharesSumToOne(t *testing.T) {
	ds := concDataset(t, [][]string{
		{"202301", "123456", "S1", "Widgets", "China", "700"},
		{"202301", "123456", "S1", "Widgets", "Germany", "200"},
		{"202301", "123456", "S1", "Widgets", "Japan", "100"},
		{"202301", "789012", "S2", "Gadgets", "USA", "50"},
	})
	products, shares := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 2)

	sums := map[productKey]float64{}
	for _, sh := range shares {
		sums[productKey{sh.Period, sh.HS10, sh.SUPC}] += sh.Share
	}
	for k, s := range sums {
		assert.InDelta(t, 1.0, s, 1e-9, "shares for %v", k)
	}

	for _, p := range products {
		assert.Greater(t, p.HHI, 0.0)
		assert.LessOrEqual(t, p.HHI, 1.0)
	}
}

func TestComputeConcentrationSplittingLowersHHI(t *testing.T) {
	one := concDataset(t, [][]string{
		{"202301", "123456", "S1", "W", "China", "1000"},
	})
	two := concDataset(t, [][]string{
		{"202301", "123456", "S1", "W", "China", "500"},
		{"202301", "123456", "S1", "W", "Germany", "500"},
	})
	p1, _ := ComputeConcentration(one, one.All())
	p2, _ := ComputeConcentration(two, two.All())
	assert.Greater(t, p1[0].HHI, p2[0].HHI, "splitting volume across suppliers must lower concentration")
}

func TestComputeConcentrationZeroTotalIsZeroNotNaN(t *testing.T) {
	ds := concDataset(t, [][]string{
		{"202301", "123456", "S1", "W", "China", "0"},
		{"202301", "123456", "S1", "W", "Germany", "0"},
	})
	products, shares := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 1)

	assert.Equal(t, 0.0, products[0].HHI)
	assert.False(t, math.IsNaN(products[0].HHI))
	for _, sh := range shares {
		assert.Equal(t, 0.0, sh.Share)
		assert.False(t, math.IsNaN(sh.Share))
	}
}

func TestComputeConcentrationDropsMissingValues(t *testing.T) {
	ds, err := Normalize(Table{
		Header: []string{"YearMonth", "HS10", "Country", "Value"},
		Rows: [][]string{
			{"202301", "123456", "China", "1000"},
			{"202301", "123456", "Germany", "confidential"},
		},
	})
	require.NoError(t, err)

	products, shares := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 1)
	require.Len(t, shares, 1, "the unparseable row contributes nothing")
	assert.InDelta(t, 1.0, products[0].HHI, 1e-12)
}

func TestComputeConcentrationRanksPerPeriod(t *testing.T) {
	ds := concDataset(t, [][]string{
		// 202301: product A concentrated (one supplier), product B split.
		{"202301", "111111", "S1", "A", "China", "1000"},
		{"202301", "222222", "S2", "B", "China", "500"},
		{"202301", "222222", "S2", "B", "Germany", "500"},
		// 202402: only product B, single supplier.
		{"202402", "222222", "S2", "B", "USA", "300"},
	})
	products, _ := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 3)

	// Sorted by (period asc, HHI desc); ranks are a dense 1..N per period.
	assert.Equal(t, 202301, products[0].Period)
	assert.Equal(t, "0000111111", products[0].HS10)
	assert.Equal(t, 1, products[0].Rank)

	assert.Equal(t, 202301, products[1].Period)
	assert.Equal(t, "0000222222", products[1].HS10)
	assert.Equal(t, 2, products[1].Rank)

	assert.Equal(t, 202402, products[2].Period)
	assert.Equal(t, 1, products[2].Rank, "rank restarts in each period")

	for i := 1; i < len(products); i++ {
		if products[i].Period == products[i-1].Period {
			assert.LessOrEqual(t, products[i].HHI, products[i-1].HHI)
			assert.Equal(t, products[i-1].Rank+1, products[i].Rank)
		}
	}
}

func TestComputeConcentrationTiesKeepInputOrder(t *testing.T) {
	// Both products have a single supplier, so HHI ties at 1; the stable sort
	// must keep first-encountered product order.
	ds := concDataset(t, [][]string{
		{"202301", "222222", "S2", "B", "China", "10"},
		{"202301", "111111", "S1", "A", "China", "10"},
	})
	products, _ := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 2)
	assert.Equal(t, "0000222222", products[0].HS10)
	assert.Equal(t, "0000111111", products[1].HS10)
}

func TestComputeConcentrationRepresentativeLabels(t *testing.T) {
	ds, err := Normalize(Table{
		Header: []string{"YearMonth", "HS10", "Description", "Country", "Value", "pci"},
		Rows: [][]string{
			{"202301", "123456", "", "China", "100", ""},
			{"202301", "123456", "Steel pipes", "Germany", "100", "1.5"},
		},
	})
	require.NoError(t, err)

	products, _ := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 1)
	assert.Equal(t, "Steel pipes", products[0].Description, "first non-empty label wins")
	assert.Equal(t, 1.5, products[0].PCI, "first parseable complexity score wins")
}

func TestComputeConcentrationPCIAbsentIsNaN(t *testing.T) {
	ds := concDataset(t, [][]string{
		{"202301", "123456", "S1", "W", "China", "100"},
	})
	products, _ := ComputeConcentration(ds, ds.All())
	require.Len(t, products, 1)
	assert.True(t, math.IsNaN(products[0].PCI))
}

func TestComputeConcentrationEmptyView(t *testing.T) {
	ds := concDataset(t, [][]string{
		{"202301", "123456", "S1", "W", "China", "100"},
	})
	products, shares := ComputeConcentration(ds, nil)
	assert.Empty(t, products)
	assert.Empty(t, shares)
}
