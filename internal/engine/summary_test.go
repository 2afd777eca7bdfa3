package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Normalize(Table{
		Header: []string{"YearMonth", "HS10", "SUPC", "Description", "Country", "UoM", "Value", "Quantity"},
		Rows: [][]string{
			{"202301", "123456", "S100", "Steel pipes", "China", "KGM", "600", "60"},
			{"202301", "123456", "S100", "Steel pipes", "Germany", "KGM", "300", "30"},
			{"202301", "123456", "S100", "Steel pipes", "Japan", "KGM", "100", "10"},
			{"202402", "123456", "S100", "Steel pipes", "China", "KGM", "500", "50"},
			{"202402", "123456", "S100", "Steel pipes", "USA", "KGM", "500", "50"},
			{"202301", "789012", "S200", "Copper wire", "Chile", "KGM", "999", "1"},
		},
	})
	require.NoError(t, err)
	return ds
}

func TestSummarizeBasics(t *testing.T) {
	ds := summaryDataset(t)

	sum, err := Summarize(ds, ds.All(), "123456", "")
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Matches)
	assert.Equal(t, 2000.0, sum.TotalValue)
	assert.Equal(t, 200.0, sum.TotalQuantity)

	// Representative is the first match in input order.
	assert.Equal(t, "0000123456", sum.Representative.HS10)
	assert.Equal(t, "China", sum.Representative.Country)
	assert.Equal(t, 202301, sum.Representative.Period)
}

func TestSummarizeWholeView(t *testing.T) {
	// Empty queries summarize the entire view: the original dashboards show the
	// top source countries even before any product is selected.
	ds := summaryDataset(t)
	sum, err := Summarize(ds, ds.All(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Matches)
	assert.Equal(t, 2999.0, sum.TotalValue)
}

func TestSummarizeEmptyMatch(t *testing.T) {
	ds := summaryDataset(t)
	_, err := Summarize(ds, ds.All(), "000000xx", "")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestSummarizeBySUPC(t *testing.T) {
	ds := summaryDataset(t)
	sum, err := Summarize(ds, ds.All(), "", "s200")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Matches)
	assert.Equal(t, "Copper wire", sum.Representative.Description)
}

func TestSummarizeTopCountries(t *testing.T) {
	ds := summaryDataset(t)
	sum, err := Summarize(ds, ds.All(), "123456", "")
	require.NoError(t, err)

	require.Len(t, sum.TopCountries, 5)

	// Within each period rows sort by value descending and shares are
	// percentages of the period total, rounded to two decimals.
	first := sum.TopCountries[0]
	assert.Equal(t, 202301, first.Period)
	assert.Equal(t, "China", first.Country)
	assert.Equal(t, 600.0, first.Value)
	assert.Equal(t, 60.0, first.SharePercent)

	assert.Equal(t, "Germany", sum.TopCountries[1].Country)
	assert.Equal(t, 30.0, sum.TopCountries[1].SharePercent)
	assert.Equal(t, "Japan", sum.TopCountries[2].Country)
	assert.Equal(t, 10.0, sum.TopCountries[2].SharePercent)

	// The 202402 tie keeps input order under the stable sort.
	assert.Equal(t, 202402, sum.TopCountries[3].Period)
	assert.Equal(t, "China", sum.TopCountries[3].Country)
	assert.Equal(t, "USA", sum.TopCountries[4].Country)
	assert.Equal(t, 50.0, sum.TopCountries[4].SharePercent)
}

func TestSummarizeTopCountriesCappedPerPeriod(t *testing.T) {
	rows := make([][]string, 0, TopCountryLimit+5)
	for i := 0; i < TopCountryLimit+5; i++ {
		rows = append(rows, []string{"202301", "123456", fmt.Sprintf("Country%02d", i), fmt.Sprintf("%d", 100-i)})
	}
	ds, err := Normalize(Table{
		Header: []string{"YearMonth", "HS10", "Country", "Value"},
		Rows:   rows,
	})
	require.NoError(t, err)

	sum, err := Summarize(ds, ds.All(), "123456", "")
	require.NoError(t, err)
	assert.Len(t, sum.TopCountries, TopCountryLimit)
	assert.Equal(t, "Country00", sum.TopCountries[0].Country, "highest value first")
}

func TestSummarizeYearlyAndAggregateHHI(t *testing.T) {
	ds := summaryDataset(t)
	sum, err := Summarize(ds, ds.All(), "123456", "")
	require.NoError(t, err)

	require.Len(t, sum.YearlyHHI, 2)
	assert.Equal(t, 2023, sum.YearlyHHI[0].Year)
	assert.Equal(t, 2024, sum.YearlyHHI[1].Year)

	// 2023: shares 0.6/0.3/0.1 -> 0.46; 2024: 0.5/0.5 -> 0.5.
	assert.InDelta(t, 0.46, sum.YearlyHHI[0].HHI, 1e-9)
	assert.InDelta(t, 0.5, sum.YearlyHHI[1].HHI, 1e-9)

	// Aggregate lumps every matched row across periods:
	// China 1100, Germany 300, Japan 100, USA 500 of 2000.
	want := 0.55*0.55 + 0.15*0.15 + 0.05*0.05 + 0.25*0.25
	assert.InDelta(t, want, sum.AggregateHHI, 1e-9)
}

func TestSummarizeZeroValueSubsetHHI(t *testing.T) {
	ds, err := Normalize(Table{
		Header: []string{"YearMonth", "HS10", "Country", "Value"},
		Rows: [][]string{
			{"202301", "123456", "China", "0"},
			{"202301", "123456", "Germany", "0"},
		},
	})
	require.NoError(t, err)

	sum, err := Summarize(ds, ds.All(), "123456", "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum.AggregateHHI, "zero totals yield zero, never NaN")
}
