package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mgauthier/tradescope/internal/engine"
)

const sampleCSV = "YearMonth,HS10,Country,Value\n202301,123456,China,1000\n202301,123456,Germany,500\n"

func writeSample(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestManagerOpenNormalizes(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil, nil)
	path := writeSample(t, "trade.csv", sampleCSV)

	id, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	err = m.WithDataset(id, func(ds *engine.Dataset) error {
		assert.Len(t, ds.Records, 2)
		assert.Equal(t, "0000123456", ds.Records[0].HS10)
		assert.Equal(t, 2023, ds.Records[0].Year)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestManagerContentHashCache(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil, nil)

	// Same bytes under two different names resolve to one handle.
	a := writeSample(t, "a.csv", sampleCSV)
	b := writeSample(t, "b.csv", sampleCSV)

	idA, err := m.Open(context.Background(), a)
	require.NoError(t, err)
	idB, err := m.Open(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, idA, idB)
	assert.Equal(t, 1, m.Count())

	// Different bytes get their own handle.
	c := writeSample(t, "c.csv", sampleCSV+"202302,789012,Japan,42\n")
	idC, err := m.Open(context.Background(), c)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idC)
	assert.Equal(t, 2, m.Count())
}

func TestManagerUnsupportedExtension(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil, nil)
	_, err := m.Open(context.Background(), writeSample(t, "trade.txt", sampleCSV))
	assert.Error(t, err)
}

func TestManagerLoadErrors(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil, nil)

	_, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	// Missing YearMonth aborts normalization.
	bad := writeSample(t, "bad.csv", "HS10,Country,Value\n123456,China,10\n")
	_, err = m.Open(context.Background(), bad)
	var schemaErr *engine.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestManagerCloseHandle(t *testing.T) {
	m := NewManager(time.Minute, time.Minute, nil, nil, nil)
	path := writeSample(t, "trade.csv", sampleCSV)

	id, err := m.Open(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, m.CloseHandle(context.Background(), id))
	assert.Equal(t, 0, m.Count())
	assert.ErrorIs(t, m.WithDataset(id, func(*engine.Dataset) error { return nil }), ErrHandleNotFound)
	assert.ErrorIs(t, m.CloseHandle(context.Background(), id), ErrHandleNotFound)

	// A reopen after close is a fresh handle, not a stale cache hit.
	id2, err := m.Open(context.Background(), path)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestManagerTTLEviction(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	m := NewManager(10*time.Minute, time.Minute, nil, nil, clock)

	id, err := m.Open(context.Background(), writeSample(t, "trade.csv", sampleCSV))
	require.NoError(t, err)

	// Not yet expired.
	now = now.Add(5 * time.Minute)
	m.EvictExpired()
	assert.Equal(t, 1, m.Count())

	// Get refreshes the idle TTL.
	_, ok := m.Get(id)
	require.True(t, ok)
	now = now.Add(9 * time.Minute)
	m.EvictExpired()
	assert.Equal(t, 1, m.Count())

	now = now.Add(2 * time.Minute)
	m.EvictExpired()
	assert.Equal(t, 0, m.Count())
	_, ok = m.Get(id)
	assert.False(t, ok)
}

type countingGate struct {
	acquired int
	released int
}

func (g *countingGate) AcquireDataset(ctx context.Context) error { g.acquired++; return nil }
func (g *countingGate) ReleaseDataset()                          { g.released++ }

func TestManagerGateAccounting(t *testing.T) {
	gate := &countingGate{}
	m := NewManager(time.Minute, time.Minute, gate, nil, nil)

	a := writeSample(t, "a.csv", sampleCSV)
	id, err := m.Open(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, gate.acquired)

	// A cache hit consumes no extra capacity.
	_, err = m.Open(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 1, gate.acquired)

	require.NoError(t, m.CloseHandle(context.Background(), id))
	assert.Equal(t, 1, gate.released)
}

func TestParseCSVStripsBOM(t *testing.T) {
	raw, err := parseCSV([]byte("\xef\xbb\xbfA,B\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, raw.Header, "UTF-8 BOM must be stripped")
	require.Len(t, raw.Rows, 1)
}

func TestParseTableXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]string{"YearMonth", "HS10", "Value"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]string{"202301", "123456", "1000"}))
	path := filepath.Join(t.TempDir(), "trade.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	raw, err := parseTable(path, data)
	require.NoError(t, err)
	assert.Equal(t, []string{"YearMonth", "HS10", "Value"}, raw.Header)
	require.Len(t, raw.Rows, 1)
	assert.Equal(t, "202301", raw.Rows[0][0])
}

func TestParseCSVRagged(t *testing.T) {
	raw, err := parseCSV([]byte("A,B,C\n1,2\n1,2,3,4\n"))
	require.NoError(t, err)
	assert.Len(t, raw.Rows, 2)
}
