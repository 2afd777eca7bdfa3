package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{Did: "ds-1", Fh: "abc123", Off: 100, Ps: 50})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	c, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "ds-1", c.Did)
	assert.Equal(t, "abc123", c.Fh)
	assert.Equal(t, 100, c.Off)
	assert.Equal(t, 50, c.Ps)
	assert.Equal(t, 1, c.V, "version defaults to 1")
	assert.NotZero(t, c.Iat)
}

func TestEncodeCursorValidation(t *testing.T) {
	_, err := EncodeCursor(Cursor{Off: 0, Ps: 10})
	assert.Error(t, err, "dataset id required")

	_, err = EncodeCursor(Cursor{Did: "ds-1", Off: -1, Ps: 10})
	assert.Error(t, err)

	_, err = EncodeCursor(Cursor{Did: "ds-1", Off: 0, Ps: 0})
	assert.Error(t, err)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "   ", "!!!not-base64!!!", "bm90LWpzb24"} {
		_, err := DecodeCursor(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestNextOffset(t *testing.T) {
	assert.Equal(t, 150, NextOffset(100, 50))
	assert.Equal(t, 100, NextOffset(100, 0))
	assert.Equal(t, 10, NextOffset(-5, 10))
}
