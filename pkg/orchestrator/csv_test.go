package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsInventoryFile(t *testing.T) {
	assert.True(t, IsInventoryFile("dm-ACME.csv"))
	assert.False(t, IsInventoryFile("dm-ACME.txt"))
	assert.False(t, IsInventoryFile("routes_called_calling.csv"))
	assert.False(t, IsInventoryFile("called_calling_export.csv"))
}

func TestExtractNumbers(t *testing.T) {
	body := []byte("called\n5551000,extra\n 5551001 \n\n5551000\nCalled\n5551002")
	got := ExtractNumbers(body)
	assert.Equal(t, []string{"5551000", "5551001", "5551002"}, got)
}

func TestExtractNumbersCRLF(t *testing.T) {
	body := []byte("called\r\n5551000\r\n5551001\r\n")
	assert.Equal(t, []string{"5551000", "5551001"}, ExtractNumbers(body))
}

func TestExtractNumbersRoundTrip(t *testing.T) {
	numbers := []string{"5551000", "5551001", "5551002"}
	assert.Equal(t, numbers, ExtractNumbers(RenderCSV(numbers)))
}

func TestEndOfMonth(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	in := time.Date(2026, time.February, 10, 15, 4, 5, 0, loc)
	got := endOfMonth(in)

	assert.Equal(t, time.February, got.Month())
	assert.Equal(t, 28, got.Day())
	assert.Equal(t, loc, got.Location())
	assert.True(t, got.Before(time.Date(2026, time.March, 1, 0, 0, 0, 0, loc)))
	assert.True(t, got.After(time.Date(2026, time.February, 28, 23, 59, 59, 0, loc)))

	dec := endOfMonth(time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, time.December, dec.Month())
	assert.Equal(t, 31, dec.Day())
}
