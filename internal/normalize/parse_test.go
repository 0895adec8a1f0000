package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		s    string
		want float64
	}{
		{"plain", "42", 42},
		{"thousands", "12,345,678", 12345678},
		{"won glyph", "₩1,000", 1000},
		{"won suffix", "1,000원", 1000},
		{"whitespace", "  7 000 ", 7000},
		{"percent", "88.1%", 88.1},
		{"decimal", "3.5", 3.5},
		{"negative", "-12", -12},
		{"empty", "", 0},
		{"dash", "-", 0},
		{"na", "N/A", 0},
		{"na lower", "n/a", 0},
		{"garbage", "abc", 0},
		{"mixed garbage", "12명", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseNumber(tt.s), 1e-9)
		})
	}
}

func TestParseNumberOK_ReportsOnlyUnparseable(t *testing.T) {
	_, ok := parseNumberOK("")
	assert.True(t, ok)
	_, ok = parseNumberOK("-")
	assert.True(t, ok)
	_, ok = parseNumberOK("1,234")
	assert.True(t, ok)
	_, ok = parseNumberOK("twelve")
	assert.False(t, ok)
}

func TestParsePercent_NoScaling(t *testing.T) {
	assert.InDelta(t, 88.1, ParsePercent("88.1"), 1e-9)
	assert.InDelta(t, 88.1, ParsePercent("88.1 %"), 1e-9)
	assert.InDelta(t, 100.0, ParsePercent("100%"), 1e-9)
}

func TestParseCount_ClampsNegative(t *testing.T) {
	v, ok := parseCount("-5")
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	v, _ = parseCount("19.6")
	assert.Equal(t, 20, v)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		s    string
	}{
		{"iso", "2024-03-05"},
		{"iso unpadded", "2024-3-5"},
		{"dotted", "2024.03.05"},
		{"dotted spaced", "2024. 3. 5."},
		{"slashed", "2024/03/05"},
		{"compact", "20240305"},
		{"with time", "2024-03-05 09:30:00"},
		{"rfc3339", "2024-03-05T09:30:00+09:00"},
		{"korean", "2024년 3월 5일"},
		{"padded", "  2024-03-05  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.s)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestParseDate_Failures(t *testing.T) {
	_, err := ParseDate("")
	assert.ErrorIs(t, err, ErrEmptyDate)

	_, err = ParseDate("-")
	assert.ErrorIs(t, err, ErrEmptyDate)

	_, err = ParseDate("next tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized date")

	_, err = ParseDate("2024-13-45")
	require.Error(t, err)
}

func TestIsPresent(t *testing.T) {
	assert.False(t, isPresent(""))
	assert.False(t, isPresent("0"))
	assert.False(t, isPresent("  "))
	assert.True(t, isPresent("삼성전자"))
}
