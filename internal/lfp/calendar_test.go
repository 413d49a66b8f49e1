package lfp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysFromCivil_MatchesTimePackage(t *testing.T) {
	dates := []struct {
		year  int64
		month int
		day   int
	}{
		{1900, 1, 1},
		{1970, 1, 1},
		{2000, 2, 29},
		{2021, 6, 1},
		{2038, 1, 19},
		{2038, 1, 20},
		{2100, 3, 1},
		{2400, 12, 31},
	}

	for _, d := range dates {
		want := time.Date(int(d.year), time.Month(d.month), d.day, 0, 0, 0, 0, time.UTC).Unix() / SecondsPerDay
		got := DaysFromCivil(d.year, d.month, d.day)
		assert.Equal(t, want, got, "%04d-%02d-%02d", d.year, d.month, d.day)

		y, m, dd := CivilFromDays(got)
		assert.Equal(t, d.year, y)
		assert.Equal(t, d.month, m)
		assert.Equal(t, d.day, dd)
	}
}

func TestCivilFromDays_RoundTrip(t *testing.T) {
	for days := int64(-800000); days < 800000; days += 37 {
		y, m, d := CivilFromDays(days)
		require.Equal(t, days, DaysFromCivil(y, m, d))
	}
}

func TestParseISO(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantSec  int64
		wantNsec int64
		wantErr  error
	}{
		{"with_fraction", "2021-06-01T12:00:00.500Z", 1622548800, 500000000, nil},
		{"without_fraction", "2021-06-01T12:00:00Z", 1622548800, 0, nil},
		{"nanoseconds", "2021-06-01T12:00:00.123456789Z", 1622548800, 123456789, nil},
		{"excess_fraction_digits_ignored", "2021-06-01T12:00:00.1234567891Z", 1622548800, 123456789, nil},
		{"past_2038", "2106-02-07T06:28:16Z", 4294967296, 0, nil},
		{"leap_second", "2016-12-31T23:59:60Z", 1483228800, 0, nil},
		{"missing_zone", "2021-06-01T12:00:00.5", 0, 0, ErrBadTimeFormat},
		{"trailing_garbage", "2021-06-01T12:00:00.5Zx", 0, 0, ErrTrailingGarbage},
		{"bad_month", "2021-13-01T12:00:00Z", 0, 0, ErrBadTimeFormat},
		{"bad_separator", "2021/06/01T12:00:00Z", 0, 0, ErrBadTimeFormat},
		{"empty", "", 0, 0, ErrBadTimeFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseISO([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			sec, nsec := ts.Unix(tt.wantSec)
			assert.Equal(t, tt.wantSec, sec)
			assert.Equal(t, tt.wantNsec, nsec)
		})
	}
}

func TestFormatUnix(t *testing.T) {
	assert.Equal(t, "1970-01-01T00:00:00.000000000Z", FormatUnix(0, 0))
	assert.Equal(t, "2021-06-01T12:00:00.500000000Z", FormatUnix(1622548800, 500000000))
	assert.Equal(t, "1969-12-31T23:59:59.000000000Z", FormatUnix(-1, 0))
}
