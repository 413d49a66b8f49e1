package lfp

import (
	"errors"
	"strconv"
)

// SecondsPerDay is the length of a civil day without leap seconds
const SecondsPerDay = 86400

// Calendar errors
var (
	// ErrBadTimeFormat indicates a time string that does not match the ISO-8601 layout
	ErrBadTimeFormat = errors.New("malformed ISO-8601 time")

	// ErrTrailingGarbage indicates extra bytes after the terminating 'Z'
	ErrTrailingGarbage = errors.New("trailing garbage after time")
)

// DaysFromCivil returns the number of days since 1970-01-01 for a date in
// the proleptic Gregorian calendar. Works for any year representable in int64
// without overflow in practice (|year| < 2^40).
func DaysFromCivil(year int64, month, day int) int64 {
	y := year
	if month <= 2 {
		y--
	}
	era := floorDiv(y, 400)
	yoe := y - era*400
	m := int64(month)
	var mp int64
	if m > 2 {
		mp = m - 3
	} else {
		mp = m + 9
	}
	doy := (153*mp+2)/5 + int64(day) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// CivilFromDays is the inverse of DaysFromCivil
func CivilFromDays(days int64) (year int64, month, day int) {
	z := days + 719468
	era := floorDiv(z, 146097)
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	day = int(doy - (153*mp+2)/5 + 1)
	if mp < 10 {
		month = int(mp + 3)
	} else {
		month = int(mp - 9)
	}
	year = yoe + era*400
	if month <= 2 {
		year++
	}
	return year, month, day
}

// FromCivil converts a UTC calendar date and time of day to a timestamp
func FromCivil(year int64, month, day, hour, minute, second int, nsec int64) Timestamp {
	days := DaysFromCivil(year, month, day)
	sec := days*SecondsPerDay + int64(hour)*3600 + int64(minute)*60 + int64(second)
	return FromUnix(sec, nsec)
}

// ParseISO parses a time of the form YYYY-MM-DDTHH:MM:SS[.fff...]Z.
// Fraction digits beyond nanosecond resolution are ignored.
func ParseISO(b []byte) (Timestamp, error) {
	var (
		fields [6]int64
		seps   = [6]byte{'-', '-', 'T', ':', ':', 0}
		pos    int
	)
	for i := range fields {
		start := pos
		for pos < len(b) && b[pos] >= '0' && b[pos] <= '9' {
			fields[i] = fields[i]*10 + int64(b[pos]-'0')
			pos++
			if pos-start > 9 {
				return 0, ErrBadTimeFormat
			}
		}
		if pos == start {
			return 0, ErrBadTimeFormat
		}
		if seps[i] != 0 {
			if pos >= len(b) || b[pos] != seps[i] {
				return 0, ErrBadTimeFormat
			}
			pos++
		}
	}

	year, month, day := fields[0], fields[1], fields[2]
	hour, minute, second := fields[3], fields[4], fields[5]
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 60 {
		return 0, ErrBadTimeFormat
	}

	var nsec int64
	if pos < len(b) && b[pos] == '.' {
		weight := int64(100000000)
		for pos++; pos < len(b) && b[pos] >= '0' && b[pos] <= '9'; pos++ {
			nsec += int64(b[pos]-'0') * weight
			weight /= 10
		}
	}
	if pos >= len(b) || b[pos] != 'Z' {
		return 0, ErrBadTimeFormat
	}
	if pos+1 != len(b) {
		return 0, ErrTrailingGarbage
	}

	return FromCivil(year, int(month), int(day), int(hour), int(minute), int(second), nsec), nil
}

// FormatUnix renders Unix seconds and nanoseconds as YYYY-MM-DDTHH:MM:SS.nnnnnnnnnZ
func FormatUnix(sec, nsec int64) string {
	days := floorDiv(sec, SecondsPerDay)
	rem := floorMod(sec, SecondsPerDay)
	year, month, day := CivilFromDays(days)

	buf := make([]byte, 0, 32)
	buf = appendPadded(buf, year, 4)
	buf = append(buf, '-')
	buf = appendPadded(buf, int64(month), 2)
	buf = append(buf, '-')
	buf = appendPadded(buf, int64(day), 2)
	buf = append(buf, 'T')
	buf = appendPadded(buf, rem/3600, 2)
	buf = append(buf, ':')
	buf = appendPadded(buf, rem/60%60, 2)
	buf = append(buf, ':')
	buf = appendPadded(buf, rem%60, 2)
	buf = append(buf, '.')
	buf = appendPadded(buf, nsec, 9)
	buf = append(buf, 'Z')
	return string(buf)
}

func appendPadded(buf []byte, v int64, width int) []byte {
	if v < 0 {
		buf = append(buf, '-')
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	for i := len(s); i < width; i++ {
		buf = append(buf, '0')
	}
	return append(buf, s...)
}
