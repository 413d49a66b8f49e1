package jsontok

import (
	"errors"
	"math"
	"strconv"
)

// Accessor errors
var (
	// ErrFieldAbsent indicates the key is not a member of the object
	ErrFieldAbsent = errors.New("field absent")

	// ErrTypeMismatch indicates the member exists with another value type
	ErrTypeMismatch = errors.New("field type mismatch")

	// ErrSyntax indicates a value that does not start with a decimal number
	ErrSyntax = errors.New("invalid integer syntax")

	// ErrRange indicates an integer that does not fit into 64 bits; the value is clamped
	ErrRange = errors.New("integer out of range")

	// ErrTrailingData indicates an integer followed by non-digit characters
	ErrTrailingData = errors.New("trailing data after integer")
)

// Lookup returns the index of the value stored under key in the object at
// index obj. Only immediate members are visited; nested values are skipped.
// A typ of Undefined matches any value type.
func (r *Record) Lookup(obj int, key string, typ Type) (int, error) {
	if obj < 0 || obj >= r.n || r.toks[obj].Type != Object {
		return -1, ErrNotObject
	}

	i := obj + 1
	for items := r.toks[obj].Size; items > 0 && i+1 < r.n; items-- {
		switch {
		case r.toks[i].Type != String:
			i = r.Skip(r.Skip(i))
		case string(r.Text(i)) != key:
			i = r.Skip(i + 1)
		case typ == Undefined || r.toks[i+1].Type == typ:
			return i + 1, nil
		default:
			return -1, ErrTypeMismatch
		}
	}
	return -1, ErrFieldAbsent
}

// StringField returns the raw text of a string member of the record
func (r *Record) StringField(key string) (string, error) {
	i, err := r.Lookup(0, key, String)
	if err != nil {
		return "", err
	}
	return string(r.Text(i)), nil
}

// StringDefault returns the text of a string member or def
func (r *Record) StringDefault(key, def string) string {
	s, err := r.StringField(key)
	if err != nil {
		return def
	}
	return s
}

// BoolField returns a boolean member. Absent members yield ErrFieldAbsent and
// anything but a true/false literal yields ErrTypeMismatch.
func (r *Record) BoolField(key string) (bool, error) {
	i, err := r.Lookup(0, key, Primitive)
	if err != nil {
		return false, err
	}
	switch string(r.Text(i)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, ErrTypeMismatch
	}
}

// IntField returns an integer member. On overflow the clamped value is returned
// together with ErrRange.
func (r *Record) IntField(key string) (int64, error) {
	i, err := r.Lookup(0, key, Primitive)
	if err != nil {
		return 0, err
	}
	text := r.Text(i)
	v, n, err := ParseInt(text)
	if errors.Is(err, ErrSyntax) {
		return 0, err
	}
	if n != len(text) {
		return 0, ErrTrailingData
	}
	return v, err
}

// IntDefault returns an integer member, or def when it is absent or not a
// complete integer. Overflowing values are clamped.
func (r *Record) IntDefault(key string, def int64) int64 {
	v, err := r.IntField(key)
	if err != nil && !errors.Is(err, ErrRange) {
		return def
	}
	return v
}

// FloatDefault returns a numeric member as float64, or def when it is absent
// or unparseable
func (r *Record) FloatDefault(key string, def float64) float64 {
	i, err := r.Lookup(0, key, Primitive)
	if err != nil {
		return def
	}
	f, err := strconv.ParseFloat(string(r.Text(i)), 64)
	if err != nil {
		return def
	}
	return f
}

// ParseInt parses an optionally signed decimal integer prefix of b without
// skipping whitespace. It returns the value and the number of bytes consumed.
// No digits yield ErrSyntax with n == 0; overflow yields the clamped value
// and ErrRange.
func ParseInt(b []byte) (v int64, n int, err error) {
	neg := false
	limit := uint64(math.MaxInt64)
	if len(b) > 0 {
		switch b[0] {
		case '-':
			neg = true
			limit = 1 << 63
			n++
		case '+':
			n++
		}
	}

	var (
		acc      uint64
		overflow bool
		lo       = limit / 10
		start    = n
	)
	for ; n < len(b) && b[n] >= '0' && b[n] <= '9'; n++ {
		if acc > lo {
			overflow = true
		}
		acc = acc*10 + uint64(b[n]-'0')
		if acc > limit {
			overflow = true
		}
	}
	if n == start {
		return 0, 0, ErrSyntax
	}
	if overflow {
		acc = limit
		err = ErrRange
	}
	if neg && acc != 0 {
		return -int64(acc-1) - 1, n, err
	}
	return int64(acc), n, err
}
