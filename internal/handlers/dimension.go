package handlers

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

// dimension is a width or height that clients send either as a JSON number or
// as a numeric string. Like integer parsing in browsers, a string is read up
// to its first non-digit ("800px" is 800) and fractions are truncated.
type dimension struct {
	value   int
	set     bool
	invalid bool
}

func (d *dimension) UnmarshalJSON(data []byte) error {
	*d = dimension{}
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || string(data) == "null":
		return nil
	case data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			d.invalid = true
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		d.value, d.set, d.invalid = leadingInt(s)
		return nil
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		d.invalid = true
		return nil
	}
	d.value, d.set = int(f), true
	return nil
}

// leadingInt parses an optional sign followed by digits at the start of s.
func leadingInt(s string) (value int, ok bool, invalid bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false, true
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false, true
	}
	return v, true, false
}
