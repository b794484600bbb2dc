// Package wireutil holds small wire-format helpers shared across the
// exchange subscribers: fastjson numeric coercion and ISO-8601 timestamp
// parsing built on time.Parse.
package wireutil

import (
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"marketdata/internal/common/timestamp"
)

// Float coerces a fastjson value that may be either a JSON number or a
// stringly-typed number (several exchanges send prices as strings) into a
// float64.
func Float(v *fastjson.Value) float64 {
	if v == nil {
		return 0
	}
	if f, err := v.Float64(); err == nil {
		return f
	}
	s := string(v.GetStringBytes())
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// StringOrNumber returns the value at key as a string regardless of
// whether it was encoded as a JSON string or a bare number.
func StringOrNumber(v *fastjson.Value, key string) string {
	field := v.Get(key)
	if field == nil {
		return ""
	}
	if s := field.GetStringBytes(); s != nil {
		return string(s)
	}
	return field.String()
}

// ParseISOMicro parses "YYYY-MM-DDThh:mm:ss.ffffffZ" (fractional seconds of
// any precision, including none) into a Timestamp.
func ParseISOMicro(s string) (timestamp.Timestamp, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999Z",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return timestamp.Stamp(t), nil
		}
	}
	return 0, fmt.Errorf("wireutil: could not parse ISO timestamp %q", s)
}

// ParseISOMilli parses an ISO-8601 timestamp with millisecond precision
// (BitMEX's "timestamp" field) into a Timestamp.
func ParseISOMilli(s string) (timestamp.Timestamp, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.999Z",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return timestamp.Stamp(t), nil
		}
	}
	return 0, fmt.Errorf("wireutil: could not parse ISO timestamp %q", s)
}

// CloneMap returns a shallow copy of a price->volume map, used when handing
// book sides to a downstream callback that must not observe further
// mutation by the subscriber goroutine.
func CloneMap(m map[float64]float64) map[float64]float64 {
	out := make(map[float64]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
