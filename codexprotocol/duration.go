package codexprotocol

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var durationPattern = regexp.MustCompile(`(?i)^([0-9]+(?:\.[0-9]+)?)\s*(ms|millis|millisecond|milliseconds|s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours|us|micro|micros|microsecond|microseconds|ns|nano|nanos|nanosecond|nanoseconds)$`)

var unitMillis = map[string]float64{
	"ms": 1, "millis": 1, "millisecond": 1, "milliseconds": 1,
	"s": 1e3, "sec": 1e3, "secs": 1e3, "second": 1e3, "seconds": 1e3,
	"m": 6e4, "min": 6e4, "mins": 6e4, "minute": 6e4, "minutes": 6e4,
	"h": 3.6e6, "hr": 3.6e6, "hrs": 3.6e6, "hour": 3.6e6, "hours": 3.6e6,
	"us": 1e-3, "micro": 1e-3, "micros": 1e-3, "microsecond": 1e-3, "microseconds": 1e-3,
	"ns": 1e-6, "nano": 1e-6, "nanos": 1e-6, "nanosecond": 1e-6, "nanoseconds": 1e-6,
}

// Object keys holding a whole duration in milliseconds, in priority order.
var durationDirectKeys = []string{
	"millis", "milliseconds", "durationMs", "durationMillis", "ms",
	"value", "raw", "totalMs", "totalMillis",
}

// Object keys holding a human-readable duration, in priority order.
var durationTextKeys = []string{"approximate", "pretty", "human", "humanReadable", "display"}

// durationPart is a family of keys contributing one unit to a sum.
type durationPart struct {
	keys   []string
	millis float64
}

var durationParts = []durationPart{
	{[]string{"seconds", "second", "secs", "sec", "s"}, 1e3},
	{[]string{"minutes", "minute", "mins", "min", "m"}, 6e4},
	{[]string{"hours", "hour", "hrs", "hr", "h"}, 3.6e6},
	{[]string{"nanos", "nano", "ns"}, 1e-6},
	{[]string{"microseconds", "microsecond", "micros", "micro", "us"}, 1e-3},
}

var durationKnownKeys = func() map[string]bool {
	known := make(map[string]bool)
	for _, k := range durationDirectKeys {
		known[k] = true
	}
	for _, k := range durationTextKeys {
		known[k] = true
	}
	for _, p := range durationParts {
		for _, k := range p.keys {
			known[k] = true
		}
	}
	return known
}()

// ParseDurationMillis interprets a duration in any of the shapes the
// app-server has emitted: a number of milliseconds, a decorated or
// unit-suffixed string, an object of direct, part or text keys, or an
// array whose first parsable element wins. Results are rounded to the
// nearest millisecond.
func ParseDurationMillis(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	switch raw[0] {
	case '{':
		return parseDurationObject(raw)
	case '[':
		var elems []json.RawMessage
		if json.Unmarshal(raw, &elems) != nil {
			return 0, false
		}
		for _, el := range elems {
			if ms, ok := ParseDurationMillis(el); ok {
				return ms, true
			}
		}
		return 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	switch d := v.(type) {
	case json.Number:
		return parseDurationString(d.String())
	case string:
		return parseDurationString(d)
	}
	return 0, false
}

func parseDurationString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "~")
	s = strings.TrimRight(s, "+")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return round(f)
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return round(value * unitMillis[strings.ToLower(m[2])])
}

func parseDurationObject(raw json.RawMessage) (int64, bool) {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return 0, false
	}
	for _, key := range durationDirectKeys {
		if ms, ok := ParseDurationMillis(fields[key]); ok {
			return ms, true
		}
	}

	o := decodeObject(raw)
	var sum float64
	found := false
	for _, part := range durationParts {
		if f, ok := o.float(part.keys...); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			sum += f * part.millis
			found = true
		}
	}
	if found {
		return round(sum)
	}

	for _, key := range durationTextKeys {
		if ms, ok := ParseDurationMillis(fields[key]); ok {
			return ms, true
		}
	}

	// Remaining keys in document order.
	for _, k := range objectKeys(raw) {
		if durationKnownKeys[k] {
			continue
		}
		if ms, ok := ParseDurationMillis(fields[k]); ok {
			return ms, true
		}
	}
	return 0, false
}

// objectKeys returns the member names of a JSON object in the order they
// appear.
func objectKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

func round(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Round(f)), true
}
