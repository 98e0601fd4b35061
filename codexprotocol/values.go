package codexprotocol

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// object is a decoded JSON object. Numbers are json.Number.
type object map[string]any

func decodeObject(raw json.RawMessage) object {
	if len(raw) == 0 {
		return object{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return object{}
	}
	return obj
}

// member returns the undecoded value at key in a JSON object.
func member(raw json.RawMessage, key string) json.RawMessage {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return nil
	}
	return fields[key]
}

func asObject(v any) (object, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// obj returns the nested object at key, or nil.
func (o object) obj(key string) object {
	if o == nil {
		return nil
	}
	m, ok := asObject(o[key])
	if !ok {
		return nil
	}
	return m
}

// str returns the primitive content at the first present key. Numbers and
// booleans render as their JSON text; null and structures are absent.
func (o object) str(keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := primitiveString(o[key]); ok {
			return s, true
		}
	}
	return "", false
}

// strOr returns str or def.
func (o object) strOr(def string, keys ...string) string {
	if s, ok := o.str(keys...); ok {
		return s
	}
	return def
}

// integer returns the first key holding an integer or integral string.
func (o object) integer(keys ...string) (int64, bool) {
	for _, key := range keys {
		switch v := o[key].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// float returns the first key holding a number or numeric string.
func (o object) float(keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := o[key].(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func (o object) boolean(keys ...string) (bool, bool) {
	for _, key := range keys {
		switch v := o[key].(type) {
		case bool:
			return v, true
		case string:
			switch v {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
	}
	return false, false
}

// stringList returns the primitive elements of the array at the first present
// key.
func (o object) stringList(keys ...string) []string {
	for _, key := range keys {
		arr, ok := o[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			if s, ok := primitiveString(el); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// raw re-encodes the value at the first present key.
func (o object) raw(keys ...string) json.RawMessage {
	for _, key := range keys {
		v, ok := o[key]
		if !ok || v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err == nil {
			return data
		}
	}
	return nil
}

func (o object) encode() json.RawMessage {
	data, err := json.Marshal(map[string]any(o))
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func primitiveString(v any) (string, bool) {
	switch p := v.(type) {
	case string:
		return p, true
	case json.Number:
		return p.String(), true
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(p), true
	}
	return "", false
}

func sortedObjectKeys(raw json.RawMessage) []string {
	o := decodeObject(raw)
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
