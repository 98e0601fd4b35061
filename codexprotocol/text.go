package codexprotocol

import (
	"encoding/base64"
	"strings"
)

// textKeys are tried in order when an object carries text.
var textKeys = []string{"text", "textDelta", "delta", "value"}

// ExtractText flattens a content value: primitives yield their text,
// objects try textKeys then recurse into "content", arrays concatenate the
// text of their elements.
func ExtractText(v any) (string, bool) {
	switch c := v.(type) {
	case nil:
		return "", false
	case map[string]any:
		o := object(c)
		if s, ok := o.str(textKeys...); ok {
			return s, true
		}
		return ExtractText(o["content"])
	case []any:
		var b strings.Builder
		found := false
		for _, el := range c {
			if s, ok := ExtractText(el); ok {
				b.WriteString(s)
				found = true
			}
		}
		return b.String(), found
	default:
		return primitiveString(c)
	}
}

// DecodeChunk decodes base64 command output. Input that is not valid base64
// is returned unchanged.
func DecodeChunk(encoded string) string {
	if encoded == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return encoded
	}
	return string(decoded)
}
