package codexprotocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationMillis(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   int64
		wantOK bool
	}{
		{"integer", `1500`, 1500, true},
		{"float rounds", `1500.6`, 1501, true},
		{"numeric string", `"250"`, 250, true},
		{"decorated string", `" ~1500+ "`, 1500, true},
		{"seconds suffix", `"1.5s"`, 1500, true},
		{"seconds word", `"2 seconds"`, 2000, true},
		{"minutes", `"2m"`, 120000, true},
		{"hours upper case", `"1H"`, 3600000, true},
		{"millis", `"42ms"`, 42, true},
		{"micros", `"1500us"`, 2, true},
		{"nanos", `"2500000ns"`, 3, true},
		{"garbage string", `"soon"`, 0, false},
		{"empty string", `""`, 0, false},
		{"direct key", `{"millis": 10}`, 10, true},
		{"direct key order", `{"ms": 5, "durationMs": 7}`, 7, true},
		{"direct key string", `{"raw": "3s"}`, 3000, true},
		{"secs and nanos", `{"secs": 1, "nanos": 500000000}`, 1500, true},
		{"part families sum", `{"minutes": 1, "seconds": 30}`, 90000, true},
		{"part numeric string", `{"sec": "2"}`, 2000, true},
		{"text key", `{"pretty": "~3s"}`, 3000, true},
		{"nested unknown key", `{"elapsed": {"ms": 9}}`, 9, true},
		{"unknown keys in document order", `{"zeta": "2s", "alpha": "5s"}`, 2000, true},
		{"unparsable unknown key skipped", `{"note": "soon", "b": 3, "a": 4}`, 3, true},
		{"nested document order", `[{"wall": {"z": "1s", "a": "9s"}}]`, 1000, true},
		{"array first parsable", `[null, "x", "4s", 1]`, 4000, true},
		{"empty object", `{}`, 0, false},
		{"null", `null`, 0, false},
		{"bool", `true`, 0, false},
		{"invalid json", `{`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDurationMillis(json.RawMessage(tt.input))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseDurationMillis_Empty(t *testing.T) {
	_, ok := ParseDurationMillis(nil)
	assert.False(t, ok)
}
