package codexprotocol

import (
	"encoding/json"
	"math"
	"time"
)

// RateLimitWindow is one usage window. Pointer fields are nil when the
// payload did not carry them.
type RateLimitWindow struct {
	Label         string
	UsedPercent   *float64
	WindowMinutes *int64
	ResetsAt      *int64 // unix seconds
	Limit         *int64
	Used          *int64
	Remaining     *int64
}

// UsageFraction returns used/limit in [0,1], preferring UsedPercent.
func (w RateLimitWindow) UsageFraction() (float64, bool) {
	if w.UsedPercent != nil {
		return clamp01(*w.UsedPercent / 100), true
	}
	if w.Limit != nil && *w.Limit > 0 {
		if w.Used != nil {
			return clamp01(float64(*w.Used) / float64(*w.Limit)), true
		}
		if w.Remaining != nil {
			return clamp01(1 - float64(*w.Remaining)/float64(*w.Limit)), true
		}
	}
	return 0, false
}

// ResetTime returns ResetsAt as a time.
func (w RateLimitWindow) ResetTime() (time.Time, bool) {
	if w.ResetsAt == nil {
		return time.Time{}, false
	}
	return time.Unix(*w.ResetsAt, 0), true
}

// RateLimitSnapshot holds the primary and secondary windows.
type RateLimitSnapshot struct {
	Primary   *RateLimitWindow
	Secondary *RateLimitWindow
}

// ParseRateLimits reads a snapshot from either a bare limits object or one
// wrapped in "rateLimits"/"rate_limits". It returns nil when neither
// window is present.
func ParseRateLimits(raw json.RawMessage) *RateLimitSnapshot {
	payload := decodeObject(raw)
	container := payload.obj("rateLimits")
	if container == nil {
		container = payload.obj("rate_limits")
	}
	if container == nil {
		container = payload
	}
	snap := &RateLimitSnapshot{
		Primary:   parseRateLimitWindow("Primary", container.obj("primary")),
		Secondary: parseRateLimitWindow("Secondary", container.obj("secondary")),
	}
	if snap.Primary == nil && snap.Secondary == nil {
		return nil
	}
	return snap
}

func parseRateLimitWindow(label string, o object) *RateLimitWindow {
	if len(o) == 0 {
		return nil
	}
	w := &RateLimitWindow{Label: label}
	if f, ok := o.float("usedPercent", "used_percent", "used_percentage", "usedPercentPct"); ok {
		w.UsedPercent = &f
	}
	w.WindowMinutes = intPtr(o, "windowDurationMins", "windowMinutes", "window_minutes", "window")
	w.ResetsAt = intPtr(o, "resetsAt", "resets_at", "resetAt", "resetEpochSeconds")
	w.Limit = intPtr(o, "limit", "budget", "capacity")
	w.Used = intPtr(o, "used", "usage", "usedTokens", "tokensUsed")
	w.Remaining = intPtr(o, "remaining", "tokensRemaining")
	return w
}

func intPtr(o object, keys ...string) *int64 {
	if n, ok := o.integer(keys...); ok {
		return &n
	}
	return nil
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
