package interpret

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TimestampKind identifies which epoch encoding a raw timestamp matched.
type TimestampKind string

const (
	KindFiletime         TimestampKind = "filetime"
	KindGregorianSeconds TimestampKind = "gregorian_seconds"
	KindUnixMillis       TimestampKind = "unix_millis"
	KindUnixSeconds      TimestampKind = "unix_seconds"
	KindFallback         TimestampKind = "fallback"
)

// Offsets of the non-Unix epochs, in seconds before the Unix epoch.
const (
	filetimeEpochOffset  = 11644473600 // 1601-01-01
	gregorianEpochOffset = 62167219200 // year 1
)

// epochRule matches one encoding by magnitude. Bounds are [min, max) and are
// derived from calendar years 2000 and 2031, so a value inside a rule's range
// always converts to a year in [2000, 2030]. The ranges are disjoint.
type epochRule struct {
	kind     TimestampKind
	min, max int64
	convert  func(int64) time.Time
}

var epochRules = []epochRule{
	{
		kind: KindFiletime,
		min:  125911584000000000,
		max:  135694656000000000,
		convert: func(v int64) time.Time {
			return time.Unix(v/10000000-filetimeEpochOffset, (v%10000000)*100).UTC()
		},
	},
	{
		kind: KindGregorianSeconds,
		min:  63113904000,
		max:  64092211200,
		convert: func(v int64) time.Time {
			return time.Unix(v-gregorianEpochOffset, 0).UTC()
		},
	},
	{
		kind: KindUnixMillis,
		min:  946684800000,
		max:  1924992000000,
		convert: func(v int64) time.Time {
			return time.UnixMilli(v).UTC()
		},
	},
	{
		kind: KindUnixSeconds,
		min:  946684800,
		max:  1924992000,
		convert: func(v int64) time.Time {
			return time.Unix(v, 0).UTC()
		},
	},
}

// ClassifyTimestamp maps a raw timestamp of unknown epoch and scale to a
// concrete instant. Rules are evaluated first-match-wins by magnitude. Any
// unusable input (nil, zero, negative, out of all ranges, non-numeric) falls
// back to now; the caller is expected to log the fallback as an anomaly.
// Classification never fails.
func ClassifyTimestamp(raw any, now time.Time) (time.Time, TimestampKind) {
	v, ok := AsInt64(raw)
	if !ok || v <= 0 {
		return now, KindFallback
	}
	for _, rule := range epochRules {
		if v >= rule.min && v < rule.max {
			return rule.convert(v), rule.kind
		}
	}
	return now, KindFallback
}

// DateKey renders t as a YYYYMMDD integer.
func DateKey(t time.Time) int64 {
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

// TimeKey renders t as a HHMMSS integer.
func TimeKey(t time.Time) int64 {
	return int64(t.Hour())*10000 + int64(t.Minute())*100 + int64(t.Second())
}

// Quarter returns the calendar quarter of t, 1-4.
func Quarter(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// AsInt64 coerces the numeric shapes a decoded CDR field can take.
func AsInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	default:
		return 0, false
	}
}
