package datanorm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errUnparseable = errors.New("unparseable value")
	errNegative    = errors.New("negative value")
)

// blankValues are spellings platforms use for "no data".
var blankValues = map[string]bool{
	"":     true,
	"null": true,
	"none": true,
	"nan":  true,
	"n/a":  true,
	"na":   true,
	"-":    true,
}

func isBlank(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return blankValues[strings.ToLower(strings.TrimSpace(x))]
	case float64:
		return math.IsNaN(x)
	}
	return false
}

// parseNumber reads a metric value. ok=false with a nil error means the
// platform reported nothing.
func parseNumber(v interface{}) (float64, bool, error) {
	if isBlank(v) {
		return 0, false, nil
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false, errUnparseable
		}
		f = parsed
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, errUnparseable
		}
		f = parsed
	default:
		return 0, false, errUnparseable
	}

	if math.IsNaN(f) {
		return 0, false, nil
	}
	if math.IsInf(f, 0) {
		return 0, false, errUnparseable
	}
	if f < 0 {
		return 0, false, errNegative
	}
	return f, true, nil
}

// parseString renders an identity value as text. Numeric ids arrive as
// float64 from JSON and are printed without an exponent.
func parseString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// zonedLayouts carry their own offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05Z07:00",
}

// naiveLayouts are read in the account's own timezone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp converts a raw timestamp to ref. Naive values are
// interpreted in local, the account's timezone.
func parseTimestamp(v interface{}, local, ref *time.Location) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.In(ref), nil
	case float64:
		return unixToTime(x).In(ref), nil
	case int64:
		return unixToTime(float64(x)).In(ref), nil
	case int:
		return unixToTime(float64(x)).In(ref), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, errUnparseable
		}
		return unixToTime(f).In(ref), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range zonedLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.In(ref), nil
			}
		}
		for _, layout := range naiveLayouts {
			if t, err := time.ParseInLocation(layout, s, local); err == nil {
				return t.In(ref), nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixToTime(f).In(ref), nil
		}
	}
	return time.Time{}, errUnparseable
}

// unixToTime accepts seconds, or milliseconds for values past year 33658.
func unixToTime(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
