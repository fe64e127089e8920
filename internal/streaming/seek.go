package streaming

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var errBadSeek = errors.New("malformed seek header")

// maxSeek stands in for any offset too large for a time.Duration. It is
// past every real duration, so such seeks are answered as out of range.
const maxSeek = time.Duration(math.MaxInt64)

func secondsToSeek(secs float64) time.Duration {
	if secs >= maxSeek.Seconds()-1 {
		return maxSeek
	}
	return time.Duration(secs * float64(time.Second))
}

// parseByteRangeStart reads the start of "bytes=N-" or "bytes=N-M". ok is
// false when the header is absent or asks for something else.
func parseByteRangeStart(h string) (int64, bool) {
	value, found := strings.CutPrefix(strings.TrimSpace(h), "bytes=")
	if !found || strings.Contains(value, ",") {
		return 0, false
	}
	start, _, found := strings.Cut(value, "-")
	if !found || start == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseTimeSeek reads the start of a TimeSeekRange.dlna.org value such as
// "npt=90.5-", "npt=00:01:30.5-00:02:00" or "npt=10-20/180".
func parseTimeSeek(h string) (time.Duration, error) {
	value, found := strings.CutPrefix(strings.TrimSpace(h), "npt=")
	if !found {
		return 0, errBadSeek
	}
	start, _, found := strings.Cut(value, "-")
	if !found {
		return 0, errBadSeek
	}
	return parseNPT(strings.TrimSpace(start))
}

// parseNPT accepts seconds ("90.5") or H:MM:SS(.fff).
func parseNPT(s string) (time.Duration, error) {
	if s == "" {
		return 0, errBadSeek
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errBadSeek
	}
	var secs float64
	for _, p := range parts {
		if !isNPTNumber(p) {
			return 0, errBadSeek
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsInf(v, 0) {
			return 0, errBadSeek
		}
		secs = secs*60 + v
	}
	return secondsToSeek(secs), nil
}

// isNPTNumber accepts digits with at most one decimal point, which rules
// out signs, exponents, hex floats, NaN and Inf.
func isNPTNumber(s string) bool {
	if s == "" || s == "." {
		return false
	}
	dot := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}

func formatNPT(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// timeSeekResponse builds the TimeSeekRange.dlna.org response value.
func timeSeekResponse(start, duration time.Duration) string {
	if duration <= 0 {
		return fmt.Sprintf("npt=%s-", formatNPT(start))
	}
	return fmt.Sprintf("npt=%s-%s/%s", formatNPT(start), formatNPT(duration), formatNPT(duration))
}
