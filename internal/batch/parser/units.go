// Package parser turns accounting-tool usage output into quota.Quota values.
package parser

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"slurm-service/internal/quota"
)

// FieldSeparator separates columns in --parsable2 / --raw output.
const FieldSeparator = "|"

var unitPattern = regexp.MustCompile(`^(\d+)([KMGTP]?)`)

var unitFactors = map[string]int64{
	"":  1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
	"P": 1 << 50,
}

// ParseInt converts a SLURM amount with an optional binary suffix,
// e.g. "5K" to 5120. Anything that does not start with digits is 0;
// amounts beyond int64 saturate.
func ParseInt(value string) int64 {
	m := unitPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt64
	}
	if err != nil {
		return 0
	}
	return quota.MulClamped(n, unitFactors[m[2]])
}

// ParseDuration converts an elapsed time in [D-]HH:MM:SS form to whole
// minutes, rounding down. Malformed values are 0.
func ParseDuration(value string) int64 {
	value = strings.TrimSpace(value)

	var days int64
	if d, rest, ok := strings.Cut(value, "-"); ok {
		n, err := strconv.ParseInt(d, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		days, value = n, rest
	}

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}
	var hms [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		hms[i] = n
	}
	if hms[1] > 59 || hms[2] > 59 {
		return 0
	}

	seconds := quota.AddClamped(quota.MulClamped(days, 86400), quota.MulClamped(hms[0], 3600))
	seconds = quota.AddClamped(seconds, hms[1]*60+hms[2])
	return seconds / 60
}

// dataLines keeps the lines that contain the field separator; banners and
// blank lines are dropped.
func dataLines(data string) []string {
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, FieldSeparator) {
			lines = append(lines, line)
		}
	}
	return lines
}
