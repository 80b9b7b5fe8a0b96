package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationSegment = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([a-zµμ]+)`)

// ParseDuration accepts everything time.ParseDuration does plus day (d) and
// week (w) units, e.g. "7d", "1w2d" or "1.5d". Retention windows are usually
// expressed in days.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	sign := ""
	if s[0] == '-' || s[0] == '+' {
		sign, s = s[:1], s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	var out strings.Builder
	out.WriteString(sign)
	for s != "" {
		m := durationSegment.FindStringSubmatch(s)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		s = s[len(m[0]):]
		number, unit := m[1], m[2]

		var perUnit float64
		switch unit {
		case "d":
			perUnit = 24
		case "w":
			perUnit = 7 * 24
		default:
			out.WriteString(number + unit)
			continue
		}
		n, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		out.WriteString(strconv.FormatFloat(n*perUnit, 'f', -1, 64) + "h")
	}
	return time.ParseDuration(out.String())
}
