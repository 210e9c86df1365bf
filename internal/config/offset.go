package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseUTCOffset parses a fixed offset like "+03:00", "-05:30" or "+07"
// into a time.Location. An empty string means UTC.
//
// The scheduler deliberately uses a fixed offset rather than an IANA zone:
// schedule matching is defined against a single configured "local day" and
// must not shift with DST.
func ParseUTCOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.UTC, nil
	}

	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	default:
		return nil, fmt.Errorf("utc_offset: must start with '+' or '-': %q", raw)
	}

	hh, mm := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hh, mm = s[:i], s[i+1:]
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return nil, fmt.Errorf("utc_offset: invalid hours in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return nil, fmt.Errorf("utc_offset: invalid minutes in %q", raw)
	}

	secs := sign * (h*3600 + m*60)
	name := fmt.Sprintf("UTC%+03d:%02d", sign*h, m)
	return time.FixedZone(name, secs), nil
}
