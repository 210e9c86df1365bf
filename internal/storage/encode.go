package storage

import (
	"encoding/json"
	"strings"

	"pollbot/internal/poll"
)

// Days are stored as a comma-delimited string with leading and trailing
// commas (",Mon,Wed,"), so that an exact substring probe for ",Mon," can
// never match across code boundaries. Both SQL drivers rely on this form for
// the due query.
func encodeDays(ws poll.WeekdaySet) string {
	if len(ws) == 0 {
		return ""
	}
	return "," + ws.String() + ","
}

func decodeDays(raw string) poll.WeekdaySet {
	parts := strings.Split(strings.Trim(raw, ","), ",")
	out := make(poll.WeekdaySet, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, poll.Weekday(p))
		}
	}
	return out
}

// dayToken is the probe string matched against the encoded day list.
func dayToken(d poll.Weekday) string {
	return "," + string(d) + ","
}

func encodeOptions(opts []string) (string, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOptions(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
