package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var intervalSeconds = map[string]int64{
	"yr": 31536000, "yrs": 31536000, "year": 31536000, "years": 31536000,
	"wk": 604800, "wks": 604800, "week": 604800, "weeks": 604800,
	"d": 86400, "day": 86400, "days": 86400,
	"hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600,
	"min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"sec": 1, "secs": 1, "second": 1, "seconds": 1,
}

// RelativeTimeToDate resolves expressions such as "in 2 days",
// "3 hours 10 minutes ago" or "now" against now.
func RelativeTimeToDate(text string, now time.Time) (time.Time, error) {
	text = strings.ToLower(text)
	parts := strings.Fields(text)

	future := len(parts) > 0 && parts[0] == "in"
	past := len(parts) > 0 && parts[len(parts)-1] == "ago"
	if !future && !past && text != "now" {
		return time.Time{}, fmt.Errorf("Time should either start with 'in' or end with 'ago'")
	}
	if future && past {
		return time.Time{}, fmt.Errorf("Time cannot have both 'in' and 'ago'")
	}
	if future {
		parts = parts[1:]
	} else if past {
		parts = parts[:len(parts)-1]
	}
	if len(parts)%2 != 0 && text != "now" {
		return time.Time{}, fmt.Errorf("Invalid time string. Dangling unit or number.")
	}

	var seconds int64
	for i := 0; i+1 < len(parts); i += 2 {
		num, interval := parts[i], parts[i+1]
		val, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("'%s' is not an integer.", num)
		}
		unit, ok := intervalSeconds[interval]
		if !ok {
			return time.Time{}, fmt.Errorf("Invalid interval: '%s'", interval)
		}
		seconds += val * unit
	}

	offset := time.Duration(seconds) * time.Second
	switch {
	case future:
		return now.Add(offset), nil
	case past:
		return now.Add(-offset), nil
	}
	return now, nil
}
