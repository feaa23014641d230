package engine

import (
	"sync"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

var locations sync.Map // map[string]*time.Location

// loadLocation resolves an IANA zone name, caching the result. Bundles with
// unknown zones fail validation; a zone that still fails here falls back to
// UTC.
func loadLocation(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}

// ScheduleActive reports whether a rule with the given schedule and severity
// is active at t. A nil schedule is always active.
func ScheduleActive(s *policy.Schedule, severity policy.Severity, t time.Time) bool {
	if s == nil {
		return true
	}
	if s.AlwaysActiveIfCritical && severity == policy.SeverityCritical {
		return true
	}

	local := t.In(loadLocation(s.Timezone))
	now := local.Hour()*60 + local.Minute()

	inWindow, startedYesterday := true, false
	start, startErr := policy.ParseClock(s.Start)
	end, endErr := policy.ParseClock(s.End)
	if startErr == nil && endErr == nil {
		switch {
		case start < end:
			inWindow = now >= start && now < end
		case start > end:
			// Window wraps past midnight.
			inWindow = now >= start || now < end
			startedYesterday = now < end
		}
	}
	if !inWindow {
		return false
	}

	if len(s.Days) == 0 {
		return true
	}
	day := local.Weekday()
	if startedYesterday {
		day = (day + 6) % 7
	}
	iso := int(day)
	if iso == 0 {
		iso = 7 // Sunday
	}
	for _, d := range s.Days {
		if d == iso {
			return true
		}
	}
	return false
}
