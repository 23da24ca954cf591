package engine

import (
	"regexp"
	"strconv"
	"time"
)

// waitBuffer pads the computed resume instant so the first retry does not
// land exactly on the provider's reset boundary.
const waitBuffer = 5 * time.Minute

// resetRe matches the provider's stated reset time inside a usage-limit
// message, e.g. "... resets 3pm (America/Chicago) ..." or "resets 3:30am (UTC)".
var resetRe = regexp.MustCompile(`resets (\d{1,2})(?::(\d{2}))?(am|pm) \(([^)]+)\)`)

// ParseReset extracts the next reset instant from a usage-limit message.
// 12am maps to midnight and 12pm to noon; a time already past in the stated
// zone rolls over to tomorrow.
func ParseReset(msg string, now time.Time) (time.Time, bool) {
	m := resetRe.FindStringSubmatch(msg)
	if m == nil {
		return time.Time{}, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 1 || hour > 12 {
		return time.Time{}, false
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return time.Time{}, false
		}
	}

	switch m[3] {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	}

	loc, err := time.LoadLocation(m[4])
	if err != nil {
		return time.Time{}, false
	}

	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !reset.After(local) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset, true
}

// WaitTarget computes the auto-resume instant for a batch of paused agents:
// the latest parseable reset across all messages plus a fixed buffer. If any
// message fails to parse the batch is unparsable as a whole and the workflow
// must fall back to exiting Paused.
func WaitTarget(msgs []string, now time.Time) (time.Time, bool) {
	if len(msgs) == 0 {
		return time.Time{}, false
	}
	var latest time.Time
	for _, msg := range msgs {
		reset, ok := ParseReset(msg, now)
		if !ok {
			return time.Time{}, false
		}
		if reset.After(latest) {
			latest = reset
		}
	}
	return latest.Add(waitBuffer), true
}
