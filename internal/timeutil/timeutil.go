// Package timeutil holds the pure wall-clock math behind reminder
// scheduling. Everything here is deterministic given an explicit "now";
// nothing touches timers or the system clock.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeRe = regexp.MustCompile(`^([0-1][0-9]|2[0-3]):([0-5][0-9])$`)

// MinFireDelay is the floor applied to small positive delays before arming a
// timer. It prevents near-duplicate immediate re-sends when a reminder is
// confirmed seconds before the computed fire instant.
const MinFireDelay = time.Minute

// ValidateTime reports whether s is a 24-hour "HH:MM" string.
func ValidateTime(s string) bool { return timeRe.MatchString(s) }

// ParseTimes splits a comma-separated list of times, trimming whitespace and
// dropping empty entries. It does not validate the entries.
func ParseTimes(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InvalidTimes returns the entries of times that are not valid "HH:MM".
func InvalidTimes(times []string) []string {
	var bad []string
	for _, t := range times {
		if !ValidateTime(t) {
			bad = append(bad, t)
		}
	}
	return bad
}

// FormatTimes renders a time list for display.
func FormatTimes(times []string) string { return strings.Join(times, ", ") }

// TimeToCron converts "HH:MM" into a five-field cron spec firing once per day
// at that minute. Input validity is the caller's contract (ValidateTime runs
// upstream at the command layer).
func TimeToCron(t string) string {
	hh, mm := splitHHMM(t)
	return fmt.Sprintf("%d %d * * *", mm, hh)
}

// DelayMinutes computes how many minutes after its scheduled slot a reminder
// was confirmed. The candidate slot is placed on confirmedAt's calendar date;
// if that instant is still in the future relative to confirmedAt, the slot
// "hasn't happened yet today" and the most recent occurrence is yesterday's,
// so the candidate rolls back one day. Never negative.
func DelayMinutes(confirmedAt time.Time, scheduled string) int {
	candidate := onDate(confirmedAt, scheduled)
	if candidate.After(confirmedAt) {
		candidate = candidate.AddDate(0, 0, -1)
	}
	d := int(confirmedAt.Sub(candidate) / time.Minute)
	if d < 0 {
		return 0
	}
	return d
}

// NextSequentialTime computes when the next reminder in a sequential chain
// should fire: the next slot on confirmedAt's date, shifted by how late the
// previous reminder was confirmed, capped at maxDelayMinutes. A user who was
// late to reminder N is expected to be about as late to reminder N+1.
func NextSequentialTime(prevScheduled, nextScheduled string, confirmedAt time.Time, maxDelayMinutes int) time.Time {
	delay := DelayMinutes(confirmedAt, prevScheduled)
	if delay > maxDelayMinutes {
		delay = maxDelayMinutes
	}
	return onDate(confirmedAt, nextScheduled).Add(time.Duration(delay) * time.Minute)
}

// FireDelay returns how long to wait before firing at target, clamping small
// positive delays up to MinFireDelay. Non-positive results mean "already due".
func FireDelay(target, now time.Time) time.Duration {
	d := target.Sub(now)
	if d > 0 && d < MinFireDelay {
		return MinFireDelay
	}
	return d
}

// onDate places the "HH:MM" wall-clock time on ref's calendar date, in ref's
// location.
func onDate(ref time.Time, hhmm string) time.Time {
	hh, mm := splitHHMM(hhmm)
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hh, mm, 0, 0, ref.Location())
}

func splitHHMM(s string) (hh, mm int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	hh, _ = strconv.Atoi(parts[0])
	mm, _ = strconv.Atoi(parts[1])
	return hh, mm
}
