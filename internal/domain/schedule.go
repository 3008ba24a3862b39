package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency selects how a schedule recurs.
type Frequency string

const (
	FrequencyDaily    Frequency = "Daily"
	FrequencyWeekdays Frequency = "Weekdays"
	FrequencyWeekly   Frequency = "Weekly"
	FrequencyBiweekly Frequency = "Biweekly"
	FrequencyCustom   Frequency = "Custom"
)

// Schedule is a user-defined recurring trigger for the check pipeline.
type Schedule struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Frequency Frequency  `json:"frequency"`
	Days      []string   `json:"days"`
	TimeOfDay string     `json:"time_of_day"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	Protocols []Protocol `json:"protocols,omitempty"`
}

// ClockTime parses TimeOfDay ("HH:MM", 24h).
func (s Schedule) ClockTime() (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s.TimeOfDay), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s.TimeOfDay)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s.TimeOfDay)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s.TimeOfDay)
	}
	return hour, minute, nil
}

// Weekdays resolves Days to time.Weekday values, ignoring unknown names.
func (s Schedule) Weekdays() map[time.Weekday]bool {
	out := make(map[time.Weekday]bool, len(s.Days))
	for _, d := range s.Days {
		if wd, ok := ParseWeekday(d); ok {
			out[wd] = true
		}
	}
	return out
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(raw string) (time.Weekday, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if v == name || (len(v) == 3 && strings.HasPrefix(name, v)) {
			return wd, true
		}
	}
	return 0, false
}

// NextFire returns the earliest instant strictly after now that matches the
// schedule pattern. The time of day is interpreted in now's location.
func (s Schedule) NextFire(now time.Time) (time.Time, error) {
	hour, minute, err := s.ClockTime()
	if err != nil {
		return time.Time{}, err
	}

	days := s.Weekdays()
	switch s.Frequency {
	case FrequencyDaily, FrequencyWeekdays:
	case FrequencyWeekly, FrequencyBiweekly, FrequencyCustom:
		if len(days) == 0 {
			return time.Time{}, fmt.Errorf("schedule %q has no days for %s frequency", s.Name, s.Frequency)
		}
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", s.Frequency)
	}

	loc := now.Location()
	y, m, d := now.Date()
	// Two weeks plus one day covers every biweekly phase.
	for offset := 0; offset <= 15; offset++ {
		candidate := time.Date(y, m, d+offset, hour, minute, 0, 0, loc)
		if !candidate.After(now) {
			continue
		}
		if s.matches(candidate, days) {
			return candidate, nil
		}
	}

	return time.Time{}, fmt.Errorf("schedule %q never fires", s.Name)
}

func (s Schedule) matches(t time.Time, days map[time.Weekday]bool) bool {
	wd := t.Weekday()
	switch s.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekdays:
		return wd != time.Saturday && wd != time.Sunday
	case FrequencyWeekly, FrequencyCustom:
		return days[wd]
	case FrequencyBiweekly:
		if !days[wd] {
			return false
		}
		if s.CreatedAt.IsZero() {
			return true
		}
		return weeksBetween(s.CreatedAt.In(t.Location()), t)%2 == 0
	}
	return false
}

// weeksBetween counts Monday-started calendar weeks from a to b.
func weeksBetween(a, b time.Time) int {
	start := mondayOf(a)
	end := mondayOf(b)
	days := int(end.Sub(start).Hours()/24 + 0.5)
	if days < 0 {
		days = -days
	}
	return days / 7
}

func mondayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	civil := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	back := (int(civil.Weekday()) + 6) % 7
	return civil.AddDate(0, 0, -back)
}

// ExecutionRecord is one append-only history entry.
type ExecutionRecord struct {
	Timestamp         time.Time        `json:"timestamp"`
	ScheduleName      string           `json:"schedule_name"`
	Manual            bool             `json:"manual"`
	Success           bool             `json:"success"`
	DurationSeconds   float64          `json:"duration_seconds"`
	NewProposalsCount int              `json:"new_proposals_count"`
	Error             string           `json:"error,omitempty"`
	FailedProtocols   []Protocol       `json:"failed_protocols,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Channels          map[Channel]bool `json:"channels,omitempty"`
}

// HistoryLimit caps the retained execution history.
const HistoryLimit = 100
