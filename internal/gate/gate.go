// Package gate decides how many sends a campaign may make right now. It is a
// pure function of configuration, the clock and recent send history.
package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonOutsideWindow    Reason = "outside_window"
	ReasonQuotaExhausted   Reason = "quota_exhausted"
	ReasonNothingRequested Reason = "nothing_requested"
)

// QuotaWindow is the trailing period the hourly rate applies to.
const QuotaWindow = time.Hour

// Clock is a time of day in minutes after midnight.
type Clock int

// ParseClock parses "HH:MM" (or "HH:MM:SS", seconds ignored).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Config is the subset of campaign settings the gate needs.
type Config struct {
	SendRate    int // max sends per hour, 0 means uncapped
	SendDelay   time.Duration
	WindowStart Clock
	WindowEnd   Clock
	Location    *time.Location
}

// FromCampaign builds a gate config. Empty window bounds mean "always open"
// and an empty timezone means UTC.
func FromCampaign(c *model.Campaign) (Config, error) {
	cfg := Config{
		SendRate:  c.SendRate,
		SendDelay: time.Duration(c.SendDelayMs) * time.Millisecond,
		Location:  time.UTC,
	}
	if c.SendRate < 0 {
		return cfg, fmt.Errorf("send_rate must not be negative")
	}
	if strings.TrimSpace(c.Timezone) != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
		}
		cfg.Location = loc
	}
	if c.WindowStart == "" && c.WindowEnd == "" {
		return cfg, nil
	}
	start, err := ParseClock(c.WindowStart)
	if err != nil {
		return cfg, fmt.Errorf("send_window_start: %w", err)
	}
	end, err := ParseClock(c.WindowEnd)
	if err != nil {
		return cfg, fmt.Errorf("send_window_end: %w", err)
	}
	cfg.WindowStart, cfg.WindowEnd = start, end
	return cfg, nil
}

// HasWindow is false when start and end coincide.
func (c Config) HasWindow() bool {
	return c.WindowStart != c.WindowEnd
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// InWindow reports whether now falls in [start, end) local time. Windows
// whose end is before their start wrap past midnight.
func (c Config) InWindow(now time.Time) bool {
	if !c.HasWindow() {
		return true
	}
	local := now.In(c.location())
	minute := Clock(local.Hour()*60 + local.Minute())
	if c.WindowStart < c.WindowEnd {
		return minute >= c.WindowStart && minute < c.WindowEnd
	}
	return minute >= c.WindowStart || minute < c.WindowEnd
}

// Decision is the gate's answer for one invocation.
type Decision struct {
	Allowed        int
	Reason         Reason
	QuotaRemaining int // -1 when uncapped
}

// Allow computes how many additional sends are permitted right now.
func Allow(cfg Config, now time.Time, sentLastHour, requested int) Decision {
	remaining := -1
	if cfg.SendRate > 0 {
		remaining = cfg.SendRate - sentLastHour
		if remaining < 0 {
			remaining = 0
		}
	}
	if requested <= 0 {
		return Decision{Reason: ReasonNothingRequested, QuotaRemaining: remaining}
	}
	if !cfg.InWindow(now) {
		return Decision{Reason: ReasonOutsideWindow, QuotaRemaining: remaining}
	}
	if remaining == 0 {
		return Decision{Reason: ReasonQuotaExhausted, QuotaRemaining: 0}
	}
	allowed := requested
	if remaining > 0 && remaining < allowed {
		allowed = remaining
	}
	return Decision{Allowed: allowed, Reason: ReasonOK, QuotaRemaining: remaining}
}

// NextOpening returns the next instant the window opens, or now if it is
// already open.
func NextOpening(cfg Config, now time.Time) time.Time {
	if cfg.InWindow(now) {
		return now
	}
	local := now.In(cfg.location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, cfg.location())
	open := midnight.Add(time.Duration(cfg.WindowStart) * time.Minute)
	if !open.After(local) {
		open = midnight.AddDate(0, 0, 1).Add(time.Duration(cfg.WindowStart) * time.Minute)
	}
	return open
}
