package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// Spec is a parsed schedule string.
type Spec struct {
	Kind     SpecKind
	CronSpec string        // valid when Kind == SpecCron
	Every    time.Duration // valid when Kind == SpecInterval
	Source   string        // "cron", "duration" or "hhmm"
}

// cronString renders the spec in the form cron.AddFunc accepts.
func (s Spec) cronString() string {
	if s.Kind == SpecInterval {
		return fmt.Sprintf("@every %s", s.Every)
	}
	return s.CronSpec
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts several schedule syntaxes:
//
//   - Cron expressions (5-field) and descriptors: "0 8 * * *", "@daily",
//     "@every 15m".
//   - Interval durations: Go duration strings like "15m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes, "02:30" every 2h30m.
//
// A "cron:" or "interval:" prefix forces the interpretation.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(s, "cron:"); ok {
		return parseCron(strings.TrimSpace(rest))
	}
	if rest, ok := strings.CutPrefix(s, "interval:"); ok {
		return parseInterval(strings.TrimSpace(rest))
	}
	if rest, ok := strings.CutPrefix(s, "every:"); ok {
		return parseInterval(strings.TrimSpace(rest))
	}

	// Bare string: anything with spaces or a descriptor is cron; otherwise
	// try duration, then HH:MM.
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCron(s)
	}
	return parseInterval(s)
}

func parseCron(s string) (Spec, error) {
	if _, err := specParser.Parse(s); err != nil {
		return Spec{}, fmt.Errorf("invalid cron spec %q: %w", s, err)
	}
	return Spec{Kind: SpecCron, CronSpec: s, Source: "cron"}, nil
}

func parseInterval(s string) (Spec, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval %q must be > 0", s)
		}
		return Spec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}
	if h, m, err := parseHHMM(s); err == nil {
		d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval %q must be > 0", s)
		}
		return Spec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	return Spec{}, fmt.Errorf("invalid schedule %q", s)
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
