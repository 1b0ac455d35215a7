package config

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"amd/internal/errors"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Configuration("%s: invalid duration %q: %v", path, raw, err)
	}
	if d < 0 {
		return 0, errors.Configuration("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseInterval parses a fixed job interval.
//
// Supported forms:
//   - Go duration: "24h", "90m"
//   - HH:MM: "24:00" (24 hours), "00:30" (30 minutes)
//   - "@every <duration>"
//
// Calendar cron expressions ("0 9 * * *", "@daily") are rejected: jobs run
// on a constant cadence counted from process start.
func ParseInterval(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errors.Configuration("%s: interval required", path)
	}

	var d time.Duration
	switch {
	case strings.HasPrefix(s, "@"):
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return 0, errors.Configuration("%s: invalid descriptor %q: %v", path, raw, err)
		}
		every, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, errors.Configuration("%s: %q is a calendar schedule, use an interval like \"@every 24h\"", path, raw)
		}
		d = every.Delay
	case reHHMM.MatchString(s):
		m := reHHMM.FindStringSubmatch(s)
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, errors.Configuration("%s: invalid HH:MM %q", path, raw)
		}
		d = time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute
	default:
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, errors.Configuration("%s: invalid interval %q (use \"24h\", \"24:00\" or \"@every 24h\")", path, raw)
		}
	}
	if d <= 0 {
		return 0, errors.Configuration("%s: interval must be > 0", path)
	}
	return d, nil
}
