package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"periodic/internal/task"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseInterval parses a repeat interval.
//
// Supported forms:
//   - Go duration: "5s", "55m", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - cron descriptor "@every <duration>" in whole seconds ("@every 90s");
//     sub-second values such as "@every 500ms" are rejected, not rounded
//
// Optional prefixes "every:" and "interval:" are accepted and ignored.
// Calendar cron expressions ("*/5 * * * *", "@hourly") are rejected: tasks
// repeat on a fixed delay from completion, not on wall-clock slots.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	for _, p := range []string{"every:", "interval:"} {
		if strings.HasPrefix(low, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCronDelay(s)
	}
	if reHHMM.MatchString(s) {
		return parseHHMM(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM, '@every 5s' or a duration like '55m')", raw)
	}
	if err := task.ValidateInterval(d); err != nil {
		return 0, err
	}
	return d, nil
}

func parseCronDelay(s string) (time.Duration, error) {
	// cron truncates @every to whole seconds (minimum 1s). Refuse instead of
	// silently running at a different rate than written.
	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && d%time.Second != 0 {
			return 0, fmt.Errorf("invalid interval %q: @every takes whole seconds; write %q for sub-second intervals", s, d.String())
		}
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	switch cs := sched.(type) {
	case cron.ConstantDelaySchedule:
		return cs.Delay, nil
	case *cron.ConstantDelaySchedule:
		return cs.Delay, nil
	default:
		return 0, fmt.Errorf("interval %q is a calendar schedule; only '@every <duration>' is supported", s)
	}
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if err := task.ValidateInterval(d); err != nil {
		return 0, err
	}
	return d, nil
}
