package pipeline

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DailyCron returns the expression firing once a day at hour:minute.
func DailyCron(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// cronSpec is a parsed five-field expression
// "minute hour day-of-month month day-of-week". A nil field matches any value.
type cronSpec struct {
	fields [5][]int
}

var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// parseCron accepts "*", single values, lists ("1,15"), ranges ("1-5") and
// steps ("*/15", "0-30/10") in each field.
func parseCron(expr string) (cronSpec, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return cronSpec{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}
	var spec cronSpec
	for i, p := range parts {
		vals, err := parseCronField(p, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return cronSpec{}, fmt.Errorf("cron %q field %d: %w", expr, i+1, err)
		}
		spec.fields[i] = vals
	}
	return spec, nil
}

func parseCronField(field string, lo, hi int) ([]int, error) {
	if field == "*" {
		return nil, nil
	}
	var out []int
	for _, term := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(term, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bad step %q", stepStr)
			}
			step = n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("bad range %q", rng)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("bad value %q", rng)
			}
			from = v
			if !hasStep {
				to = v
			}
		}
		if from < lo || to > hi || from > to {
			return nil, fmt.Errorf("%q out of range %d-%d", term, lo, hi)
		}
		for v := from; v <= to; v += step {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c cronSpec) matches(t time.Time) bool {
	vals := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, allowed := range c.fields {
		if allowed != nil && !slices.Contains(allowed, vals[i]) {
			return false
		}
	}
	return true
}

// nextCronTime returns the first minute strictly after 'after' matching
// expr, searching at most a year ahead.
func nextCronTime(expr string, after time.Time) (time.Time, error) {
	spec, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(1, 0, 1)
	for ; candidate.Before(limit); candidate = candidate.Add(time.Minute) {
		if spec.matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("cron %q: no match within a year", expr)
}
