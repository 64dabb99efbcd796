package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule determines when a periodic job fires next
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type period uint8

const (
	periodInterval period = iota
	periodHourly
	periodDaily
	periodWeekly
	periodMonthly
)

// calendar covers fixed intervals and wall-clock anchored schedules.
type calendar struct {
	period period
	every  time.Duration
	day    int // weekday for weekly, day of month for monthly
	hour   int
	minute int
}

func (c calendar) Next(from time.Time) time.Time {
	switch c.period {
	case periodInterval:
		return from.Truncate(c.every).Add(c.every)
	case periodHourly:
		next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), c.minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.Add(time.Hour)
		}
		return next
	case periodDaily:
		next := c.at(from.Year(), from.Month(), from.Day(), from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case periodWeekly:
		ahead := (c.day - int(from.Weekday()) + 7) % 7
		d := from.AddDate(0, 0, ahead)
		next := c.at(d.Year(), d.Month(), d.Day(), from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	default:
		year, month := from.Year(), from.Month()
		next := c.at(year, month, min(c.day, daysInMonth(year, month)), from.Location())
		if !next.After(from) {
			year, month = nextMonth(year, month)
			next = c.at(year, month, min(c.day, daysInMonth(year, month)), from.Location())
		}
		return next
	}
}

func (c calendar) at(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.hour, c.minute, 0, 0, loc)
}

func (c calendar) String() string {
	switch c.period {
	case periodInterval:
		return "@every " + c.every.String()
	case periodHourly:
		return fmt.Sprintf("@hourly :%02d", c.minute)
	case periodDaily:
		return fmt.Sprintf("@daily %02d:%02d", c.hour, c.minute)
	case periodWeekly:
		return fmt.Sprintf("@weekly %s %02d:%02d", strings.ToLower(time.Weekday(c.day).String()[:3]), c.hour, c.minute)
	default:
		return fmt.Sprintf("@monthly %d %02d:%02d", c.day, c.hour, c.minute)
	}
}

// Every fires on each multiple of d counted from the zero time, so every
// process computes the same run times.
func Every(d time.Duration) Schedule {
	return calendar{period: periodInterval, every: d}
}

// HourlyAt fires every hour at the given minute.
func HourlyAt(minute int) Schedule {
	return calendar{period: periodHourly, minute: minute}
}

// DailyAt fires once a day at hour:minute in the location of the reference time.
func DailyAt(hour, minute int) Schedule {
	return calendar{period: periodDaily, hour: hour, minute: minute}
}

// WeeklyOn fires once a week.
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return calendar{period: periodWeekly, day: int(weekday), hour: hour, minute: minute}
}

// MonthlyOn fires once a month. Days past the end of a short month fall
// on its last day.
func MonthlyOn(day, hour, minute int) Schedule {
	return calendar{period: periodMonthly, day: day, hour: hour, minute: minute}
}

// ParseSchedule parses the textual forms produced by Schedule.String:
//
//	@every 5m
//	@hourly :15
//	@daily 03:30
//	@weekly mon 03:30
//	@monthly 1 03:30
func ParseSchedule(s string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty schedule", ErrInvalidSchedule)
	}

	bad := func(reason string) (Schedule, error) {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidSchedule, s, reason)
	}

	switch fields[0] {
	case "@every":
		if len(fields) != 2 {
			return bad("expected a duration")
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return bad("expected a positive duration")
		}
		return Every(d), nil

	case "@hourly":
		if len(fields) == 1 {
			return HourlyAt(0), nil
		}
		m, err := strconv.Atoi(strings.TrimPrefix(fields[1], ":"))
		if len(fields) != 2 || err != nil || m < 0 || m > 59 {
			return bad("expected a minute between 0 and 59")
		}
		return HourlyAt(m), nil

	case "@daily":
		h, m, err := clockArg(fields[1:])
		if err != nil {
			return bad(err.Error())
		}
		return DailyAt(h, m), nil

	case "@weekly":
		if len(fields) < 2 {
			return bad("expected a weekday")
		}
		wd, ok := parseWeekday(fields[1])
		if !ok {
			return bad("unknown weekday")
		}
		h, m, err := clockArg(fields[2:])
		if err != nil {
			return bad(err.Error())
		}
		return WeeklyOn(wd, h, m), nil

	case "@monthly":
		if len(fields) < 2 {
			return bad("expected a day of month")
		}
		day, err := strconv.Atoi(fields[1])
		if err != nil || day < 1 || day > 31 {
			return bad("expected a day between 1 and 31")
		}
		h, m, err := clockArg(fields[2:])
		if err != nil {
			return bad(err.Error())
		}
		return MonthlyOn(day, h, m), nil
	}
	return bad("unknown period")
}

// clockArg parses an optional "hh:mm"; absent means midnight.
func clockArg(args []string) (int, int, error) {
	switch len(args) {
	case 0:
		return 0, 0, nil
	case 1:
		t, err := time.Parse("15:04", args[0])
		if err != nil {
			return 0, 0, errors.New("expected hh:mm")
		}
		return t.Hour(), t.Minute(), nil
	}
	return 0, 0, errors.New("too many fields")
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
