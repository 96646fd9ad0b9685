// Package period splits date ranges into compositing periods.
//
// N-day periods are counted from the first requested date and restart on
// 1 January of every year, so the last period of a year is usually short.
// Monthly periods cover whole calendar months.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delta is a compositing period length: a number of days or one month.
type Delta struct {
	Days    int
	Monthly bool
}

// Monthly is the calendar-month period.
var Monthly = Delta{Monthly: true}

// Days returns an N-day period.
func Days(n int) Delta { return Delta{Days: n} }

// ParseDelta reads "month" (or "MON") or a positive number of days.
func ParseDelta(s string) (Delta, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "month", "mon", "monthly":
		return Monthly, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.ToUpper(s), "DAY"))
	if err != nil || n < 1 {
		return Delta{}, fmt.Errorf("invalid period %q: want a positive number of days or \"month\"", s)
	}
	return Days(n), nil
}

func (d Delta) String() string {
	if d.Monthly {
		return "month"
	}
	return strconv.Itoa(d.Days)
}

// CompositeName returns the composite token used in filenames.
func CompositeName(d Delta) string {
	switch {
	case d.Monthly:
		return "MON"
	case d.Days == 1:
		return "DAY"
	}
	return fmt.Sprintf("%dDAY", d.Days)
}

// Partition returns the member dates of every period starting between
// begin and end, both inclusive.
func Partition(begin, end time.Time, d Delta) [][]time.Time {
	begin, end = day(begin), day(end)
	var out [][]time.Time
	if d.Monthly {
		for m := firstOfMonth(begin); !m.After(end); m = m.AddDate(0, 1, 0) {
			out = append(out, monthDates(m))
		}
		return out
	}
	if d.Days < 1 {
		return nil
	}
	for _, start := range starts(begin, end, d.Days) {
		out = append(out, span(start, d.Days))
	}
	return out
}

// MemberDates returns the dates of the period that contains date, with
// periods laid out from 1 January of date's year.
func MemberDates(date time.Time, d Delta) []time.Time {
	date = day(date)
	if d.Monthly {
		return monthDates(firstOfMonth(date))
	}
	if d.Days < 1 {
		return nil
	}
	jan1 := time.Date(date.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	offset := (date.YearDay() - 1) / d.Days * d.Days
	return span(jan1.AddDate(0, 0, offset), d.Days)
}

// Covering returns the member dates of every year-aligned period that
// overlaps [begin, end], in order. Unlike Partition, periods are laid out as
// in MemberDates regardless of begin.
func Covering(begin, end time.Time, d Delta) [][]time.Time {
	begin, end = day(begin), day(end)
	var out [][]time.Time
	for t := begin; !t.After(end); {
		members := MemberDates(t, d)
		if len(members) == 0 {
			return nil
		}
		out = append(out, members)
		t = members[len(members)-1].AddDate(0, 0, 1)
	}
	return out
}

// starts lists period start dates, resetting to 1 January whenever the next
// step would leave the current year.
func starts(begin, end time.Time, days int) []time.Time {
	var out []time.Time
	for t := begin; !t.After(end); {
		out = append(out, t)
		next := t.AddDate(0, 0, days)
		if next.Year() != t.Year() {
			next = time.Date(t.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		t = next
	}
	return out
}

// span returns up to n consecutive dates from start, stopping at 31 December.
func span(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		t := start.AddDate(0, 0, i)
		if t.Year() != start.Year() {
			break
		}
		out = append(out, t)
	}
	return out
}

func monthDates(first time.Time) []time.Time {
	var out []time.Time
	for t := first; t.Month() == first.Month(); t = t.AddDate(0, 0, 1) {
		out = append(out, t)
	}
	return out
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
