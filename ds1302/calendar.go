// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1302

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/towersense/common"
)

// Century is added to the two digit year stored by the device. The DS1302
// has no century storage, so the clock is only valid from 2000 to 2099.
const Century = 2000

// CalendarTime is the content of the clock registers.
type CalendarTime struct {
	Second  int // 0..59
	Minute  int // 0..59
	Hour    int // 0..23
	Day     int // day of month, 1..31
	Month   int // 1..12
	Year    int // Century..Century+99
	Weekday int // 1 is Monday, 7 is Sunday
}

// FromTime returns the calendar time of t in its own location.
func FromTime(t time.Time) CalendarTime {
	return CalendarTime{
		Second:  t.Second(),
		Minute:  t.Minute(),
		Hour:    t.Hour(),
		Day:     t.Day(),
		Month:   int(t.Month()),
		Year:    t.Year(),
		Weekday: DayOfWeek(t.Year(), int(t.Month()), t.Day()),
	}
}

// Time returns c as a time.Time in loc.
func (c CalendarTime) Time(loc *time.Location) time.Time {
	return time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, c.Second, 0, loc)
}

// Validate returns an error matching common.ErrInvalidField for the first
// field out of range, including a day past the end of its month.
func (c CalendarTime) Validate() error {
	fields := []struct {
		name     string
		v        int
		min, max int
	}{
		{"second", c.Second, 0, 59},
		{"minute", c.Minute, 0, 59},
		{"hour", c.Hour, 0, 23},
		{"month", c.Month, 1, 12},
		{"year", c.Year, Century, Century + 99},
		{"day", c.Day, 1, daysIn(c.Month, c.Year)},
		{"weekday", c.Weekday, 1, 7},
	}
	for _, f := range fields {
		if f.v < f.min || f.v > f.max {
			return fmt.Errorf("ds1302: %s %d not in %d..%d: %w", f.name, f.v, f.min, f.max, common.ErrInvalidField)
		}
	}
	return nil
}

func (c CalendarTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d (%s)",
		c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, weekdayName(c.Weekday))
}

// DayOfWeek returns the day of the week of a Gregorian date, 1 for Monday to
// 7 for Sunday, with Zeller's congruence.
func DayOfWeek(year, month, day int) int {
	if month < 3 {
		month += 12
		year--
	}
	k := year % 100
	j := year / 100
	// h is 0 for Saturday.
	h := (day + 13*(month+1)/5 + k + k/4 + j/4 + 5*j) % 7
	return (h+5)%7 + 1
}

func daysIn(month, year int) int {
	if month < 1 || month > 12 {
		return 31
	}
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func weekdayName(d int) string {
	if d < 1 || d > 7 {
		return "?"
	}
	// time.Weekday starts on Sunday.
	return time.Weekday(d % 7).String()[:3]
}
