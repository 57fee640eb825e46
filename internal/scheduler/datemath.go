package scheduler

import "github.com/memobox/memobox/pkg/memolib"

// daysBefore[m] is the number of days in a common year before month m.
var daysBefore = [13]int{0, 0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

// OrdinalDay maps a proleptic Gregorian date to its Rata Die day
// number, with 0001-01-01 as day 1. Differences between ordinals give
// exact day counts across month and leap-year boundaries, which is what
// the interval rules are defined over.
func OrdinalDay(year, month, day int) int {
	y := year - 1
	ord := 365*y + y/4 - y/100 + y/400
	ord += daysBefore[month]
	if month > 2 && memolib.IsLeapYear(year) {
		ord++
	}
	return ord + day
}

// ISOWeekdayOf returns the weekday of a date, 1=Monday .. 7=Sunday.
// Day 1 of the Rata Die count is a Monday.
func ISOWeekdayOf(year, month, day int) int {
	return (OrdinalDay(year, month, day)-1)%7 + 1
}

// mondayOrdinal is the ordinal of the Monday opening the week that
// holds the given date.
func mondayOrdinal(year, month, day int) int {
	return OrdinalDay(year, month, day) - (ISOWeekdayOf(year, month, day) - 1)
}

// WeeksBetween counts Monday-anchored week boundaries from date a to
// date b. Two dates in the same Monday-to-Sunday week are zero weeks
// apart regardless of their weekday distance; negative when b precedes
// a's week.
func WeeksBetween(ay, am, ad, by, bm, bd int) int {
	return (mondayOrdinal(by, bm, bd) - mondayOrdinal(ay, am, ad)) / 7
}

// MonthsBetween counts calendar-month boundaries from (y1,m1) to
// (y2,m2), negative when the second month precedes the first.
func MonthsBetween(y1, m1, y2, m2 int) int {
	return (y2-y1)*12 + (m2 - m1)
}
