package tool

import (
	"fmt"
	"time"
)

// FriendlyDate renders YYYY-MM-DD as a spoken-friendly date like
// "Monday, February 9th". Unparseable input passes through unchanged.
func FriendlyDate(date string) string {
	dt, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s, %s %d%s", dt.Weekday(), dt.Month(), dt.Day(), daySuffix(dt.Day()))
}

// FriendlyTime renders HH:MM as a spoken-friendly time like "2 PM" or
// "9:30 AM". Unparseable input passes through unchanged.
func FriendlyTime(timeOfDay string) string {
	dt, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return timeOfDay
	}
	if dt.Minute() == 0 {
		return dt.Format("3 PM")
	}
	return dt.Format("3:04 PM")
}

func daySuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
