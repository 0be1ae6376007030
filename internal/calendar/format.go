package calendar

import (
	"strings"
	"time"
)

// Event is one calendar entry for the day.
type Event struct {
	Title  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

const clockLayout = "3:04 PM"

// Line renders the event the way schedule text expects it.
func (e Event) Line() string {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = "(No title)"
	}
	if e.AllDay {
		return "All Day: " + title
	}
	return e.Start.Format(clockLayout) + " - " + e.End.Format(clockLayout) + ": " + title
}

// FormatEvents joins event lines, or returns NoEventsText for an empty day.
func FormatEvents(events []Event) string {
	if len(events) == 0 {
		return NoEventsText
	}
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = e.Line()
	}
	return strings.Join(lines, "\n")
}

// DayWindow returns local midnight and 23:59:59 of the day containing t.
func DayWindow(t time.Time) (start, end time.Time) {
	y, m, d := t.Date()
	loc := t.Location()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), time.Date(y, m, d, 23, 59, 59, 0, loc)
}
