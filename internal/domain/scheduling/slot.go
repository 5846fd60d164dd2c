package scheduling

import (
	"fmt"
	"time"

	"github.com/ehr/opd/internal/platform/calendar"
)

// Clinic hours and slot size.
const (
	OpeningHour = 9
	ClosingHour = 17
	SlotMinutes = 30
)

// Slot is the start of a consultation window.
type Slot struct {
	Date  calendar.Date `json:"date"`
	Time  string        `json:"time"`
	Start time.Time     `json:"start"`
}

func newSlot(day calendar.Date, minuteOfDay int, loc *time.Location) Slot {
	h, m := minuteOfDay/60, minuteOfDay%60
	return Slot{
		Date:  day,
		Time:  fmt.Sprintf("%02d:%02d", h, m),
		Start: day.At(h, m, loc),
	}
}

// NextSlot returns the first slot boundary at or after now's minute, in now's
// location. From closing time on, and whenever rounding lands on closing
// time, the answer is the next day's opening. Before opening it is today's
// opening. Seconds are ignored: 10:30:40 still yields 10:30.
func NextSlot(now time.Time) Slot {
	loc := now.Location()
	today := calendar.Of(now)
	tomorrowOpen := newSlot(today.AddDays(1), OpeningHour*60, loc)

	if now.Hour() >= ClosingHour {
		return tomorrowOpen
	}

	minuteOfDay := now.Hour()*60 + now.Minute()
	candidate := (minuteOfDay + SlotMinutes - 1) / SlotMinutes * SlotMinutes
	switch {
	case candidate >= ClosingHour*60:
		return tomorrowOpen
	case candidate < OpeningHour*60:
		return newSlot(today, OpeningHour*60, loc)
	}
	return newSlot(today, candidate, loc)
}
