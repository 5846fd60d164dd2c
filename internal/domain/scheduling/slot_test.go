package scheduling

import (
	"testing"
	"time"

	"github.com/ehr/opd/internal/platform/calendar"
)

func TestNextSlot(t *testing.T) {
	day := calendar.New(2026, 10, 19)
	next := day.AddDays(1)
	at := func(h, m, s int) time.Time { return time.Date(2026, 10, 19, h, m, s, 0, time.UTC) }

	tests := []struct {
		name     string
		now      time.Time
		wantDate calendar.Date
		wantTime string
	}{
		{"just after opening", at(9, 5, 0), day, "09:30"},
		{"rounds into next hour", at(10, 31, 0), day, "11:00"},
		{"rounds to half hour", at(10, 5, 0), day, "10:30"},
		{"exact boundary stays", at(10, 30, 0), day, "10:30"},
		{"exact hour stays", at(11, 0, 0), day, "11:00"},
		{"seconds ignored", at(10, 30, 40), day, "10:30"},
		{"last slot of the day", at(16, 30, 0), day, "16:30"},
		{"rounds onto closing", at(16, 45, 0), next, "09:00"},
		{"closing time", at(17, 0, 0), next, "09:00"},
		{"evening", at(18, 0, 0), next, "09:00"},
		{"just before midnight", at(23, 59, 59), next, "09:00"},
		{"early morning", at(7, 10, 0), day, "09:00"},
		{"midnight", at(0, 0, 0), day, "09:00"},
		{"rounds onto opening", at(8, 45, 0), day, "09:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextSlot(tt.now)
			if got.Date != tt.wantDate || got.Time != tt.wantTime {
				t.Errorf("NextSlot(%s) = %s %s, want %s %s",
					tt.now.Format("15:04:05"), got.Date, got.Time, tt.wantDate, tt.wantTime)
			}
		})
	}
}

func TestNextSlot_MonthEndRollsOver(t *testing.T) {
	got := NextSlot(time.Date(2026, 12, 31, 17, 30, 0, 0, time.UTC))
	if got.Date != calendar.New(2027, 1, 1) || got.Time != "09:00" {
		t.Errorf("expected 2027-01-01 09:00, got %s %s", got.Date, got.Time)
	}
}

func TestNextSlot_KeepsLocation(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	got := NextSlot(time.Date(2026, 10, 19, 14, 10, 0, 0, wib))
	want := time.Date(2026, 10, 19, 14, 30, 0, 0, wib)
	if !got.Start.Equal(want) || got.Start.Location() != wib {
		t.Errorf("expected %v, got %v", want, got.Start)
	}
}

func TestNextSlot_TotalOverWholeDay(t *testing.T) {
	start := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 24*60; m++ {
		now := start.Add(time.Duration(m) * time.Minute)
		got := NextSlot(now)
		h := got.Start.Hour()
		if h < OpeningHour || h >= ClosingHour || got.Start.Minute()%SlotMinutes != 0 {
			t.Fatalf("NextSlot(%s) = %v outside clinic hours", now.Format("15:04"), got.Start)
		}
		if got.Start.Before(now.Truncate(time.Minute)) {
			t.Fatalf("NextSlot(%s) = %v is in the past", now.Format("15:04"), got.Start)
		}
	}
}
