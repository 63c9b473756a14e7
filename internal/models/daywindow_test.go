package models

import (
	"testing"
	"time"
)

func TestDayWindowAt(t *testing.T) {
	loc := time.FixedZone("WAT", 3600)
	// 23:30 UTC on the 15th is already 00:30 on the 16th in WAT.
	now := time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC)

	w := DayWindowAt(now, loc)
	if got := w.Key(); got != "2026-10-16" {
		t.Fatalf("expected key 2026-10-16, got %s", got)
	}
	if !w.Contains(now) {
		t.Fatalf("expected window to contain %s", now)
	}
	if w.Contains(w.End) {
		t.Fatalf("window end must be exclusive")
	}
	if !w.Contains(w.Start) {
		t.Fatalf("window start must be inclusive")
	}
	if got := w.End.Sub(w.Start); got != 24*time.Hour {
		t.Fatalf("expected 24h window, got %s", got)
	}
}

func TestDayWindowNext(t *testing.T) {
	w := DayWindowAt(time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC), time.UTC)
	next := w.Next()
	if next.Key() != "2027-01-01" {
		t.Fatalf("expected 2027-01-01, got %s", next.Key())
	}
	if !next.Start.Equal(w.End) {
		t.Fatalf("expected next window to start at previous end")
	}
}

func TestDayWindowDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	w := DayWindowAt(time.Date(2026, 3, 29, 12, 0, 0, 0, loc), loc)
	if got := w.End.Sub(w.Start); got != 23*time.Hour {
		t.Fatalf("expected 23h window on spring-forward day, got %s", got)
	}
}

func TestParseDay(t *testing.T) {
	w, err := ParseDay("2026-10-16", time.UTC)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	if !w.Start.Equal(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", w.Start)
	}
	if _, err := ParseDay("16/10/2026", time.UTC); err == nil {
		t.Fatalf("expected error for malformed day")
	}
}

func TestTicketState(t *testing.T) {
	cases := []struct {
		ticket  Ticket
		state   string
		waiting bool
	}{
		{Ticket{}, StateCreated, true},
		{Ticket{IsCalled: true}, StateCalled, false},
		{Ticket{IsCalled: true, IsServed: true}, StateServed, false},
		{Ticket{IsServed: true}, StateServed, false},
	}
	for _, tt := range cases {
		if got := tt.ticket.State(); got != tt.state {
			t.Fatalf("State()=%q, want %q", got, tt.state)
		}
		if got := tt.ticket.Waiting(); got != tt.waiting {
			t.Fatalf("Waiting()=%v, want %v", got, tt.waiting)
		}
	}
}
