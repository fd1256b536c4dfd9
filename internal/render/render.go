// Package render turns calendar events into Telegram HTML messages.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"eventbot/internal/events"
)

const (
	ParseMode  = "HTML"
	dateLayout = "02.01.2006"
)

// NextEvent is the daily announcement and the /next reply.
func NextEvent(e events.Event, now time.Time) string {
	var b strings.Builder
	title := html.EscapeString(e.Title)
	if e.Link != "" {
		title = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(e.Link), title)
	}
	fmt.Fprintf(&b, "<b>Next event:</b> %s\n", title)
	fmt.Fprintf(&b, "Start: %s\n", e.Start.Format(dateLayout))
	fmt.Fprintf(&b, "End: %s\n", e.End.Format(dateLayout))
	b.WriteString(StatusLine(e, now))
	return b.String()
}

func NoEvents() string {
	return "No upcoming events in the calendar."
}

// StatusLine describes where now falls relative to the event.
func StatusLine(e events.Event, now time.Time) string {
	switch e.Status(now) {
	case events.Running:
		return "Running now!"
	case events.Past:
		return "Already over."
	}
	days := e.DaysLeft(now)
	if days == 0 {
		return "Starts today!"
	}
	return fmt.Sprintf("Starts %s (%d %s left).", relDays(days), days, plural(days, "day", "days"))
}

// EventsTable renders the /events reply as a preformatted table.
func EventsTable(evs []events.Event, now time.Time) string {
	if len(evs) == 0 {
		return NoEvents()
	}
	return "<pre>" + html.EscapeString(Table(evs, now)) + "</pre>"
}

// Table is the plain-text events table, shared with the CLI.
func Table(evs []events.Event, now time.Time) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Name", "Start", "End", "Days left")
	for _, e := range evs {
		t.Row(e.Title, e.Start.Format(dateLayout), e.End.Format(dateLayout), daysCell(e, now))
	}
	return t.String()
}

func daysCell(e events.Event, now time.Time) string {
	switch e.Status(now) {
	case events.Running:
		return "running"
	case events.Past:
		return "over"
	}
	if d := e.DaysLeft(now); d > 0 {
		return humanize.Comma(int64(d))
	}
	return "today!"
}

// relDays phrases a whole-day distance ("3 days from now", "2 weeks from now").
func relDays(days int) string {
	ref := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	return humanize.RelTime(ref.AddDate(0, 0, days), ref, "ago", "from now")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
