package events

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "eventbot/pkg/logx"
)

// ErrNoEvents is returned by Next when nothing is running or upcoming.
var ErrNoEvents = errors.New("no upcoming events")

const DefaultDateFormat = "02.01.2006"

type Config struct {
	Path       string
	DateFormat string
	LinkBase   string
}

// Source is what the announcement and the commands need from the calendar.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Upcoming(ctx context.Context) ([]Event, error)
}

// column aliases, lower-case
var columns = map[string][]string{
	"key":   {"key", "kuerzel", "slug"},
	"title": {"title", "titel", "name"},
	"start": {"start", "start_datum", "start_date"},
	"end":   {"end", "end_datum", "end_date"},
}

type Option func(*CSVSource)

func WithClock(now func() time.Time) Option {
	return func(s *CSVSource) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *CSVSource) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

// CSVSource re-reads the file on every call so edits apply without a restart.
type CSVSource struct {
	cfg Config
	now func() time.Time
	log logx.Logger
}

func NewCSV(cfg Config, opts ...Option) *CSVSource {
	if strings.TrimSpace(cfg.DateFormat) == "" {
		cfg.DateFormat = DefaultDateFormat
	}
	s := &CSVSource{cfg: cfg, now: time.Now, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *CSVSource) Now() time.Time { return s.now() }

// All returns every event in the file, sorted by start then title.
func (s *CSVSource) All(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open calendar %s", s.cfg.Path)
	}
	defer f.Close()
	evs, err := Parse(f, s.cfg.DateFormat, s.cfg.LinkBase)
	if err != nil {
		return nil, errors.Wrapf(err, "parse calendar %s", s.cfg.Path)
	}
	return evs, nil
}

// Upcoming returns running and future events in start order.
func (s *CSVSource) Upcoming(ctx context.Context) ([]Event, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := all[:0]
	for _, e := range all {
		if e.Status(now) != Past {
			out = append(out, e)
		}
	}
	return out, nil
}

// Next returns the running event with the earliest start, otherwise the
// earliest upcoming one.
func (s *CSVSource) Next(ctx context.Context) (Event, error) {
	evs, err := s.Upcoming(ctx)
	if err != nil {
		return Event{}, err
	}
	now := s.now()
	for _, e := range evs {
		if e.Status(now) == Running {
			return e, nil
		}
	}
	if len(evs) == 0 {
		return Event{}, ErrNoEvents
	}
	return evs[0], nil
}

// Parse reads a calendar CSV with a header row. Rows with an empty end date
// last a single day.
func Parse(r io.Reader, layout, linkBase string) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var out []Event
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if isBlank(rec) {
			continue
		}
		e, err := parseRow(rec, idx, layout)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if base := strings.TrimSpace(linkBase); base != "" && e.Key != "" {
			e.Link = base + e.Key
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.Title, b.Title)
	})
	return out, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		for col, aliases := range columns {
			if slices.Contains(aliases, h) {
				idx[col] = i
			}
		}
	}
	for _, col := range []string{"title", "start"} {
		if _, ok := idx[col]; !ok {
			return nil, errors.Newf("missing %q column", col)
		}
	}
	return idx, nil
}

func parseRow(rec []string, idx map[string]int, layout string) (Event, error) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	e := Event{Key: get("key"), Title: get("title")}
	if e.Title == "" {
		return Event{}, errors.New("empty title")
	}
	start, err := time.ParseInLocation(layout, get("start"), time.Local)
	if err != nil {
		return Event{}, errors.Wrapf(err, "start date of %q", e.Title)
	}
	e.Start, e.End = start, start
	if raw := get("end"); raw != "" {
		end, err := time.ParseInLocation(layout, raw, time.Local)
		if err != nil {
			return Event{}, errors.Wrapf(err, "end date of %q", e.Title)
		}
		if end.Before(start) {
			return Event{}, errors.Newf("%q ends before it starts", e.Title)
		}
		e.End = end
	}
	return e, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
