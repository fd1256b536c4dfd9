package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calendar = `kuerzel,titel,start_datum,end_datum
sommer,Sommerfest,20.06.2026,21.06.2026
winter,Winterball,12.12.2026,
alt,Fruehjahr,01.03.2026,02.03.2026
camp,Jugendcamp,10.06.2026,14.06.2026
`

func local(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.Local)
}

func writeCalendar(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newSource(t *testing.T, body string, now time.Time) *CSVSource {
	return NewCSV(Config{Path: writeCalendar(t, body), LinkBase: "https://example.org/events/"},
		WithClock(func() time.Time { return now }))
}

func TestParseAcceptsGermanHeadersAndSorts(t *testing.T) {
	evs, err := Parse(strings.NewReader(calendar), DefaultDateFormat, "https://example.org/e/")
	require.NoError(t, err)
	require.Len(t, evs, 4)

	assert.Equal(t, "Fruehjahr", evs[0].Title)
	assert.Equal(t, "Jugendcamp", evs[1].Title)
	assert.Equal(t, "https://example.org/e/camp", evs[1].Link)
	assert.Equal(t, "Winterball", evs[3].Title)
	assert.Equal(t, evs[3].Start, evs[3].End, "empty end means a one-day event")
}

func TestParseStripsByteOrderMark(t *testing.T) {
	evs, err := Parse(strings.NewReader("\uFEFFkey,title,start\nmeetup,Gopher Meetup,05.03.2026\n"), DefaultDateFormat, "")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "meetup", evs[0].Key)
	assert.Equal(t, "Gopher Meetup", evs[0].Title)
}

func TestParseRejectsBadRows(t *testing.T) {
	_, err := Parse(strings.NewReader("title,start\nParty,31.02.2026\n"), DefaultDateFormat, "")
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("title,start,end\nParty,05.01.2026,01.01.2026\n"), DefaultDateFormat, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ends before it starts")

	_, err = Parse(strings.NewReader("name,when\nParty,05.01.2026\n"), DefaultDateFormat, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing "start" column`)
}

func TestStatusAndDaysLeft(t *testing.T) {
	e := Event{Title: "camp", Start: local(2026, time.June, 10, 0), End: local(2026, time.June, 14, 0)}

	assert.Equal(t, Upcoming, e.Status(local(2026, time.June, 7, 23)))
	assert.Equal(t, 3, e.DaysLeft(local(2026, time.June, 7, 23)))
	assert.Equal(t, Running, e.Status(local(2026, time.June, 10, 8)))
	assert.Equal(t, Running, e.Status(local(2026, time.June, 14, 23)))
	assert.Equal(t, 0, e.DaysLeft(local(2026, time.June, 12, 12)))
	assert.Equal(t, Past, e.Status(local(2026, time.June, 15, 0)))
	assert.Equal(t, -5, e.DaysLeft(local(2026, time.June, 15, 0)))
}

func TestNextPrefersRunningEvent(t *testing.T) {
	src := newSource(t, calendar, local(2026, time.June, 11, 9))
	e, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Jugendcamp", e.Title)
	assert.Equal(t, "https://example.org/events/camp", e.Link)
}

func TestNextSkipsPastEvents(t *testing.T) {
	src := newSource(t, calendar, local(2026, time.June, 15, 9))
	e, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sommerfest", e.Title)

	up, err := src.Upcoming(context.Background())
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, "Winterball", up[1].Title)
}

func TestNextWhenCalendarIsExhausted(t *testing.T) {
	src := newSource(t, calendar, local(2027, time.January, 1, 9))
	_, err := src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrNoEvents))

	src = newSource(t, "", local(2027, time.January, 1, 9))
	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrNoEvents))
}

func TestMissingFileIsAnError(t *testing.T) {
	src := NewCSV(Config{Path: filepath.Join(t.TempDir(), "nope.csv")})
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoEvents))
}
