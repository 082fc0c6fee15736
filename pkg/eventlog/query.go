package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/ring"
)

// ErrorsOnly is the search query selecting error events.
const ErrorsOnly = "#errors"

// Analysis is the outcome of a full scan of the log.
type Analysis struct {
	ring.Summary
	Info    int `json:"info"`
	Error   int `json:"error"`
	Unknown int `json:"unknown"`
	Stored  int `json:"stored"` // Pages from oldest to newest inclusive
}

// Analyze scans every page of the log.
func (l *Log) Analyze() Analysis {
	var a Analysis
	a.Summary = l.ring.SummarizeWith(func(page ring.Page[codec.LogEntry]) {
		if !page.Active {
			return
		}
		switch page.Record.Kind {
		case codec.KindInfo:
			a.Info++
		case codec.KindError:
			a.Error++
		default:
			a.Unknown++
		}
	})
	if a.Active > 0 {
		a.Stored = l.ring.Index().Distance(a.Oldest, a.Newest) + 1
	}
	return a
}

// Entry is one listed page of the log.
type Entry struct {
	PageNumber int             `json:"page_number"` // 1-based
	Active     bool            `json:"active"`
	Event      *codec.LogEntry `json:"event,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// List decodes count pages starting at the 1-based page number first,
// wrapping at the end of the region.
func (l *Log) List(first, count int) ([]Entry, error) {
	pages := l.ring.Region().PageCount
	if first < 1 || first > pages {
		return nil, errors.Wrapf(ring.ErrOutOfRange, "log page %d of %d", first, pages)
	}
	if count <= 0 {
		return nil, errors.Wrapf(ring.ErrOutOfRange, "log page count %d", count)
	}
	if count > pages {
		count = pages
	}

	idx := l.ring.Index()
	entries := make([]Entry, 0, count)
	for n := 0; n < count; n++ {
		i := idx.Advance(first-1, n)
		rec, ok, err := l.ring.ReadAt(i)
		entry := Entry{PageNumber: i + 1, Active: ok}
		if err != nil {
			entry.Error = err.Error()
		} else if ok {
			entry.Event = &rec
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Matcher returns the predicate for a search query. A query containing
// "#errors" selects error events, anything else is a substring of the text.
func Matcher(query string) func(codec.LogEntry) bool {
	if strings.Contains(query, ErrorsOnly) {
		return func(e codec.LogEntry) bool { return e.Kind == codec.KindError }
	}
	return func(e codec.LogEntry) bool { return strings.Contains(e.Text, query) }
}

// Search returns a lazy iterator over the events matching query in physical
// order.
func (l *Log) Search(query string) *ring.SearchIterator[codec.LogEntry] {
	return l.ring.Search(Matcher(query))
}

// Results is a completed search.
type Results struct {
	Query   string                       `json:"query"`
	Matches []ring.Match[codec.LogEntry] `json:"matches"`
	Stats   ring.SearchStats             `json:"stats"`
}

// Collect runs a search to completion. A positive limit caps the matches
// kept; the statistics still cover the whole log.
func (l *Log) Collect(query string, limit int) Results {
	it := l.Search(query)
	defer it.Close()

	res := Results{Query: query, Matches: []ring.Match[codec.LogEntry]{}}
	for it.Next() {
		if limit <= 0 || len(res.Matches) < limit {
			res.Matches = append(res.Matches, it.Match())
		}
	}
	res.Stats = it.Stats()
	return res
}

// TimeLayout is how stamps are printed, always in UTC.
const TimeLayout = "2006-01-02 15:04:05.000"

// FormatTime renders a stamp in Unix milliseconds as UTC wall-clock time.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimeLayout)
}

// FormatLine renders one event as a list line.
func FormatLine(pageNumber int, e codec.LogEntry) string {
	return fmt.Sprintf("%d, %s, %s, \"%s\"", pageNumber, e.Kind.Short(), FormatTime(e.Timestamp), e.Text)
}
