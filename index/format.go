// Package index reads and writes the profile index, a CSV log of detected
// profiles with the header profile,start,peak,end.
package index

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"profileindexer/models"
)

// Header is the first row of a freshly created index.
var Header = []string{"profile", "start", "peak", "end"}

// TimeLayout is how timestamps are written to the index.
const TimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() != 0 {
		return t.Format(TimeLayout + ".999999")
	}
	return t.Format(TimeLayout)
}

// FormatRecord renders a record as CSV fields.
func FormatRecord(r models.ProfileRecord) []string {
	return []string{
		strconv.Itoa(r.Profile),
		formatTime(r.Start),
		formatTime(r.Peak),
		formatTime(r.End),
	}
}

// ParseTime parses an index or command-line timestamp. Timestamps without a
// zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", models.ErrMalformedTimestamp, s, err)
	}
	return t.UTC(), nil
}

// ParseRecord parses one data row. A bad profile number or field count is
// reported as ErrUnresumableIndex, a bad timestamp as ErrMalformedTimestamp.
func ParseRecord(fields []string) (models.ProfileRecord, error) {
	if len(fields) != len(Header) {
		return models.ProfileRecord{}, fmt.Errorf("%w: expected %d fields, got %d", models.ErrUnresumableIndex, len(Header), len(fields))
	}
	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return models.ProfileRecord{}, fmt.Errorf("%w: profile number %q: %v", models.ErrUnresumableIndex, fields[0], err)
	}
	var ts [3]time.Time
	for i := range ts {
		if ts[i], err = ParseTime(fields[i+1]); err != nil {
			return models.ProfileRecord{}, fmt.Errorf("%s column: %w", Header[i+1], err)
		}
	}
	return models.ProfileRecord{Profile: n, Start: ts[0], Peak: ts[1], End: ts[2]}, nil
}

// parseLine parses a single CSV line.
func parseLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	return r.Read()
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), Header[0])
}
