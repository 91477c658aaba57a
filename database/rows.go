package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"advisor/schemas"
)

var ErrRowNotFound = errors.New("row not found")

// Column layout shared by every tabular backend, A through I.
var Header = []string{
	"Timestamp",
	"First Name",
	"Last Name",
	"Email",
	"Phone",
	"Advisor",
	"Path",
	"Feedback",
	"Followup Date",
}

const lastColumn = "I"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
	"2006-01-02",
}

func leadValues(l schemas.Lead) []any {
	ts := ""
	if !l.Timestamp.IsZero() {
		ts = l.Timestamp.UTC().Format(time.RFC3339)
	}
	return []any{
		ts,
		l.FirstName,
		l.LastName,
		l.Email,
		l.Phone,
		l.AdvisorName,
		l.Path,
		l.Feedback,
		l.FollowupDate,
	}
}

func leadFromValues(values []any) schemas.Lead {
	cell := func(i int) string {
		if i >= len(values) || values[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(values[i]))
	}
	return schemas.Lead{
		Timestamp:    parseTimestamp(cell(0)),
		FirstName:    cell(1),
		LastName:     cell(2),
		Email:        cell(3),
		Phone:        cell(4),
		AdvisorName:  cell(5),
		Path:         cell(6),
		Feedback:     cell(7),
		FollowupDate: cell(8),
	}
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isHeader(values []any) bool {
	return len(values) > 0 && strings.EqualFold(strings.TrimSpace(fmt.Sprint(values[0])), Header[0])
}

func indexKey(target schemas.SheetTarget, key string) string {
	return "advisor:index:" + target.SheetID + ":" + target.Tab + ":" + key
}
