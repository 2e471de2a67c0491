// Package timeutil holds the time conventions shared by the stores, the
// report renderer and the command handlers. All persisted instants are UTC.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Common layouts.
const (
	// Storage is the layout of timestamps kept in text columns.
	Storage = time.RFC3339Nano
	// Display is the layout shown to teachers in reports.
	Display = "2006-01-02 15:04 MST"
	// FileStamp is safe to embed in file names.
	FileStamp = "20060102-1504"
)

// Now returns the current instant in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatStorage renders t in UTC with the Storage layout.
func FormatStorage(t time.Time) string {
	return t.UTC().Format(Storage)
}

// ParseStorage parses a Storage timestamp. Empty input yields the zero time.
func ParseStorage(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(Storage, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: parse %q: %w", value, err)
	}
	return t.UTC(), nil
}

// FormatDisplay renders t in loc, or UTC when loc is nil.
func FormatDisplay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Display)
}

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// Since returns the elapsed time since start, clamped at zero.
func Since(start time.Time) time.Duration {
	d := time.Since(start)
	if d < 0 {
		return 0
	}
	return d
}

// FormatElapsed renders d rounded for humans: "850ms", "2.4s", "3m05s".
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		m := int(d / time.Minute)
		s := int((d % time.Minute) / time.Second)
		return fmt.Sprintf("%dm%02ds", m, s)
	}
}
