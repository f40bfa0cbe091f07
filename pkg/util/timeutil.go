package util

import "time"

// NowUTC exposes time.Now for deterministic testing.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// LocaleDate renders t the way the dashboard shows dates in exports (M/D/YYYY).
func LocaleDate(t time.Time) string {
	return t.UTC().Format("1/2/2006")
}
