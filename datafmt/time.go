package datafmt

import "time"

// The on-disk time representation is the OLE automation date: a float64 counting
// days since 1899-12-30 UTC, with the fractional part carrying the time of day.
// This matches what the server writes into snapshot and event files.
var oleEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const (
	msPerDay = 24 * 60 * 60 * 1000
)

// EncodeTime converts t to an OLE automation date.
func EncodeTime(t time.Time) float64 {
	ms := t.UTC().Sub(oleEpoch).Milliseconds()
	return float64(ms) / msPerDay
}

// DecodeTime converts an OLE automation date back to a time.Time in UTC,
// rounded to whole milliseconds to undo float truncation noise.
func DecodeTime(days float64) time.Time {
	ms := int64(days*msPerDay + 0.5)
	return oleEpoch.Add(time.Duration(ms) * time.Millisecond)
}

// EncodeTimeOfDay keeps only the day-fraction part of t. Event records store
// the time of day this way; the date is recovered from the file name.
func EncodeTimeOfDay(t time.Time) float64 {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return float64(u.Sub(midnight).Milliseconds()) / msPerDay
}

// CombineDateTime merges a file-name date with an in-record day fraction.
func CombineDateTime(date time.Time, dayFraction float64) time.Time {
	d := date.UTC()
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	ms := int64(dayFraction*msPerDay + 0.5)
	return midnight.Add(time.Duration(ms) * time.Millisecond)
}
