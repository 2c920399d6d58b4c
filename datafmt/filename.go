package datafmt

import (
	"fmt"
	"strings"
	"time"
)

// ArchiveKind identifies which snapshot archive a file belongs to.
type ArchiveKind int

const (
	ArchiveCurrent ArchiveKind = iota // latest values only, single snapshot
	ArchiveMinute
	ArchiveHour
)

const (
	// CurrentFileName is the fixed name of the latest-values snapshot file.
	CurrentFileName = "current.dat"

	dateLayout = "060102" // yyMMdd
	fileExt    = ".dat"
)

// SnapshotFileName derives the on-disk file name for a snapshot archive.
// Minute and hour archives are split per day: m<yyMMdd>.dat, h<yyMMdd>.dat.
func SnapshotFileName(kind ArchiveKind, date time.Time) string {
	switch kind {
	case ArchiveMinute:
		return "m" + date.UTC().Format(dateLayout) + fileExt
	case ArchiveHour:
		return "h" + date.UTC().Format(dateLayout) + fileExt
	default:
		return CurrentFileName
	}
}

// EventFileName derives the on-disk file name of the event log for a day.
func EventFileName(date time.Time) string {
	return "e" + date.UTC().Format(dateLayout) + fileExt
}

// ParseFileDate recovers the date encoded in an archive or event file name
// of the form <prefix><yyMMdd>.dat.
func ParseFileDate(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, fileExt)
	if len(base) == len(name) || len(base) < len(dateLayout)+1 {
		return time.Time{}, fmt.Errorf("datafmt: file name %q carries no date", name)
	}
	t, err := time.ParseInLocation(dateLayout, base[len(base)-len(dateLayout):], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("datafmt: file name %q carries no date: %w", name, err)
	}
	return t, nil
}
