package snapshot

import (
	"sort"
	"time"
)

// TrendPoint is one sample of a single-channel series.
type TrendPoint struct {
	Time   time.Time
	Value  float64
	Status byte
}

// Trend is the read-only series of one channel extracted from a snapshot
// archive. It is derived data and never persisted on its own.
type Trend struct {
	ChannelNum uint16
	Points     []TrendPoint
}

// Sort orders the points by timestamp.
func (t *Trend) Sort() {
	sort.Slice(t.Points, func(i, j int) bool { return t.Points[i].Time.Before(t.Points[j].Time) })
}
