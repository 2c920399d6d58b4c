package snapshot

import (
	"sort"
	"time"
)

// Table holds the snapshots of one archive file ordered by timestamp, with
// change tracking for incremental writes. Snapshots are keyed by unique
// timestamp; adding an existing timestamp merges into the stored snapshot.
type Table struct {
	Items []*Snapshot // ascending by Time

	// Append bookkeeping captured on load: the descriptor physically
	// written last and the end offset of the last complete block.
	lastDesc *Descriptor
	fileEnd  int64
	scanned  bool
}

// NewTable creates an empty snapshot table.
func NewTable() *Table {
	return &Table{}
}

// Snapshot returns the snapshot stored at the exact timestamp.
func (t *Table) Snapshot(at time.Time) (*Snapshot, bool) {
	i := t.search(at)
	if i < len(t.Items) && t.Items[i].Time.Equal(at) {
		return t.Items[i], true
	}
	return nil, false
}

// Add inserts s in timestamp order. When a snapshot with the same timestamp
// already exists, s's samples are merged into it for every channel its
// descriptor holds, and the stored snapshot is returned.
func (t *Table) Add(s *Snapshot) *Snapshot {
	i := t.search(s.Time)
	if i < len(t.Items) && t.Items[i].Time.Equal(s.Time) {
		existing := t.Items[i]
		for j, cnl := range s.Desc.Channels {
			existing.SetValue(cnl, s.Data[j])
		}
		if existing.State == Unchanged {
			existing.State = Modified
		}
		return existing
	}
	if s.State != Added && s.dataOffset < 0 {
		s.State = Added
	}
	t.Items = append(t.Items, nil)
	copy(t.Items[i+1:], t.Items[i:])
	t.Items[i] = s
	return s
}

// MarkModified flags an edited snapshot for the next ApplyChanges.
func (t *Table) MarkModified(s *Snapshot) {
	if s.State == Unchanged {
		s.State = Modified
	}
}

// Changes returns the snapshots pending append and in-place rewrite.
func (t *Table) Changes() (added, modified []*Snapshot) {
	for _, s := range t.Items {
		switch s.State {
		case Added:
			added = append(added, s)
		case Modified:
			modified = append(modified, s)
		}
	}
	return added, modified
}

// AcceptChanges clears all change tracking after a successful flush.
func (t *Table) AcceptChanges() {
	for _, s := range t.Items {
		s.State = Unchanged
	}
}

// Clear drops every snapshot and the append bookkeeping.
func (t *Table) Clear() {
	t.Items = nil
	t.lastDesc = nil
	t.fileEnd = 0
	t.scanned = false
}

func (t *Table) search(at time.Time) int {
	return sort.Search(len(t.Items), func(i int) bool { return !t.Items[i].Time.Before(at) })
}
