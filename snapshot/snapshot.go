package snapshot

import (
	"sort"
	"time"
)

// ChannelData is one channel's sample inside a snapshot.
type ChannelData struct {
	Value  float64
	Status byte
}

// Descriptor is the immutable, strictly ascending channel-number list of a
// snapshot plus its checksum. Consecutive snapshots sharing a descriptor
// store it only once on disk.
type Descriptor struct {
	Channels []uint16
	Checksum uint16
}

// NewDescriptor builds a descriptor from channel numbers, sorting them and
// dropping duplicates.
func NewDescriptor(channels []uint16) *Descriptor {
	cnls := make([]uint16, len(channels))
	copy(cnls, channels)
	sort.Slice(cnls, func(i, j int) bool { return cnls[i] < cnls[j] })
	n := 0
	for i, c := range cnls {
		if i == 0 || c != cnls[n-1] {
			cnls[n] = c
			n++
		}
	}
	cnls = cnls[:n]
	return &Descriptor{Channels: cnls, Checksum: ComputeChecksum(cnls)}
}

// ComputeChecksum derives the 16-bit descriptor checksum: 1 plus the sum of
// all channel numbers, truncated to 16 bits. An empty list yields 1.
func ComputeChecksum(channels []uint16) uint16 {
	sum := uint16(1)
	for _, c := range channels {
		sum += c
	}
	return sum
}

// Index locates a channel by binary search, returning -1 when absent.
func (d *Descriptor) Index(cnl uint16) int {
	i := sort.Search(len(d.Channels), func(i int) bool { return d.Channels[i] >= cnl })
	if i < len(d.Channels) && d.Channels[i] == cnl {
		return i
	}
	return -1
}

// Equal reports whether two descriptors carry the same channel list.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if other == nil || d.Checksum != other.Checksum || len(d.Channels) != len(other.Channels) {
		return false
	}
	for i, c := range d.Channels {
		if c != other.Channels[i] {
			return false
		}
	}
	return true
}

// State tracks a snapshot's change status since the last flush.
type State int

const (
	Unchanged State = iota
	Added
	Modified
)

// Snapshot is a timestamped vector of channel samples aligned with its
// descriptor: Data[i] belongs to Desc.Channels[i].
type Snapshot struct {
	Time  time.Time
	Desc  *Descriptor
	Data  []ChannelData
	State State

	// dataOffset is the file offset of the timestamp field, recorded on
	// load so in-place updates can seek straight to it. -1 when the
	// snapshot has never been written.
	dataOffset int64
}

// New creates a snapshot for the given channels with zeroed samples.
func New(t time.Time, channels []uint16) *Snapshot {
	desc := NewDescriptor(channels)
	return &Snapshot{
		Time:       t,
		Desc:       desc,
		Data:       make([]ChannelData, len(desc.Channels)),
		State:      Added,
		dataOffset: -1,
	}
}

// Value returns the sample of one channel.
func (s *Snapshot) Value(cnl uint16) (ChannelData, bool) {
	if i := s.Desc.Index(cnl); i >= 0 {
		return s.Data[i], true
	}
	return ChannelData{}, false
}

// SetValue stores the sample of one channel. Channels outside the
// descriptor are rejected: the descriptor is immutable.
func (s *Snapshot) SetValue(cnl uint16, data ChannelData) bool {
	if i := s.Desc.Index(cnl); i >= 0 {
		s.Data[i] = data
		return true
	}
	return false
}
