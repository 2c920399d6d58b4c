package eventlog

import "time"

// MaxDescrLen and MaxDataLen bound the two string fields of an event record.
const (
	MaxDescrLen = 100
	MaxDataLen  = 50
)

// Event is one fixed-shape record of the discrete-event log. Everything is
// immutable once written except the acknowledgement fields.
type Event struct {
	Number     int // 1-based sequence number, assigned at append time
	Time       time.Time
	ObjNum     int
	DeviceNum  int
	ParamNum   int
	ChannelNum int
	OldValue   float64
	OldStatus  byte
	NewValue   float64
	NewStatus  byte
	Acked      bool
	AckUserID  int
	Descr      string // up to MaxDescrLen bytes
	Data       string // up to MaxDataLen bytes, auxiliary payload
}

// Log is the in-memory view of one day's event file plus pending edits.
type Log struct {
	Date   time.Time // the file's date; records store only the time of day
	Events []*Event

	pendingAcks []ackEdit
}

type ackEdit struct {
	number int
	userID int
}

// NewLog creates an empty log for the given date.
func NewLog(date time.Time) *Log {
	return &Log{Date: date}
}

// Append queues ev for the next ApplyChanges. The sequence number is
// assigned when the record reaches the file.
func (l *Log) Append(ev *Event) {
	ev.Number = 0
	l.Events = append(l.Events, ev)
}

// Acknowledge marks the numbered event acknowledged in memory and queues
// the in-place file edit.
func (l *Log) Acknowledge(number, userID int) bool {
	for _, ev := range l.Events {
		if ev.Number == number {
			ev.Acked = true
			ev.AckUserID = userID
			l.pendingAcks = append(l.pendingAcks, ackEdit{number: number, userID: userID})
			return true
		}
	}
	return false
}
