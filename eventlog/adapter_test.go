package eventlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logDate = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func sampleEvent(minute int) *Event {
	return &Event{
		Time:       logDate.Add(time.Duration(minute) * time.Minute),
		ObjNum:     3,
		DeviceNum:  21,
		ParamNum:   2,
		ChannelNum: 105,
		OldValue:   17.5,
		OldStatus:  1,
		NewValue:   21.25,
		NewStatus:  2,
		Descr:      "Temperature high",
		Data:       "zone=4",
	}
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	a := &Adapter{FileName: filepath.Join(t.TempDir(), "e260824.dat")}
	for i := 1; i <= 4; i++ {
		num, err := a.Append(sampleEvent(i))
		require.NoError(t, err)
		assert.Equal(t, i, num)
	}

	info, err := os.Stat(a.FileName)
	require.NoError(t, err)
	assert.Equal(t, int64(4*RecordSize), info.Size())

	l := NewLog(time.Time{})
	require.NoError(t, a.Load(l))
	require.Len(t, l.Events, 4)
	// The date half of the timestamp comes from the file name.
	assert.True(t, l.Events[0].Time.Equal(logDate.Add(time.Minute)))
	assert.Equal(t, 1, l.Events[0].Number)
	assert.Equal(t, 4, l.Events[3].Number)
}

func TestAppendOverwritesPartialTrailingRecord(t *testing.T) {
	a := &Adapter{FileName: filepath.Join(t.TempDir(), "e260824.dat")}
	_, err := a.Append(sampleEvent(1))
	require.NoError(t, err)

	// Simulate an interrupted writer leaving half a record behind.
	garbage := make([]byte, RecordSize/2)
	f, err := os.OpenFile(a.FileName, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(garbage)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	num, err := a.Append(sampleEvent(2))
	require.NoError(t, err)
	assert.Equal(t, 2, num)

	l := NewLog(logDate)
	require.NoError(t, a.Load(l))
	assert.Len(t, l.Events, 2)
}

func TestAcknowledgeTouchesOnlyAckBytes(t *testing.T) {
	a := &Adapter{FileName: filepath.Join(t.TempDir(), "e260824.dat")}
	for i := 1; i <= 3; i++ {
		_, err := a.Append(sampleEvent(i))
		require.NoError(t, err)
	}
	before, err := os.ReadFile(a.FileName)
	require.NoError(t, err)

	require.NoError(t, a.Acknowledge(2, 7))

	after, err := os.ReadFile(a.FileName)
	require.NoError(t, err)
	require.Len(t, after, len(before))

	start := RecordSize + ackOffset
	assert.Equal(t, []byte{1, 7, 0}, after[start:start+3])
	// Every byte outside the 3-byte acknowledgement block is untouched.
	assert.Equal(t, before[:start], after[:start])
	assert.Equal(t, before[start+3:], after[start+3:])

	l := NewLog(logDate)
	require.NoError(t, a.Load(l))
	assert.False(t, l.Events[0].Acked)
	assert.True(t, l.Events[1].Acked)
	assert.Equal(t, 7, l.Events[1].AckUserID)
	assert.False(t, l.Events[2].Acked)
}

func TestRecordRoundTrip(t *testing.T) {
	src := sampleEvent(30)
	src.Acked = true
	src.AckUserID = 12

	got, err := DecodeRecord(EncodeRecord(src), 5, logDate)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Number)
	assert.True(t, got.Time.Equal(src.Time))
	assert.Equal(t, src.ObjNum, got.ObjNum)
	assert.Equal(t, src.DeviceNum, got.DeviceNum)
	assert.Equal(t, src.ParamNum, got.ParamNum)
	assert.Equal(t, src.ChannelNum, got.ChannelNum)
	assert.Equal(t, src.OldValue, got.OldValue)
	assert.Equal(t, src.OldStatus, got.OldStatus)
	assert.Equal(t, src.NewValue, got.NewValue)
	assert.Equal(t, src.NewStatus, got.NewStatus)
	assert.True(t, got.Acked)
	assert.Equal(t, 12, got.AckUserID)
	assert.Equal(t, src.Descr, got.Descr)
	assert.Equal(t, src.Data, got.Data)

	_, err = DecodeRecord(make([]byte, RecordSize-1), 1, logDate)
	assert.Error(t, err)
}

func TestReadTruncatedTrailingRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeRecord(sampleEvent(1)))
	buf.Write(EncodeRecord(sampleEvent(2))[:RecordSize-10])

	l := NewLog(logDate)
	require.NoError(t, Read(bytes.NewReader(buf.Bytes()), l))
	assert.Len(t, l.Events, 1)
}

func TestApplyChanges(t *testing.T) {
	a := &Adapter{FileName: filepath.Join(t.TempDir(), "e260824.dat")}
	_, err := a.Append(sampleEvent(1))
	require.NoError(t, err)

	l := NewLog(logDate)
	require.NoError(t, a.Load(l))
	l.Append(sampleEvent(2))
	l.Append(sampleEvent(3))
	require.True(t, l.Acknowledge(1, 9))
	require.False(t, l.Acknowledge(42, 9))

	require.NoError(t, a.ApplyChanges(l))
	assert.Equal(t, 2, l.Events[1].Number)
	assert.Equal(t, 3, l.Events[2].Number)

	got := NewLog(logDate)
	require.NoError(t, a.Load(got))
	require.Len(t, got.Events, 3)
	assert.True(t, got.Events[0].Acked)
	assert.Equal(t, 9, got.Events[0].AckUserID)
	assert.False(t, got.Events[1].Acked)
}
