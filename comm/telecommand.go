package comm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TelecommandType distinguishes the three telecommand shapes carried by a
// sub-type byte on the wire.
type TelecommandType byte

const (
	TelecommandStandard TelecommandType = 0 // numeric value for a control channel
	TelecommandBinary   TelecommandType = 1 // raw payload for a control channel
	TelecommandPoll     TelecommandType = 2 // poll request for a device
)

// Telecommand is an operator command for a remote device.
type Telecommand struct {
	Type       TelecommandType
	UserID     int
	ChannelNum int     // standard and binary
	Value      float64 // standard
	Data       []byte  // binary
	DeviceNum  int     // poll request
}

func encodeTelecommand(tc *Telecommand) []byte {
	buf := []byte{byte(tc.Type), 0, 0}
	binary.LittleEndian.PutUint16(buf[1:], uint16(tc.UserID))
	switch tc.Type {
	case TelecommandStandard:
		tail := make([]byte, 10)
		binary.LittleEndian.PutUint16(tail, uint16(tc.ChannelNum))
		binary.LittleEndian.PutUint64(tail[2:], math.Float64bits(tc.Value))
		return append(buf, tail...)
	case TelecommandBinary:
		tail := make([]byte, 2, 2+len(tc.Data))
		binary.LittleEndian.PutUint16(tail, uint16(tc.ChannelNum))
		return append(buf, append(tail, tc.Data...)...)
	default:
		tail := make([]byte, 2)
		binary.LittleEndian.PutUint16(tail, uint16(tc.DeviceNum))
		return append(buf, tail...)
	}
}

func decodeTelecommand(body []byte) (*Telecommand, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("telecommand body too short: %d bytes", len(body))
	}
	tc := &Telecommand{
		Type:   TelecommandType(body[0]),
		UserID: int(binary.LittleEndian.Uint16(body[1:])),
	}
	rest := body[3:]
	switch tc.Type {
	case TelecommandStandard:
		if len(rest) < 10 {
			return nil, fmt.Errorf("standard telecommand truncated")
		}
		tc.ChannelNum = int(binary.LittleEndian.Uint16(rest))
		tc.Value = math.Float64frombits(binary.LittleEndian.Uint64(rest[2:]))
	case TelecommandBinary:
		tc.ChannelNum = int(binary.LittleEndian.Uint16(rest))
		tc.Data = append([]byte(nil), rest[2:]...)
	case TelecommandPoll:
		tc.DeviceNum = int(binary.LittleEndian.Uint16(rest))
	default:
		return nil, fmt.Errorf("unknown telecommand type %d", tc.Type)
	}
	return tc, nil
}
