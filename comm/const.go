package comm

// Command is the 1-byte command code following the length prefix of every
// request and response frame.
type Command byte

const (
	CmdVersion             Command = 0x00
	CmdAuthenticate        Command = 0x01
	CmdPing                Command = 0x02
	CmdPushLiveSnapshot    Command = 0x03
	CmdPushArchiveSnapshot Command = 0x04
	CmdPushEvent           Command = 0x05
	CmdSubmitTelecommand   Command = 0x06
	CmdPullTelecommand     Command = 0x07
	CmdOpenFile            Command = 0x08
	CmdReadFileChunk       Command = 0x0A
	CmdFileModTime         Command = 0x0C
	CmdTrendQuery          Command = 0x0D
	CmdAckEvent            Command = 0x0E
)

func (c Command) String() string {
	switch c {
	case CmdVersion:
		return "version"
	case CmdAuthenticate:
		return "authenticate"
	case CmdPing:
		return "ping"
	case CmdPushLiveSnapshot:
		return "push_live_snapshot"
	case CmdPushArchiveSnapshot:
		return "push_archive_snapshot"
	case CmdPushEvent:
		return "push_event"
	case CmdSubmitTelecommand:
		return "submit_telecommand"
	case CmdPullTelecommand:
		return "pull_telecommand"
	case CmdOpenFile:
		return "open_file"
	case CmdReadFileChunk:
		return "read_file_chunk"
	case CmdFileModTime:
		return "file_mod_time"
	case CmdTrendQuery:
		return "trend_query"
	case CmdAckEvent:
		return "ack_event"
	}
	return "unknown"
}

// State is the channel's connection state.
type State int32

const (
	Disconnected State = iota
	Connected
	Authorized
	NotReady // server rejected an operation; the transport is still up
	Error
	WaitingForResponse
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Authorized:
		return "authorized"
	case NotReady:
		return "not_ready"
	case Error:
		return "error"
	case WaitingForResponse:
		return "waiting_for_response"
	}
	return "unknown"
}

// Role is the access role the server assigns after authentication. Only
// RoleApp may drive this protocol.
type Role byte

const (
	RoleDisabled   Role = 0x00
	RoleAdmin      Role = 0x01
	RoleDispatcher Role = 0x02
	RoleGuest      Role = 0x03
	RoleApp        Role = 0x04
	RoleErr        Role = 0xFF
)

// Dir is the symbolic tag of a remote directory.
type Dir byte

const (
	DirCurrent Dir = iota
	DirHour
	DirMinute
	DirEvents
	DirConfig
	DirInterface
)

// Prefix returns the bracketed path prefix the server uses for the
// directory, e.g. "[Base]/" for config tables.
func (d Dir) Prefix() string {
	switch d {
	case DirCurrent:
		return "[Cur]/"
	case DirHour:
		return "[Hr]/"
	case DirMinute:
		return "[Min]/"
	case DirEvents:
		return "[Ev]/"
	case DirConfig:
		return "[Base]/"
	case DirInterface:
		return "[Itf]/"
	}
	return ""
}
