package wire

import "fmt"

// MsgType identifies the body carried by a frame
type MsgType uint16

const (
	MsgInvalid         MsgType = 0
	MsgGenericResponse MsgType = 1
	MsgOpResponse      MsgType = 2
	MsgAckNotify       MsgType = 3

	// Mirrored namespace operations
	MsgMkDir        MsgType = 100
	MsgRmDir        MsgType = 101
	MsgCreateFile   MsgType = 102
	MsgUnlinkFile   MsgType = 103
	MsgWriteFile    MsgType = 104
	MsgTruncateFile MsgType = 105
	MsgRename       MsgType = 106
	MsgSetAttr      MsgType = 107
	MsgOpenFile     MsgType = 108
	MsgCloseFile    MsgType = 109
	MsgStat         MsgType = 110

	// Buddy resync
	MsgResyncStart         MsgType = 200
	MsgResyncEntry         MsgType = 201
	MsgResyncDirListing    MsgType = 202
	MsgResyncSessions      MsgType = 203
	MsgSetConsistencyState MsgType = 204
)

var msgTypeNames = map[MsgType]string{
	MsgInvalid:             "Invalid",
	MsgGenericResponse:     "GenericResponse",
	MsgOpResponse:          "OpResponse",
	MsgAckNotify:           "AckNotify",
	MsgMkDir:               "MkDir",
	MsgRmDir:               "RmDir",
	MsgCreateFile:          "CreateFile",
	MsgUnlinkFile:          "UnlinkFile",
	MsgWriteFile:           "WriteFile",
	MsgTruncateFile:        "TruncateFile",
	MsgRename:              "Rename",
	MsgSetAttr:             "SetAttr",
	MsgOpenFile:            "OpenFile",
	MsgCloseFile:           "CloseFile",
	MsgStat:                "Stat",
	MsgResyncStart:         "ResyncStart",
	MsgResyncEntry:         "ResyncEntry",
	MsgResyncDirListing:    "ResyncDirListing",
	MsgResyncSessions:      "ResyncSessions",
	MsgSetConsistencyState: "SetConsistencyState",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", uint16(t))
}

// IsResync reports whether t belongs to the buddy resync protocol
func (t MsgType) IsResync() bool {
	return t >= MsgResyncStart && t <= MsgSetConsistencyState
}

// Message is implemented by every frame body
type Message interface {
	MsgType() MsgType
	MarshalBody() []byte
	UnmarshalBody([]byte) error
}
