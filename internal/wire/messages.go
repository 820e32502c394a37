package wire

import (
	"fmt"
)

// GenericCode is the control code of a GenericResponse
type GenericCode uint32

const (
	GenericTryAgain        GenericCode = 1 // peer asks the caller to retry later
	GenericIndirectCommErr GenericCode = 2 // peer failed talking to a third node
	GenericNewSeqNoBase    GenericCode = 3 // handshake answer, Value holds the base
)

func (c GenericCode) String() string {
	switch c {
	case GenericTryAgain:
		return "TryAgain"
	case GenericIndirectCommErr:
		return "IndirectCommErr"
	case GenericNewSeqNoBase:
		return "NewSeqNoBase"
	default:
		return fmt.Sprintf("GenericCode(%d)", uint32(c))
	}
}

// GenericResponse is a control message that may answer any request
type GenericResponse struct {
	Code   GenericCode
	Detail string
	Value  uint64
}

func (m *GenericResponse) MsgType() MsgType { return MsgGenericResponse }

func (m *GenericResponse) MarshalBody() []byte {
	var e Encoder
	e.Uint(1, uint64(m.Code))
	e.String(2, m.Detail)
	e.Uint(3, m.Value)
	return e.Bytes()
}

func (m *GenericResponse) UnmarshalBody(b []byte) error {
	*m = GenericResponse{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			m.Code = GenericCode(f.Varint)
		case 2:
			m.Detail = f.Text()
		case 3:
			m.Value = f.Varint
		}
		return nil
	})
}

// OpResponse answers every mirrored operation and every resync message.
// Result is a store result code; zero means success.
type OpResponse struct {
	Result  int32
	EntryID string
	Size    int64
	Payload []byte
}

func (m *OpResponse) MsgType() MsgType { return MsgOpResponse }

func (m *OpResponse) MarshalBody() []byte {
	var e Encoder
	e.Int(1, int64(m.Result))
	e.String(2, m.EntryID)
	e.Int(3, m.Size)
	e.Raw(4, m.Payload)
	return e.Bytes()
}

func (m *OpResponse) UnmarshalBody(b []byte) error {
	*m = OpResponse{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			m.Result = int32(f.Int())
		case 2:
			m.EntryID = f.Text()
		case 3:
			m.Size = f.Int()
		case 4:
			m.Payload = f.Copy()
		}
		return nil
	})
}

// ResyncStart tells the secondary a resync of its group begins
type ResyncStart struct {
	GroupID uint16
	JobID   string
	Since   int64 // unix nanos, zero for a full resync
}

func (m *ResyncStart) MsgType() MsgType { return MsgResyncStart }

func (m *ResyncStart) MarshalBody() []byte {
	var e Encoder
	e.Uint(1, uint64(m.GroupID))
	e.String(2, m.JobID)
	e.Int(3, m.Since)
	return e.Bytes()
}

func (m *ResyncStart) UnmarshalBody(b []byte) error {
	*m = ResyncStart{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			m.GroupID = uint16(f.Varint)
		case 2:
			m.JobID = f.Text()
		case 3:
			m.Since = f.Int()
		}
		return nil
	})
}

// EntryRecord is the transferable form of a namespace entry
type EntryRecord struct {
	ID       string
	ParentID string
	Name     string
	IsDir    bool
	Size     int64
	Mode     uint32
	ModTime  int64
}

func (r *EntryRecord) MarshalBody() []byte {
	var e Encoder
	e.String(1, r.ID)
	e.String(2, r.ParentID)
	e.String(3, r.Name)
	e.Bool(4, r.IsDir)
	e.Int(5, r.Size)
	e.Uint(6, uint64(r.Mode))
	e.Int(7, r.ModTime)
	return e.Bytes()
}

func (r *EntryRecord) UnmarshalBody(b []byte) error {
	*r = EntryRecord{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			r.ID = f.Text()
		case 2:
			r.ParentID = f.Text()
		case 3:
			r.Name = f.Text()
		case 4:
			r.IsDir = f.Bool()
		case 5:
			r.Size = f.Int()
		case 6:
			r.Mode = uint32(f.Varint)
		case 7:
			r.ModTime = f.Int()
		}
		return nil
	})
}

// Chunk is a non-zero, snappy-compressed slice of file content
type Chunk struct {
	Offset int64
	Data   []byte
}

func (c *Chunk) MarshalBody() []byte {
	var e Encoder
	e.Int(1, c.Offset)
	e.Raw(2, c.Data)
	return e.Bytes()
}

func (c *Chunk) UnmarshalBody(b []byte) error {
	*c = Chunk{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			c.Offset = f.Int()
		case 2:
			c.Data = f.Copy()
		}
		return nil
	})
}

// ResyncEntry carries one entry to the secondary. With Remove set only
// Entry.ID is meaningful and the secondary deletes the entry.
type ResyncEntry struct {
	Entry  EntryRecord
	Chunks []Chunk
	Remove bool
}

func (m *ResyncEntry) MsgType() MsgType { return MsgResyncEntry }

func (m *ResyncEntry) MarshalBody() []byte {
	var e Encoder
	e.Nested(1, &m.Entry)
	for i := range m.Chunks {
		e.Nested(2, &m.Chunks[i])
	}
	e.Bool(3, m.Remove)
	return e.Bytes()
}

func (m *ResyncEntry) UnmarshalBody(b []byte) error {
	*m = ResyncEntry{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			return m.Entry.UnmarshalBody(f.Data)
		case 2:
			var c Chunk
			if err := c.UnmarshalBody(f.Data); err != nil {
				return err
			}
			m.Chunks = append(m.Chunks, c)
		case 3:
			m.Remove = f.Bool()
		}
		return nil
	})
}

// ResyncDirListing names the children a directory has on the primary.
// The secondary removes every other child.
type ResyncDirListing struct {
	DirID string
	Names []string
}

func (m *ResyncDirListing) MsgType() MsgType { return MsgResyncDirListing }

func (m *ResyncDirListing) MarshalBody() []byte {
	var e Encoder
	e.String(1, m.DirID)
	e.RepeatedString(2, m.Names)
	return e.Bytes()
}

func (m *ResyncDirListing) UnmarshalBody(b []byte) error {
	*m = ResyncDirListing{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			m.DirID = f.Text()
		case 2:
			m.Names = append(m.Names, f.Text())
		}
		return nil
	})
}

// SessionRecord is the transferable form of one client session
type SessionRecord struct {
	ID        uint32
	BaseSeq   uint64
	OpenFiles []string
}

func (r *SessionRecord) MarshalBody() []byte {
	var e Encoder
	e.Uint(1, uint64(r.ID))
	e.Uint(2, r.BaseSeq)
	e.RepeatedString(3, r.OpenFiles)
	return e.Bytes()
}

func (r *SessionRecord) UnmarshalBody(b []byte) error {
	*r = SessionRecord{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			r.ID = uint32(f.Varint)
		case 2:
			r.BaseSeq = f.Varint
		case 3:
			r.OpenFiles = append(r.OpenFiles, f.Text())
		}
		return nil
	})
}

// ResyncSessions replaces the secondary's session store
type ResyncSessions struct {
	Sessions []SessionRecord
}

func (m *ResyncSessions) MsgType() MsgType { return MsgResyncSessions }

func (m *ResyncSessions) MarshalBody() []byte {
	var e Encoder
	for i := range m.Sessions {
		e.Nested(1, &m.Sessions[i])
	}
	return e.Bytes()
}

func (m *ResyncSessions) UnmarshalBody(b []byte) error {
	*m = ResyncSessions{}
	return DecodeFields(b, func(f Field) error {
		if f.Num != 1 {
			return nil
		}
		var r SessionRecord
		if err := r.UnmarshalBody(f.Data); err != nil {
			return err
		}
		m.Sessions = append(m.Sessions, r)
		return nil
	})
}

// SetConsistencyState pushes a target's consistency state to a peer
type SetConsistencyState struct {
	TargetID uint16
	State    uint8
}

func (m *SetConsistencyState) MsgType() MsgType { return MsgSetConsistencyState }

func (m *SetConsistencyState) MarshalBody() []byte {
	var e Encoder
	e.Uint(1, uint64(m.TargetID))
	e.Uint(2, uint64(m.State))
	return e.Bytes()
}

func (m *SetConsistencyState) UnmarshalBody(b []byte) error {
	*m = SetConsistencyState{}
	return DecodeFields(b, func(f Field) error {
		switch f.Num {
		case 1:
			m.TargetID = uint16(f.Varint)
		case 2:
			m.State = uint8(f.Varint)
		}
		return nil
	})
}

// NewGenericFrame builds a GenericResponse frame answering req
func NewGenericFrame(req Header, code GenericCode, detail string, value uint64) *Frame {
	return NewFrame(&GenericResponse{Code: code, Detail: detail, Value: value}, ReplyHeader(req))
}

// ReplyHeader derives a response header from a request header
func ReplyHeader(req Header) Header {
	h := Header{
		TargetID:  req.TargetID,
		SessionID: req.SessionID,
	}
	if req.HasFlag(FlagHasSequenceNumber) {
		h.SetSequence(req.Sequence, req.SequenceDone)
	}
	return h
}
