package ops

import (
	"context"

	"github.com/ThinkParQ/beegfs-sub011/internal/mirror"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

func fileLocks(id string) mirror.LockSpec {
	return mirror.LockSpec{Files: []string{id}}
}

// WriteFile stores data at an offset
type WriteFile struct {
	EntryID string
	Offset  int64
	Data    []byte
}

func (m *WriteFile) MsgType() wire.MsgType { return wire.MsgWriteFile }

func (m *WriteFile) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.EntryID)
	e.Int(2, m.Offset)
	e.Raw(3, m.Data)
	return e.Bytes()
}

func (m *WriteFile) UnmarshalBody(b []byte) error {
	*m = WriteFile{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.EntryID = f.Text()
		case 2:
			m.Offset = f.Int()
		case 3:
			m.Data = f.Copy()
		}
		return nil
	})
}

func (m *WriteFile) IsMirrored() bool            { return true }
func (m *WriteFile) Locks() mirror.LockSpec      { return fileLocks(m.EntryID) }
func (m *WriteFile) ForwardEncode() wire.Message { return m }
func (m *WriteFile) AllowsEarlyCompletion() bool { return false }

func (m *WriteFile) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	size, res := env.Namespace.Write(m.EntryID, m.Offset, m.Data)
	if res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID, Size: size},
		Changed:  true,
		Changes:  store.Changes("write", m.EntryID),
	}
}

// TruncateFile sets a file's size
type TruncateFile struct {
	EntryID string
	Size    int64
}

func (m *TruncateFile) MsgType() wire.MsgType { return wire.MsgTruncateFile }

func (m *TruncateFile) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.EntryID)
	e.Int(2, m.Size)
	return e.Bytes()
}

func (m *TruncateFile) UnmarshalBody(b []byte) error {
	*m = TruncateFile{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.EntryID = f.Text()
		case 2:
			m.Size = f.Int()
		}
		return nil
	})
}

func (m *TruncateFile) IsMirrored() bool            { return true }
func (m *TruncateFile) Locks() mirror.LockSpec      { return fileLocks(m.EntryID) }
func (m *TruncateFile) ForwardEncode() wire.Message { return m }
func (m *TruncateFile) AllowsEarlyCompletion() bool { return false }

func (m *TruncateFile) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	if res := env.Namespace.Truncate(m.EntryID, m.Size); res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID, Size: m.Size},
		Changed:  true,
		Changes:  store.Changes("truncate", m.EntryID),
	}
}

// OpenFile registers an open handle in the caller's session. Handles
// reach a resynced secondary through the session-store sync, so no
// change is registered.
type OpenFile struct {
	EntryID string
}

func (m *OpenFile) MsgType() wire.MsgType { return wire.MsgOpenFile }

func (m *OpenFile) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.EntryID)
	return e.Bytes()
}

func (m *OpenFile) UnmarshalBody(b []byte) error {
	*m = OpenFile{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		if f.Num == 1 {
			m.EntryID = f.Text()
		}
		return nil
	})
}

func (m *OpenFile) IsMirrored() bool            { return true }
func (m *OpenFile) Locks() mirror.LockSpec      { return fileLocks(m.EntryID) }
func (m *OpenFile) ForwardEncode() wire.Message { return m }
func (m *OpenFile) AllowsEarlyCompletion() bool { return false }

func (m *OpenFile) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	e, ok := env.Namespace.Get(m.EntryID)
	if !ok {
		return mirror.Fail(store.NotFound)
	}
	if e.IsDir {
		return mirror.Fail(store.IsADir)
	}
	sess := env.Sessions.Reference(env.Header.SessionID)
	defer env.Sessions.Release(sess)
	sess.OpenFile(m.EntryID)
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID, Size: e.Size},
		Changed:  true,
	}
}

// CloseFile drops a handle. The client does not wait for the secondary.
type CloseFile struct {
	EntryID string
}

func (m *CloseFile) MsgType() wire.MsgType { return wire.MsgCloseFile }

func (m *CloseFile) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.EntryID)
	return e.Bytes()
}

func (m *CloseFile) UnmarshalBody(b []byte) error {
	*m = CloseFile{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		if f.Num == 1 {
			m.EntryID = f.Text()
		}
		return nil
	})
}

func (m *CloseFile) IsMirrored() bool            { return true }
func (m *CloseFile) Locks() mirror.LockSpec      { return fileLocks(m.EntryID) }
func (m *CloseFile) ForwardEncode() wire.Message { return m }
func (m *CloseFile) AllowsEarlyCompletion() bool { return true }

func (m *CloseFile) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	sess := env.Sessions.Reference(env.Header.SessionID)
	defer env.Sessions.Release(sess)
	if !sess.CloseFile(m.EntryID) {
		return mirror.Fail(store.NotFound)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID},
		Changed:  true,
	}
}
