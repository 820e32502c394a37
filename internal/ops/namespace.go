package ops

import (
	"context"

	"github.com/google/uuid"

	"github.com/ThinkParQ/beegfs-sub011/internal/mirror"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// assignID picks the entry id on the primary; the forwarded copy must carry it
func assignID(env *mirror.Env, id *string) bool {
	if *id != "" {
		return true
	}
	if env.Secondary {
		return false
	}
	*id = uuid.NewString()
	return true
}

func dirLocks(parent, name string) mirror.LockSpec {
	return mirror.LockSpec{
		Buckets: []uint32{mirror.BucketOf(parent)},
		Names:   []mirror.ParentName{{Parent: parent, Name: name}},
	}
}

// MkDir creates a directory
type MkDir struct {
	ParentID string
	Name     string
	Mode     uint32
	EntryID  string
}

func (m *MkDir) MsgType() wire.MsgType { return wire.MsgMkDir }

func (m *MkDir) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.ParentID)
	e.String(2, m.Name)
	e.Uint(3, uint64(m.Mode))
	e.String(4, m.EntryID)
	return e.Bytes()
}

func (m *MkDir) UnmarshalBody(b []byte) error {
	*m = MkDir{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.ParentID = f.Text()
		case 2:
			m.Name = f.Text()
		case 3:
			m.Mode = uint32(f.Varint)
		case 4:
			m.EntryID = f.Text()
		}
		return nil
	})
}

func (m *MkDir) IsMirrored() bool            { return true }
func (m *MkDir) Locks() mirror.LockSpec      { return dirLocks(m.ParentID, m.Name) }
func (m *MkDir) ForwardEncode() wire.Message { return m }
func (m *MkDir) AllowsEarlyCompletion() bool { return false }

func (m *MkDir) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	if !assignID(env, &m.EntryID) {
		return mirror.Fail(store.Invalid)
	}
	if res := env.Namespace.Mkdir(m.ParentID, m.Name, m.EntryID, m.Mode); res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID},
		Changed:  true,
		Changes:  store.Changes("mkdir", m.EntryID, m.ParentID),
	}
}

// RmDir removes an empty directory
type RmDir struct {
	ParentID string
	Name     string
}

func (m *RmDir) MsgType() wire.MsgType { return wire.MsgRmDir }

func (m *RmDir) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.ParentID)
	e.String(2, m.Name)
	return e.Bytes()
}

func (m *RmDir) UnmarshalBody(b []byte) error {
	*m = RmDir{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.ParentID = f.Text()
		case 2:
			m.Name = f.Text()
		}
		return nil
	})
}

func (m *RmDir) IsMirrored() bool            { return true }
func (m *RmDir) Locks() mirror.LockSpec      { return dirLocks(m.ParentID, m.Name) }
func (m *RmDir) ForwardEncode() wire.Message { return m }
func (m *RmDir) AllowsEarlyCompletion() bool { return false }

func (m *RmDir) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	e, _ := env.Namespace.Lookup(m.ParentID, m.Name)
	if res := env.Namespace.Rmdir(m.ParentID, m.Name); res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: e.ID},
		Changed:  true,
		Changes:  store.Changes("rmdir", e.ID, m.ParentID),
	}
}

// CreateFile creates an empty file
type CreateFile struct {
	ParentID string
	Name     string
	Mode     uint32
	EntryID  string
}

func (m *CreateFile) MsgType() wire.MsgType { return wire.MsgCreateFile }

func (m *CreateFile) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.ParentID)
	e.String(2, m.Name)
	e.Uint(3, uint64(m.Mode))
	e.String(4, m.EntryID)
	return e.Bytes()
}

func (m *CreateFile) UnmarshalBody(b []byte) error {
	*m = CreateFile{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.ParentID = f.Text()
		case 2:
			m.Name = f.Text()
		case 3:
			m.Mode = uint32(f.Varint)
		case 4:
			m.EntryID = f.Text()
		}
		return nil
	})
}

func (m *CreateFile) IsMirrored() bool            { return true }
func (m *CreateFile) Locks() mirror.LockSpec      { return dirLocks(m.ParentID, m.Name) }
func (m *CreateFile) ForwardEncode() wire.Message { return m }
func (m *CreateFile) AllowsEarlyCompletion() bool { return false }

func (m *CreateFile) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	if !assignID(env, &m.EntryID) {
		return mirror.Fail(store.Invalid)
	}
	if res := env.Namespace.Create(m.ParentID, m.Name, m.EntryID, m.Mode); res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID},
		Changed:  true,
		Changes:  store.Changes("create", m.EntryID, m.ParentID),
	}
}

// UnlinkFile removes a file
type UnlinkFile struct {
	ParentID string
	Name     string
}

func (m *UnlinkFile) MsgType() wire.MsgType { return wire.MsgUnlinkFile }

func (m *UnlinkFile) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.ParentID)
	e.String(2, m.Name)
	return e.Bytes()
}

func (m *UnlinkFile) UnmarshalBody(b []byte) error {
	*m = UnlinkFile{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.ParentID = f.Text()
		case 2:
			m.Name = f.Text()
		}
		return nil
	})
}

func (m *UnlinkFile) IsMirrored() bool            { return true }
func (m *UnlinkFile) Locks() mirror.LockSpec      { return dirLocks(m.ParentID, m.Name) }
func (m *UnlinkFile) ForwardEncode() wire.Message { return m }
func (m *UnlinkFile) AllowsEarlyCompletion() bool { return false }

func (m *UnlinkFile) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	id, res := env.Namespace.Unlink(m.ParentID, m.Name)
	if res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: id},
		Changed:  true,
		Changes:  store.Changes("unlink", id, m.ParentID),
	}
}

// Rename moves an entry between directories
type Rename struct {
	SrcParent string
	SrcName   string
	DstParent string
	DstName   string
}

func (m *Rename) MsgType() wire.MsgType { return wire.MsgRename }

func (m *Rename) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.SrcParent)
	e.String(2, m.SrcName)
	e.String(3, m.DstParent)
	e.String(4, m.DstName)
	return e.Bytes()
}

func (m *Rename) UnmarshalBody(b []byte) error {
	*m = Rename{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.SrcParent = f.Text()
		case 2:
			m.SrcName = f.Text()
		case 3:
			m.DstParent = f.Text()
		case 4:
			m.DstName = f.Text()
		}
		return nil
	})
}

func (m *Rename) IsMirrored() bool { return true }

// Locks covers both parent directories and both names
func (m *Rename) Locks() mirror.LockSpec {
	return mirror.LockSpec{
		Buckets: []uint32{mirror.BucketOf(m.SrcParent), mirror.BucketOf(m.DstParent)},
		Dirs:    []string{m.SrcParent, m.DstParent},
		Names: []mirror.ParentName{
			{Parent: m.SrcParent, Name: m.SrcName},
			{Parent: m.DstParent, Name: m.DstName},
		},
	}
}

func (m *Rename) ForwardEncode() wire.Message { return m }
func (m *Rename) AllowsEarlyCompletion() bool { return false }

func (m *Rename) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	e, _ := env.Namespace.Lookup(m.SrcParent, m.SrcName)
	if res := env.Namespace.Rename(m.SrcParent, m.SrcName, m.DstParent, m.DstName); res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: e.ID},
		Changed:  true,
		Changes:  store.Changes("rename", e.ID, m.SrcParent, m.DstParent),
	}
}

// SetAttr changes mode bits
type SetAttr struct {
	EntryID string
	Mode    uint32
}

func (m *SetAttr) MsgType() wire.MsgType { return wire.MsgSetAttr }

func (m *SetAttr) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.EntryID)
	e.Uint(2, uint64(m.Mode))
	return e.Bytes()
}

func (m *SetAttr) UnmarshalBody(b []byte) error {
	*m = SetAttr{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			m.EntryID = f.Text()
		case 2:
			m.Mode = uint32(f.Varint)
		}
		return nil
	})
}

func (m *SetAttr) IsMirrored() bool            { return true }
func (m *SetAttr) Locks() mirror.LockSpec      { return mirror.LockSpec{Files: []string{m.EntryID}} }
func (m *SetAttr) ForwardEncode() wire.Message { return m }
func (m *SetAttr) AllowsEarlyCompletion() bool { return false }

func (m *SetAttr) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	if res := env.Namespace.SetAttr(m.EntryID, m.Mode); res != store.OK {
		return mirror.Fail(res)
	}
	return mirror.Result{
		Response: &wire.OpResponse{EntryID: m.EntryID},
		Changed:  true,
		Changes:  store.Changes("setattr", m.EntryID),
	}
}

// Stat reads an entry. It is never mirrored.
type Stat struct {
	EntryID string
}

func (m *Stat) MsgType() wire.MsgType { return wire.MsgStat }

func (m *Stat) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, m.EntryID)
	return e.Bytes()
}

func (m *Stat) UnmarshalBody(b []byte) error {
	*m = Stat{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		if f.Num == 1 {
			m.EntryID = f.Text()
		}
		return nil
	})
}

func (m *Stat) IsMirrored() bool            { return false }
func (m *Stat) Locks() mirror.LockSpec      { return mirror.LockSpec{} }
func (m *Stat) ForwardEncode() wire.Message { return m }
func (m *Stat) AllowsEarlyCompletion() bool { return false }

func (m *Stat) ExecuteLocally(ctx context.Context, env *mirror.Env) mirror.Result {
	e, ok := env.Namespace.Get(m.EntryID)
	if !ok {
		return mirror.Fail(store.NotFound)
	}
	rec := e.ToRecord()
	return mirror.Result{Response: &wire.OpResponse{
		EntryID: e.ID,
		Size:    e.Size,
		Payload: rec.MarshalBody(),
	}}
}
