package mirror

import (
	"context"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// AckNotify keeps the secondary's dedup slots aligned when the primary
// executed an operation without changing anything. The secondary caches
// the primary's result under the same sequence number.
type AckNotify struct {
	Result int32
}

func (a *AckNotify) MsgType() wire.MsgType { return wire.MsgAckNotify }

func (a *AckNotify) MarshalBody() []byte {
	var e wire.Encoder
	e.Int(1, int64(a.Result))
	return e.Bytes()
}

func (a *AckNotify) UnmarshalBody(b []byte) error {
	*a = AckNotify{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		if f.Num == 1 {
			a.Result = int32(f.Int())
		}
		return nil
	})
}

func (a *AckNotify) IsMirrored() bool            { return true }
func (a *AckNotify) Locks() LockSpec             { return LockSpec{} }
func (a *AckNotify) ForwardEncode() wire.Message { return a }
func (a *AckNotify) AllowsEarlyCompletion() bool { return false }

func (a *AckNotify) ExecuteLocally(ctx context.Context, env *Env) Result {
	return Result{Response: &wire.OpResponse{Result: a.Result}}
}
