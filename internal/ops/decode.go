// Package ops holds the closed set of client operations and the table
// that turns a request frame into one of them.
package ops

import (
	"errors"
	"fmt"

	"github.com/ThinkParQ/beegfs-sub011/internal/mirror"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// ErrUnknownOperation is returned for frames with no operation variant
var ErrUnknownOperation = errors.New("unknown operation")

var factories = map[wire.MsgType]func() mirror.Operation{
	wire.MsgMkDir:        func() mirror.Operation { return &MkDir{} },
	wire.MsgRmDir:        func() mirror.Operation { return &RmDir{} },
	wire.MsgCreateFile:   func() mirror.Operation { return &CreateFile{} },
	wire.MsgUnlinkFile:   func() mirror.Operation { return &UnlinkFile{} },
	wire.MsgWriteFile:    func() mirror.Operation { return &WriteFile{} },
	wire.MsgTruncateFile: func() mirror.Operation { return &TruncateFile{} },
	wire.MsgRename:       func() mirror.Operation { return &Rename{} },
	wire.MsgSetAttr:      func() mirror.Operation { return &SetAttr{} },
	wire.MsgOpenFile:     func() mirror.Operation { return &OpenFile{} },
	wire.MsgCloseFile:    func() mirror.Operation { return &CloseFile{} },
	wire.MsgStat:         func() mirror.Operation { return &Stat{} },
	wire.MsgAckNotify:    func() mirror.Operation { return &mirror.AckNotify{} },
}

// IsOperation reports whether t decodes to an operation
func IsOperation(t wire.MsgType) bool {
	_, ok := factories[t]
	return ok
}

// Decode builds the operation carried by f
func Decode(f *wire.Frame) (mirror.Operation, error) {
	newOp, ok := factories[f.Header.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, f.Header.Type)
	}
	op := newOp()
	if err := f.Decode(op); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Header.Type, err)
	}
	return op, nil
}
