package store

import (
	"fmt"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// Change names an entry whose current state must reach the secondary
type Change struct {
	EntryID string
	Op      string
}

// MarshalBody encodes the change for the change-set log
func (c *Change) MarshalBody() []byte {
	var e wire.Encoder
	e.String(1, c.EntryID)
	e.String(2, c.Op)
	return e.Bytes()
}

// UnmarshalBody decodes a change written by MarshalBody
func (c *Change) UnmarshalBody(b []byte) error {
	*c = Change{}
	return wire.DecodeFields(b, func(f wire.Field) error {
		switch f.Num {
		case 1:
			c.EntryID = f.Text()
		case 2:
			c.Op = f.Text()
		}
		return nil
	})
}

func (c Change) String() string {
	return fmt.Sprintf("%s(%s)", c.Op, c.EntryID)
}

// Changes builds one Change per id, skipping empties and duplicates
func Changes(op string, ids ...string) []Change {
	seen := make(map[string]bool, len(ids))
	out := make([]Change, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Change{EntryID: id, Op: op})
	}
	return out
}

// ToRecord converts an entry to its wire form without content
func (e *Entry) ToRecord() wire.EntryRecord {
	return wire.EntryRecord{
		ID:       e.ID,
		ParentID: e.ParentID,
		Name:     e.Name,
		IsDir:    e.IsDir,
		Size:     e.Size,
		Mode:     e.Mode,
		ModTime:  e.ModTime.UnixNano(),
	}
}

// EntryFromRecord rebuilds an entry received from a peer
func EntryFromRecord(r wire.EntryRecord, data []byte) Entry {
	return Entry{
		ID:       r.ID,
		ParentID: r.ParentID,
		Name:     r.Name,
		IsDir:    r.IsDir,
		Mode:     r.Mode,
		Size:     r.Size,
		ModTime:  time.Unix(0, r.ModTime),
		Data:     data,
	}
}
