package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/golang/snappy"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// SplitSparse cuts data into chunkSize pieces, drops all-zero pieces and
// snappy-compresses the rest
func SplitSparse(data []byte, chunkSize int) []wire.Chunk {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	var chunks []wire.Chunk
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		piece := data[off:end]
		if allZero(piece) {
			continue
		}
		chunks = append(chunks, wire.Chunk{Offset: int64(off), Data: snappy.Encode(nil, piece)})
	}
	return chunks
}

// JoinSparse rebuilds a size-byte buffer from chunks produced by SplitSparse
func JoinSparse(size int64, chunks []wire.Chunk) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative size %d", size)
	}
	out := make([]byte, size)
	for _, c := range chunks {
		piece, err := snappy.Decode(nil, c.Data)
		if err != nil {
			return nil, fmt.Errorf("chunk at %d: %w", c.Offset, err)
		}
		if c.Offset < 0 || c.Offset+int64(len(piece)) > size {
			return nil, fmt.Errorf("chunk at %d (%d bytes) exceeds size %d", c.Offset, len(piece), size)
		}
		copy(out[c.Offset:], piece)
	}
	return out, nil
}

// Digest hashes the namespace content independently of insertion order
// and modification times, so two replicas can be compared.
func (ns *Namespace) Digest() string {
	entries := ns.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	h := sha256.New()
	for _, e := range entries {
		dataSum := sha256.Sum256(e.Data)
		fmt.Fprintf(h, "%s|%s|%s|%t|%o|%d|%x\n", e.ID, e.ParentID, e.Name, e.IsDir, e.Mode, e.Size, dataSum)
	}
	return hex.EncodeToString(h.Sum(nil))
}
