package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("wal closed")

const (
	// recordHeaderSize is [4 bytes length][4 bytes checksum]
	recordHeaderSize = 8
	positionSize     = 8

	// DefaultMaxSegmentSize rotates segments at 4MB
	DefaultMaxSegmentSize int64 = 4 * 1024 * 1024
)

// Record is one appended payload and its log position
type Record struct {
	Pos     uint64
	Payload []byte
}

// Config contains configuration for a log
type Config struct {
	Dir            string
	MaxSegmentSize int64
	// SyncOnAppend fsyncs after every record
	SyncOnAppend bool
}

// Log is an append-only segmented log. Positions increase by one per
// record and survive Reset, so a reader's position never goes stale.
//
// Record format on disk:
// [4 bytes length][4 bytes crc32][8 bytes position][payload]
type Log struct {
	config Config

	mu          sync.RWMutex
	currentFile *os.File
	currentSize int64
	nextPos     uint64
	closed      bool
}

func segmentName(firstPos uint64) string {
	return fmt.Sprintf("changes-%020d.log", firstPos)
}

func parseSegmentName(name string) (uint64, bool) {
	var pos uint64
	if _, err := fmt.Sscanf(name, "changes-%d.log", &pos); err != nil {
		return 0, false
	}
	return pos, true
}

// Open opens or creates a log in config.Dir. Records after the first
// damaged one in the newest segment are discarded.
func Open(config Config) (*Log, error) {
	if config.MaxSegmentSize <= 0 {
		config.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	l := &Log{config: config}

	segments, err := l.segments()
	if err != nil {
		return nil, err
	}
	if n := len(segments); n > 0 {
		last := segments[n-1]
		records, validSize, err := l.readSegment(last)
		if err != nil {
			return nil, err
		}
		l.nextPos = last
		if len(records) > 0 {
			l.nextPos = records[len(records)-1].Pos + 1
		}
		path := filepath.Join(config.Dir, segmentName(last))
		if err := os.Truncate(path, validSize); err != nil {
			return nil, fmt.Errorf("failed to truncate torn segment: %w", err)
		}
	}

	if err := l.openSegment(); err != nil {
		return nil, err
	}
	return l, nil
}

// segments lists segment start positions in ascending order
func (l *Log) segments() ([]uint64, error) {
	files, err := os.ReadDir(l.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}
	var out []uint64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if pos, ok := parseSegmentName(f.Name()); ok {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// openSegment opens the segment that starts at nextPos for appending
func (l *Log) openSegment() error {
	path := filepath.Join(l.config.Dir, segmentName(l.nextPos))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat segment file: %w", err)
	}
	l.currentFile = file
	l.currentSize = stat.Size()
	return nil
}

func (l *Log) rotate() error {
	if err := l.currentFile.Sync(); err != nil {
		return err
	}
	if err := l.currentFile.Close(); err != nil {
		return err
	}
	return l.openSegment()
}

// Append writes payload and returns its position
func (l *Log) Append(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	pos := l.nextPos
	buf := make([]byte, recordHeaderSize+positionSize+len(payload))
	binary.LittleEndian.PutUint64(buf[recordHeaderSize:], pos)
	copy(buf[recordHeaderSize+positionSize:], payload)
	body := buf[recordHeaderSize:]
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(body)))
	binary.LittleEndian.PutUint32(buf[4:], crc32.ChecksumIEEE(body))

	if _, err := l.currentFile.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	if l.config.SyncOnAppend {
		if err := l.currentFile.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync record: %w", err)
		}
	}

	l.nextPos++
	l.currentSize += int64(len(buf))
	if l.currentSize >= l.config.MaxSegmentSize {
		if err := l.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate segment: %w", err)
		}
	}
	return pos, nil
}

// NextPosition is the position the next Append will get
func (l *Log) NextPosition() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextPos
}

// ReadFrom returns up to max records with Pos >= from, in order.
// max <= 0 means no limit.
func (l *Log) ReadFrom(from uint64, max int) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	segments, err := l.segments()
	if err != nil {
		return nil, err
	}

	var out []Record
	for i, start := range segments {
		// skip segments that end before from
		if i+1 < len(segments) && segments[i+1] <= from {
			continue
		}
		records, _, err := l.readSegment(start)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.Pos < from {
				continue
			}
			out = append(out, r)
			if max > 0 && len(out) >= max {
				return out, nil
			}
		}
	}
	return out, nil
}

// readSegment reads the valid prefix of a segment and its size in bytes
func (l *Log) readSegment(start uint64) ([]Record, int64, error) {
	file, err := os.Open(filepath.Join(l.config.Dir, segmentName(start)))
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = file.Close() }()

	var (
		records []Record
		valid   int64
		header  [recordHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(file, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("failed to read length: %w", err)
		}
		length := binary.LittleEndian.Uint32(header[0:])
		checksum := binary.LittleEndian.Uint32(header[4:])
		if length < positionSize {
			break
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(file, body); err != nil {
			break
		}
		if crc32.ChecksumIEEE(body) != checksum {
			break
		}

		records = append(records, Record{
			Pos:     binary.LittleEndian.Uint64(body),
			Payload: body[positionSize:],
		})
		valid += int64(recordHeaderSize) + int64(length)
	}
	return records, valid, nil
}

// Reset drops every record. Positions keep increasing.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := l.currentFile.Close(); err != nil {
		return err
	}
	segments, err := l.segments()
	if err != nil {
		return err
	}
	for _, s := range segments {
		path := filepath.Join(l.config.Dir, segmentName(s))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove segment %s: %w", path, err)
		}
	}
	return l.openSegment()
}

// SegmentCount returns the number of segment files
func (l *Log) SegmentCount() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	segments, err := l.segments()
	return len(segments), err
}

// Close syncs and closes the log
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.currentFile.Sync(); err != nil {
		return err
	}
	return l.currentFile.Close()
}
