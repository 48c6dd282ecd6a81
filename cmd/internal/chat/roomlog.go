package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	recordDelim = '\n'

	// scanChunkSize is the fixed read size for the backward tail scan.
	scanChunkSize = 8 << 10
)

// Page is one window of a room's history.
//
// Entries are ordered oldest-first within the window; the window itself is
// addressed from the end of the log (offset 0 = the newest entries).
type Page struct {
	Entries []LogEntry
	HasMore bool
	Total   int64
}

// Log is the durable append-only message log of a single room.
//
// Records are self-delimited: one JSON object per line. Appends never rewrite
// prior bytes, so a torn write can damage at most the newest record.
// Pagination scans backward from the physical end of the file in fixed-size
// chunks and reads O(offset+limit) bytes regardless of log size.
type Log struct {
	roomID string
	path   string
	log    *slog.Logger

	mu    sync.Mutex
	f     *os.File
	count int64 // delimited records on disk; -1 until initialized
}

// NewLog constructs a Log for roomID backed by the file at path.
// The file is opened lazily on first append or read.
func NewLog(roomID, path string, logger *slog.Logger) *Log {
	return &Log{
		roomID: roomID,
		path:   path,
		log:    logger,
		count:  -1,
	}
}

// Append stamps the entry with server-side civil time, writes one delimited
// record at the end of the store and returns the stamped entry.
// A failed append never reports success to the sender.
func (l *Log) Append(username, text string, now time.Time) (LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureCountLocked(); err != nil {
		return LogEntry{}, err
	}
	if err := l.ensureOpenLocked(); err != nil {
		return LogEntry{}, err
	}

	entry := newEntry(l.roomID, username, text, now)
	rec, err := json.Marshal(entry)
	if err != nil {
		return LogEntry{}, fmt.Errorf("encode record: %w", err)
	}
	rec = append(rec, recordDelim)

	// One Write call per record keeps the append atomic with O_APPEND.
	if _, err := l.f.Write(rec); err != nil {
		// The record may have landed partially. Drop the cached count and fd so
		// the next operation recounts what is actually on disk.
		l.count = -1
		_ = l.f.Close()
		l.f = nil
		return LogEntry{}, fmt.Errorf("append %s: %w", l.path, err)
	}

	l.count++
	return entry, nil
}

// Count returns the number of records currently in the store.
func (l *Log) Count() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureCountLocked(); err != nil {
		return 0, err
	}
	return l.count, nil
}

// Page returns the limit entries ending offset entries back from the newest.
//
// offset >= total yields an empty page with HasMore=false. The snapshot is
// taken when Page begins: appends that start afterwards are not observed.
func (l *Log) Page(limit, offset int) (Page, error) {
	if limit < 0 || offset < 0 {
		return Page{}, errors.New("negative limit or offset")
	}

	// Capture count and file size under the append lock so the byte range we
	// scan corresponds exactly to the records we accounted for.
	l.mu.Lock()
	if err := l.ensureCountLocked(); err != nil {
		l.mu.Unlock()
		return Page{}, err
	}
	total := l.count

	page := Page{Total: total, HasMore: int64(offset)+int64(limit) < total}
	if limit == 0 || int64(offset) >= total {
		l.mu.Unlock()
		return page, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		l.mu.Unlock()
		return Page{}, fmt.Errorf("open %s: %w", l.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		l.mu.Unlock()
		_ = f.Close()
		return Page{}, fmt.Errorf("stat %s: %w", l.path, err)
	}
	size := st.Size()
	l.mu.Unlock()
	defer func() { _ = f.Close() }()

	need := offset + limit
	if int64(need) > total {
		need = int(total)
	}

	records, err := scanTail(f, size, need)
	if err != nil {
		return Page{}, fmt.Errorf("scan %s: %w", l.path, err)
	}

	// records holds the newest k records oldest-first. Map the requested
	// window [total-offset-limit, total-offset) onto it.
	k := len(records)
	start := k - offset - limit
	if start < 0 {
		start = 0
	}
	end := k - offset
	if end < start {
		end = start
	}

	entries := make([]LogEntry, 0, end-start)
	for i := start; i < end; i++ {
		var e LogEntry
		if err := json.Unmarshal(records[i], &e); err != nil {
			if i == k-1 {
				// A trailing record whose write was torn counts toward the
				// total but carries no decodable payload. Recovered locally.
				l.log.Warn("roomlog.page.torn_record", "room_id", l.roomID, "path", l.path)
				continue
			}
			return Page{}, fmt.Errorf("decode record %d: %w", i, err)
		}
		entries = append(entries, e)
	}

	page.Entries = entries
	return page, nil
}

// Close releases the append file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Remove closes and deletes the backing file. Used by explicit room deletion,
// which discards history by design.
func (l *Log) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.count = 0

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", l.path, err)
	}
	return nil
}

func (l *Log) ensureOpenLocked() error {
	if l.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", l.path, err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	l.f = f
	return nil
}

// ensureCountLocked initializes the record count when attaching to a
// pre-existing file. It runs once; appends keep the count incrementally.
func (l *Log) ensureCountLocked() error {
	if l.count >= 0 {
		return nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.count = 0
			return nil
		}
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	var (
		n    int64
		last byte
		any  bool
		buf  = make([]byte, scanChunkSize)
	)
	for {
		r, err := f.Read(buf)
		if r > 0 {
			any = true
			n += int64(bytes.Count(buf[:r], []byte{recordDelim}))
			last = buf[r-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("count %s: %w", l.path, err)
		}
	}

	// A non-empty trailing chunk with no final delimiter is one (torn) record.
	if any && last != recordDelim {
		n++
	}
	l.count = n
	return nil
}

// scanTail returns the newest need records of the first size bytes of r,
// ordered oldest-first. It reads backward in fixed-size chunks and stops as
// soon as need complete records have been delimited, so at most one chunk
// beyond the requested window is read.
func scanTail(r io.ReaderAt, size int64, need int) ([][]byte, error) {
	if size <= 0 || need <= 0 {
		return nil, nil
	}

	var (
		buf []byte // accumulated suffix of the store, buf == bytes[pos:size]
		pos = size
	)

	for pos > 0 && tailRecordCount(buf, pos) < need {
		readStart := pos - scanChunkSize
		if readStart < 0 {
			readStart = 0
		}
		chunk := make([]byte, pos-readStart)
		if _, err := r.ReadAt(chunk, readStart); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
		pos = readStart
	}

	segs := bytes.Split(buf, []byte{recordDelim})
	if len(segs) > 0 && len(segs[len(segs)-1]) == 0 {
		segs = segs[:len(segs)-1]
	}
	if pos > 0 && len(segs) > 0 {
		// The first segment's head lies before the scanned range.
		segs = segs[1:]
	}
	if len(segs) > need {
		segs = segs[len(segs)-need:]
	}
	return segs, nil
}

// tailRecordCount reports how many records are fully contained in buf, where
// buf is the store suffix starting at byte offset pos.
func tailRecordCount(buf []byte, pos int64) int {
	if len(buf) == 0 {
		return 0
	}
	n := bytes.Count(buf, []byte{recordDelim})
	if buf[len(buf)-1] != recordDelim {
		n++ // trailing partial record counts as one
	}
	if pos > 0 {
		n-- // first segment may be missing its head
	}
	return n
}
