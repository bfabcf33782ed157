// Package journal persists the outbound update stream as compressed
// JSONL segments. The journal is a synchronizer sink: everything the
// coordinator emits lands here, making it the replayable source of
// truth next to the save database.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"riftsync.gg/internal/replication"
)

// Writer appends JSON lines to zstd-compressed segment files. Segments
// roll on the UTC hour and again when a segment reaches maxLines.
type Writer struct {
	baseDir  string
	prefix   string
	maxLines int

	mu      sync.Mutex
	curHour string
	seq     int
	lines   int
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string, maxLines int) *Writer {
	return &Writer{
		baseDir:  baseDir,
		prefix:   prefix,
		maxLines: maxLines,
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	switch {
	case hour != w.curHour:
		w.seq = 0
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	case w.maxLines > 0 && w.lines >= w.maxLines:
		w.seq++
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return w.w.Flush()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathFor(hour, w.seq)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.lines = 0
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *Writer) pathFor(hour string, seq int) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s-%04d.jsonl.zst", w.prefix, hour, seq))
}

// UpdateJournal records every emitted state update. Push is
// fire-and-forget toward the coordinator; write failures are logged and
// dropped.
type UpdateJournal struct {
	w   *Writer
	log *log.Logger
}

func NewUpdateJournal(dir string, maxLines int, logger *log.Logger) *UpdateJournal {
	return &UpdateJournal{
		w:   NewWriter(dir, "updates", maxLines),
		log: logger,
	}
}

func (j *UpdateJournal) Push(u replication.StateUpdate) {
	if err := j.w.Write(u); err != nil && j.log != nil {
		j.log.Printf("journal: write update for player %d: %v", u.PlayerID, err)
	}
}

func (j *UpdateJournal) Close() error { return j.w.Close() }
