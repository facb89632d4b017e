package tlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/edgecfg/cfgtree"
)

// SnapshotFunc writes a tlog-format snapshot of the effective configuration (one WRITE_LEAF
// record per leaf, at its current modtime) used by auto-truncation (§4.6, "delegated to C4
// via dump" — the store facade's WriteEffectiveConfigAsTlog supplies this).
type SnapshotFunc func(w io.Writer) error

// WriterOptions configures a Writer.
type WriterOptions struct {
	Path             string
	FlushImmediately bool
	// FlushInterval is the periodic flush cadence used when FlushImmediately is false.
	FlushInterval time.Duration
	MaxEntries    int
	MaxBytes      int64
	Snapshot      SnapshotFunc
	Logger        *slog.Logger
}

// Writer is the transaction log writer (C6). It implements node.Recorder so the tree can hand
// it every applied mutation directly.
type Writer struct {
	opts WriterOptions

	mu      sync.Mutex
	file    *os.File
	bw      *bufio.Writer
	entries int
	bytes   int64

	cancelFlush context.CancelFunc
	flushRunner *cfgtree.TaskRunner
}

// NewWriter opens (or creates) the tlog file at opts.Path and, if opts.FlushImmediately is
// false, starts a background task that flushes on opts.FlushInterval (§5, "a background flush
// ticker ... under an errgroup.Group that the store's Close awaits" — grounded on the teacher's
// TaskRunner, generalised from a thread-pool-of-workers primitive to a single periodic task).
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	w := &Writer{opts: opts}
	if err := w.openLocked(); err != nil {
		return nil, err
	}
	if !opts.FlushImmediately {
		flushCtx, cancel := context.WithCancel(context.Background())
		w.cancelFlush = cancel
		w.flushRunner = cfgtree.NewTaskRunner(flushCtx, 1)
		w.flushRunner.Go(func() error {
			w.periodicFlush(w.flushRunner.GetContext())
			return nil
		})
	}
	return w, nil
}

func (w *Writer) openLocked() error {
	f, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, fmt.Errorf("open tlog: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return cfgtree.NewError(cfgtree.IoError, nil, fmt.Errorf("stat tlog: %w", err))
	}
	w.file = f
	w.bw = bufio.NewWriter(f)
	w.bytes = info.Size()
	w.entries = 0
	return nil
}

func (w *Writer) periodicFlush(ctx context.Context) {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			if w.bw != nil {
				if err := w.bw.Flush(); err != nil {
					w.opts.Logger.Error("tlog periodic flush failed", "error", err)
				} else {
					_ = w.file.Sync()
				}
			}
			w.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// RecordWrite implements node.Recorder.
func (w *Writer) RecordWrite(ts int64, path []string, v cfgtree.Value) error {
	return w.append(Record{Timestamp: ts, Action: ActionWriteLeaf, Path: path, Value: v, HasValue: true})
}

// RecordRemove implements node.Recorder.
func (w *Writer) RecordRemove(ts int64, path []string) error {
	return w.append(Record{Timestamp: ts, Action: ActionRemoveNode, Path: path})
}

// RecordInteriorTimestamp implements node.Recorder.
func (w *Writer) RecordInteriorTimestamp(ts int64, path []string) error {
	return w.append(Record{Timestamp: ts, Action: ActionInteriorTimestamp, Path: path})
}

func (w *Writer) append(rec Record) error {
	line, err := rec.Encode()
	if err != nil {
		return cfgtree.NewError(cfgtree.IoError, rec.Path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}

	n, werr := w.bw.WriteString(line + "\n")
	if werr != nil {
		w.bw.Flush()
		w.file.Close()
		w.file = nil
		return cfgtree.NewError(cfgtree.IoError, rec.Path, fmt.Errorf("write tlog record: %w", werr))
	}
	w.entries++
	w.bytes += int64(n)

	if w.opts.FlushImmediately {
		if err := w.bw.Flush(); err != nil {
			return cfgtree.NewError(cfgtree.IoError, rec.Path, fmt.Errorf("flush tlog: %w", err))
		}
		if err := w.file.Sync(); err != nil {
			return cfgtree.NewError(cfgtree.IoError, rec.Path, fmt.Errorf("fsync tlog: %w", err))
		}
	}

	if w.shouldTruncateLocked() {
		w.truncateLocked()
	}
	return nil
}

func (w *Writer) shouldTruncateLocked() bool {
	if w.opts.MaxEntries > 0 && w.entries >= w.opts.MaxEntries {
		return true
	}
	if w.opts.MaxBytes > 0 && w.bytes >= w.opts.MaxBytes {
		return true
	}
	return false
}

// truncateLocked performs auto-truncation (§4.6): snapshot the effective configuration to a
// sibling temp file, atomically rename it into place (retaining the previous tlog as
// "*.tlog.old"), then reopen the primary tlog. Any failure aborts the truncation and leaves
// the writer appending to the existing file (the recovery path named in §4.6); truncation
// failures are logged, not returned, since the write that triggered them already succeeded.
func (w *Writer) truncateLocked() {
	if w.opts.Snapshot == nil {
		return
	}
	if err := w.bw.Flush(); err != nil {
		w.opts.Logger.Error("tlog truncation aborted: flush failed", "error", err)
		return
	}

	tmpPath := w.opts.Path + ".tmp"
	err := cfgtree.Retry(context.Background(), 3, func(ctx context.Context) error {
		tmp, err := os.Create(tmpPath)
		if err != nil {
			if cfgtree.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		defer tmp.Close()
		if err := w.opts.Snapshot(tmp); err != nil {
			return err
		}
		return nil
	}, func(ctx context.Context) {
		w.opts.Logger.Error("tlog truncation snapshot retries exhausted", "path", tmpPath)
	})
	if err != nil {
		w.opts.Logger.Error("tlog truncation aborted: snapshot failed", "error", err)
		os.Remove(tmpPath)
		return
	}

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	oldPath := w.opts.Path + ".old"
	if err := os.Rename(w.opts.Path, oldPath); err != nil {
		w.opts.Logger.Error("tlog truncation aborted: retain old failed", "error", err)
		os.Remove(tmpPath)
		if reopenErr := w.openLocked(); reopenErr != nil {
			w.opts.Logger.Error("tlog truncation recovery: reopen failed", "error", reopenErr)
		}
		return
	}
	if err := os.Rename(tmpPath, w.opts.Path); err != nil {
		w.opts.Logger.Error("tlog truncation aborted: rename into place failed", "error", err)
		// Best-effort recovery: restore the prior tlog so appends are not lost.
		os.Rename(oldPath, w.opts.Path)
		if reopenErr := w.openLocked(); reopenErr != nil {
			w.opts.Logger.Error("tlog truncation recovery: reopen failed", "error", reopenErr)
		}
		return
	}

	if err := w.openLocked(); err != nil {
		w.opts.Logger.Error("tlog truncation: reopen new primary failed", "error", err)
	}
}

// Close flushes and closes the tlog file and stops the periodic flush task, if any.
func (w *Writer) Close() error {
	if w.cancelFlush != nil {
		w.cancelFlush()
		_ = w.flushRunner.Wait()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	var err error
	if ferr := w.bw.Flush(); ferr != nil {
		err = cfgtree.NewError(cfgtree.IoError, nil, ferr)
	}
	if serr := w.file.Sync(); serr != nil && err == nil {
		err = cfgtree.NewError(cfgtree.IoError, nil, serr)
	}
	cerr := w.file.Close()
	w.file = nil
	if cerr != nil && err == nil {
		err = cfgtree.NewError(cfgtree.IoError, nil, cerr)
	}
	return err
}

// Path returns the tlog's primary file path, for diagnostics and tests.
func (w *Writer) Path() string { return w.opts.Path }

// ensure WriterOptions.Path's directory exists; returned as a helper for store.Open.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, err)
	}
	return nil
}
