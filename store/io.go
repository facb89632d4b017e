package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/merge"
	"github.com/edgecfg/cfgtree/node"
	"github.com/edgecfg/cfgtree/tlog"
)

func readIfExists(path string, fn func() error) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, cfgtree.NewError(cfgtree.IoError, nil, err)
	}
	return true, fn()
}

func treeToMap(n *node.Node) map[string]any {
	out := make(map[string]any)
	for name, child := range n.Children() {
		if child.Kind() == node.Interior {
			out[name] = treeToMap(child)
		} else {
			out[name] = child.Value().Any()
		}
	}
	return out
}

// Dump serialises the effective configuration as a snapshot document in opts.SnapshotFormat
// (YAML by default, §6). It runs as a single publish queue action so the snapshot reflects a
// single instant rather than interleaving with a concurrent merge (§9, auto-truncation open
// question — the same single-instant discipline applies to every snapshot, not only the
// truncation path).
func (s *Store) Dump() ([]byte, error) {
	var data []byte
	var opErr error
	if err := s.queue.SubmitAndWait(func(ctx context.Context) {
		data, opErr = s.opts.SnapshotFormat.Marshal(treeToMap(s.root))
	}); err != nil {
		return nil, err
	}
	return data, opErr
}

// WriteEffectiveConfig writes the Dump snapshot to w and additionally persists it at
// opts.SnapshotFileName (§6, "config.{yaml|tlog} snapshot at a configurable path").
func (s *Store) WriteEffectiveConfig(w io.Writer) error {
	data, err := s.Dump()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, err)
	}
	if err := os.WriteFile(s.snapshotPath, data, 0o644); err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, err)
	}
	return nil
}

// snapshotAsTlog writes a tlog-format snapshot of the effective configuration to w: one
// WRITE_LEAF record per leaf and one INTERIOR_TIMESTAMP record per interior node, each at its
// current modtime. The tlog writer's auto-truncation path uses this as its SnapshotFunc; it is
// also the implementation of WriteEffectiveConfigAsTlog.
func (s *Store) snapshotAsTlog(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := writeNodeAsTlog(bw, s.root); err != nil {
		return err
	}
	return bw.Flush()
}

func writeNodeAsTlog(w *bufio.Writer, n *node.Node) error {
	if n.Kind() == node.Leaf {
		rec := tlog.Record{Timestamp: n.ModTime(), Action: tlog.ActionWriteLeaf, Path: n.Path(), Value: n.Value(), HasValue: true}
		line, err := rec.Encode()
		if err != nil {
			return err
		}
		_, err = w.WriteString(line + "\n")
		return err
	}
	for _, child := range n.Children() {
		if err := writeNodeAsTlog(w, child); err != nil {
			return err
		}
	}
	rec := tlog.Record{Timestamp: n.ModTime(), Action: tlog.ActionInteriorTimestamp, Path: n.Path()}
	line, err := rec.Encode()
	if err != nil {
		return err
	}
	_, err = w.WriteString(line + "\n")
	return err
}

// WriteEffectiveConfigAsTlog writes the current effective configuration to path in tlog
// format (§6), as a single publish queue action.
func (s *Store) WriteEffectiveConfigAsTlog(path string) error {
	return s.queue.SubmitAndWait(func(ctx context.Context) {
		f, err := os.Create(path)
		if err != nil {
			s.opts.Logger.Error("write effective config as tlog: create failed", "error", err)
			return
		}
		defer f.Close()
		if err := s.snapshotAsTlog(f); err != nil {
			s.opts.Logger.Error("write effective config as tlog: encode failed", "error", err)
		}
	})
}

// ValidateTlog streams the tlog file at path and reports whether every record decodes cleanly
// (§4.7, validate). It does not touch the store's own tree and may be called concurrently with
// mutations.
func (s *Store) ValidateTlog(path string) error {
	return tlog.Validate(path)
}

// UpdateMapFromTlog replays the tlog at path into a scratch tree and merges it into the store
// under ubt (§4.7, update_from_tlog), as a single publish queue action. This is how a prepared
// configuration activates with REPLACE semantics at its subtree roots, rather than the plain
// per-record replay that Read(".tlog", ...) performs.
func (s *Store) UpdateMapFromTlog(path string, ubt *merge.UBT, opts tlog.ReadOptions) error {
	var opErr error
	if err := s.queue.SubmitAndWait(func(ctx context.Context) {
		opErr = tlog.ApplyWithUBT(path, s.root, ubt, opts)
	}); err != nil {
		return err
	}
	return opErr
}

// Read loads pathOrURL according to the suffix dispatch in §6: .yaml/.yml and .json are
// decoded as a document and merged at the root with MERGE; .tlog is replayed via the tlog
// reader; any other suffix is a no-op. useSourceTimestamp selects the file's mtime as the
// merge timestamp; otherwise now is used. A .tlog replay uses each record's own timestamp.
func (s *Store) Read(pathOrURL string, useSourceTimestamp bool, now time.Time) error {
	ext := strings.ToLower(filepath.Ext(pathOrURL))
	ts := now.UnixMilli()
	if useSourceTimestamp {
		if info, err := os.Stat(pathOrURL); err == nil {
			ts = info.ModTime().UnixMilli()
		} else {
			return cfgtree.NewError(cfgtree.IoError, nil, err)
		}
	}

	switch ext {
	case ".yaml", ".yml":
		return s.readDocument(pathOrURL, cfgtree.NewYAMLMarshaler(), ts)
	case ".json":
		return s.readDocument(pathOrURL, cfgtree.NewJSONMarshaler(), ts)
	case ".tlog":
		return s.queue.SubmitAndWait(func(ctx context.Context) {
			if err := tlog.Apply(pathOrURL, s.root, tlog.ReadOptions{}); err != nil {
				s.opts.Logger.Error("read tlog failed", "path", pathOrURL, "error", err)
			}
		})
	default:
		return nil // unknown suffix loads as empty, per §6
	}
}

func (s *Store) readDocument(path string, m cfgtree.Marshaler, ts int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, err)
	}
	var doc map[string]any
	if err := m.Unmarshal(data, &doc); err != nil {
		return cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("decode %s: %w", path, err))
	}
	if s.platform != nil {
		resolved, _ := s.platform.Resolve(doc).(map[string]any)
		doc = resolved // a fully platform-multiplexed document with no matching selector merges nothing
	}
	return s.UpdateMap(ts, doc, merge.Root(merge.MERGE))
}
