package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/merge"
	"github.com/edgecfg/cfgtree/node"
	"github.com/edgecfg/cfgtree/tlog"
)

func openTestStore(t *testing.T, mutate func(*Options)) *Store {
	t.Helper()
	opts := Options{RootPath: t.TempDir(), FlushImmediately: true}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLookupWriteAndSubscribe(t *testing.T) {
	s := openTestStore(t, nil)

	leaf, err := s.Lookup([]string{"services", "api", "port"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	var changedCount int
	if _, err := s.Subscribe(leaf, func(ev node.Event) {
		if ev.Kind == node.Changed {
			changedCount++
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := s.UpdateMap(1, map[string]any{
		"services": map[string]any{"api": map[string]any{"port": float64(8080)}},
	}, merge.Root(merge.MERGE)); err != nil {
		t.Fatalf("UpdateMap: %v", err)
	}
	s.Drain()

	if changedCount != 1 {
		t.Fatalf("expected exactly one changed event, got %d", changedCount)
	}
	if leaf.Value().Int != 8080 {
		t.Fatalf("expected port 8080, got %v", leaf.Value())
	}
}

func TestDumpAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, func(o *Options) { o.RootPath = dir })

	if err := s.MergeMap(1, map[string]any{"a": "x", "b": map[string]any{"c": float64(1)}}); err != nil {
		t.Fatalf("MergeMap: %v", err)
	}

	snapshotPath := filepath.Join(dir, "config.yaml")
	if err := s.WriteEffectiveConfig(os.Stdout); err != nil {
		t.Fatalf("WriteEffectiveConfig: %v", err)
	}
	if _, err := os.Stat(snapshotPath); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}

	s2 := openTestStore(t, func(o *Options) { o.RootPath = t.TempDir() })
	if err := s2.Read(snapshotPath, false, time.UnixMilli(100)); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := s2.Find([]string{"a"}); !ok {
		t.Fatalf("expected reloaded tree to contain 'a'")
	}
}

func TestReadUnknownSuffixIsNoOp(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, func(o *Options) { o.RootPath = dir })

	unknown := filepath.Join(dir, "input.unknownext")
	if err := os.WriteFile(unknown, []byte("irrelevant"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Read(unknown, false, time.UnixMilli(1)); err != nil {
		t.Fatalf("Read unknown suffix should be a no-op, got error: %v", err)
	}
}

func TestReadResolvesPlatformMultiplexedDocument(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, func(o *Options) {
		o.RootPath = dir
		o.PlatformKeywords = []string{"darwin", "linux", "all"}
		o.PlatformSelectors = []string{"linux", "all"}
	})

	doc := "db:\n  host:\n    darwin: mac-host\n    linux: linux-host\n    all: generic-host\n  port: 5432\n"
	docPath := filepath.Join(dir, "input.yaml")
	if err := os.WriteFile(docPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := s.Read(docPath, false, time.UnixMilli(1)); err != nil {
		t.Fatalf("Read: %v", err)
	}

	host, ok := s.Find([]string{"db", "host"})
	if !ok {
		t.Fatalf("expected db.host to resolve to a leaf")
	}
	if host.Value().Str != "linux-host" {
		t.Fatalf("expected platform resolution to select the 'linux' selector, got %v", host.Value())
	}
	if _, ok := s.Find([]string{"db", "port"}); !ok {
		t.Fatalf("expected non-multiplexed sibling keys to pass through untouched")
	}
}

func TestReopenReplaysExistingTlog(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, func(o *Options) { o.RootPath = dir })
	if _, err := s.Lookup([]string{"x"}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	leaf, _ := s.Find([]string{"x"})
	if err := s.queue.SubmitAndWait(func(ctx context.Context) {
		if _, err := leaf.Write(1, cfgtree.String("persisted"), false); err != nil {
			t.Errorf("Write: %v", err)
		}
	}); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	s.Close()

	s2, err := Open(context.Background(), Options{RootPath: dir, FlushImmediately: true})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer s2.Close()
	got, ok := s2.Find([]string{"x"})
	if !ok {
		t.Fatalf("expected replayed leaf to exist")
	}
	if got.Value().Str != "persisted" {
		t.Fatalf("expected replayed value, got %v", got.Value())
	}
}

func TestValidateTlogAndUpdateMapFromTlog(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, func(o *Options) { o.RootPath = dir })

	if err := s.MergeMap(1, map[string]any{
		"first": map[string]any{"second": map[string]any{"keep": "k", "drop": "d"}},
	}); err != nil {
		t.Fatalf("MergeMap: %v", err)
	}

	if err := s.ValidateTlog(filepath.Join(dir, "config.tlog")); err != nil {
		t.Fatalf("ValidateTlog: %v", err)
	}

	updateTlogPath := filepath.Join(dir, "update.tlog")
	w, err := tlog.NewWriter(tlog.WriterOptions{Path: updateTlogPath, FlushImmediately: true})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.RecordWrite(5, []string{"first", "second", "keep"}, cfgtree.String("k2")); err != nil {
		t.Fatalf("RecordWrite: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ubt := merge.Root(merge.MERGE).With("first", merge.Root(merge.MERGE).With("second", merge.Root(merge.REPLACE)))
	if err := s.UpdateMapFromTlog(updateTlogPath, ubt, tlog.ReadOptions{Force: true}); err != nil {
		t.Fatalf("UpdateMapFromTlog: %v", err)
	}
	s.Drain()

	if _, ok := s.Find([]string{"first", "second", "drop"}); ok {
		t.Fatalf("expected REPLACE to remove 'drop'")
	}
	keep, ok := s.Find([]string{"first", "second", "keep"})
	if !ok || keep.Value().Str != "k2" {
		t.Fatalf("expected 'keep' updated to k2, got ok=%v value=%v", ok, keep)
	}
}
