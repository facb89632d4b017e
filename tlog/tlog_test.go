package tlog

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/merge"
	"github.com/edgecfg/cfgtree/node"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{Timestamp: 12345, Action: ActionWriteLeaf, Path: []string{"a", "b"}, Value: cfgtree.String("hello world"), HasValue: true}
	line, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode([]byte(line))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Timestamp != rec.Timestamp || got.Action != rec.Action || len(got.Path) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !cfgtree.Equal(got.Value, rec.Value) {
		t.Fatalf("value mismatch: %v vs %v", got.Value, rec.Value)
	}
}

func TestDecodeMalformedLineReturnsDecodeError(t *testing.T) {
	_, err := Decode([]byte("not a tlog line at all"))
	if !cfgtree.IsCode(err, cfgtree.DecodeError) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func newWriterForTest(t *testing.T, opts WriterOptions) *Writer {
	t.Helper()
	w, err := NewWriter(opts)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

// TestWriteThenReplayRoundTrip covers Testable Property 1 (tlog round-trip).
func TestWriteThenReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.tlog")

	ctx := node.NewContext(nil, nil)
	src := node.NewRoot(ctx)
	w := newWriterForTest(t, WriterOptions{Path: path, FlushImmediately: true})
	ctx.Recorder = w

	leaf, _ := src.Lookup([]string{"services", "api", "port"})
	if _, err := leaf.Write(1, cfgtree.Int(8080), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	other, _ := src.Lookup([]string{"services", "api", "name"})
	if _, err := other.Write(2, cfgtree.String("edge"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	replayed := node.NewRoot(nil)
	if err := Apply(path, replayed, ReadOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !node.ChildrenEqual(src, replayed) {
		t.Fatalf("replayed tree is not structurally equal to source")
	}
}

// TestReplayRemovalLeavesNodeAbsent covers scenario S2.
func TestReplayRemovalLeavesNodeAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.tlog")

	ctx := node.NewContext(nil, nil)
	src := node.NewRoot(ctx)
	w := newWriterForTest(t, WriterOptions{Path: path, FlushImmediately: true})
	ctx.Recorder = w

	leaf, _ := src.Lookup([]string{"services", "YellowSignal", "lifecycle", "shutdown"})
	if _, err := leaf.Write(1, cfgtree.String("graceful"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := leaf.Remove(1000); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	w.Close()

	replayed := node.NewRoot(nil)
	if err := Apply(path, replayed, ReadOptions{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := replayed.Find([]string{"services", "YellowSignal", "lifecycle", "shutdown"}); ok {
		t.Fatalf("expected removed leaf to be absent after replay")
	}
}

// TestSkeletonReplayOmitsValues covers scenario S5.
func TestSkeletonReplayOmitsValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.tlog")

	ctx := node.NewContext(nil, nil)
	src := node.NewRoot(ctx)
	w := newWriterForTest(t, WriterOptions{Path: path, FlushImmediately: true})
	ctx.Recorder = w

	leaf, _ := src.Lookup([]string{"services", "_AUTH_TOKENS", "FakeToken"})
	if _, err := leaf.Write(1, cfgtree.String("super-secret"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	replayed := node.NewRoot(nil)
	if err := Apply(path, replayed, ReadOptions{Skeleton: true}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, ok := replayed.Find([]string{"services", "_AUTH_TOKENS", "FakeToken"})
	if !ok {
		t.Fatalf("expected node to exist after skeleton replay")
	}
	if !got.Value().IsNull() {
		t.Fatalf("expected skeleton replay to omit the value, got %v", got.Value())
	}
}

// TestAutoTruncationProducesSnapshotAndBackup covers scenario S4.
func TestAutoTruncationProducesSnapshotAndBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.tlog")

	ctx := node.NewContext(nil, nil)
	root := node.NewRoot(ctx)

	var snap SnapshotFunc = func(out io.Writer) error {
		leaf, ok := root.Find([]string{"test1"})
		if !ok {
			return nil
		}
		rec := Record{Timestamp: leaf.ModTime(), Action: ActionWriteLeaf, Path: []string{"test1"}, Value: leaf.Value(), HasValue: true}
		line, err := rec.Encode()
		if err != nil {
			return err
		}
		_, err = out.Write([]byte(line + "\n"))
		return err
	}

	w := newWriterForTest(t, WriterOptions{Path: path, FlushImmediately: true, MaxEntries: 2, Snapshot: snap})
	ctx.Recorder = w

	leaf, _ := root.Lookup([]string{"test1"})
	if _, err := leaf.Write(1, cfgtree.Int(1), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := leaf.Write(2, cfgtree.String("exceed"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(path + ".old"); err != nil {
		t.Fatalf("expected %s.old to exist: %v", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read new primary tlog: %v", err)
	}
	if !bytes.Contains(data, []byte("exceed")) {
		t.Fatalf("expected new tlog to contain the snapshot value, got %q", data)
	}
	lines := bytes.Count(bytes.TrimRight(data, "\n"), []byte("\n")) + 1
	if lines != 1 {
		t.Fatalf("expected new tlog to contain exactly the snapshot record, got %d lines: %q", lines, data)
	}
}

// TestApplyWithUBTScenarioS3 mirrors scenario S3: replaying a tlog into an existing tree under
// a UBT with an inner MERGE override preserves the overridden child while REPLACE sweeps the
// rest of the subtree, and records the tlog carries add/update a sibling untouched by the seed.
func TestApplyWithUBTScenarioS3(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "update.tlog")

	scratchCtx := node.NewContext(nil, nil)
	scratchRoot := node.NewRoot(scratchCtx)
	w := newWriterForTest(t, WriterOptions{Path: path, FlushImmediately: true})
	scratchCtx.Recorder = w

	toUpdate, _ := scratchRoot.Lookup([]string{"first", "second", "toUpdate"})
	if _, err := toUpdate.Write(6, cfgtree.String("v2"), false); err != nil {
		t.Fatalf("Write toUpdate: %v", err)
	}
	toAdd, _ := scratchRoot.Lookup([]string{"first", "second", "toAdd"})
	if _, err := toAdd.Write(10, cfgtree.String("v3"), false); err != nil {
		t.Fatalf("Write toAdd: %v", err)
	}
	w.Close()

	root := node.NewRoot(node.NewContext(nil, nil))
	seedLeaves := map[string]string{"toRemove": "v4", "toUpdate": "v1", "toMerge": "v5"}
	for name, v := range seedLeaves {
		leaf, _ := root.Lookup([]string{"first", "second", name})
		if _, err := leaf.Write(2, cfgtree.String(v), false); err != nil {
			t.Fatalf("seed Write %s: %v", name, err)
		}
	}

	ubt := merge.Root(merge.MERGE).With("first", merge.Root(merge.MERGE).With("second",
		merge.Root(merge.REPLACE).With("toMerge", merge.Root(merge.MERGE))))

	if err := ApplyWithUBT(path, root, ubt, ReadOptions{Force: true}); err != nil {
		t.Fatalf("ApplyWithUBT: %v", err)
	}

	if _, ok := root.Find([]string{"first", "second", "toRemove"}); ok {
		t.Fatalf("expected toRemove to be gone after REPLACE")
	}
	merged := mustFind(t, root, "first", "second", "toMerge")
	if merged.Value().Str != "v5" || merged.ModTime() != 2 {
		t.Fatalf("expected toMerge retained at v5@t=2, got %v@%d", merged.Value(), merged.ModTime())
	}
	updated := mustFind(t, root, "first", "second", "toUpdate")
	if updated.Value().Str != "v2" || updated.ModTime() != 6 {
		t.Fatalf("expected toUpdate at v2@t=6, got %v@%d", updated.Value(), updated.ModTime())
	}
	added := mustFind(t, root, "first", "second", "toAdd")
	if added.Value().Str != "v3" || added.ModTime() != 10 {
		t.Fatalf("expected toAdd present at v3@t=10, got %v@%d", added.Value(), added.ModTime())
	}
}

func mustFind(t *testing.T, root *node.Node, path ...string) *node.Node {
	t.Helper()
	n, ok := root.Find(path)
	if !ok {
		t.Fatalf("expected leaf at %v", path)
	}
	return n
}

func TestValidateRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.tlog")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := Validate(path); !cfgtree.IsCode(err, cfgtree.DecodeError) {
		t.Fatalf("expected DecodeError for empty file, got %v", err)
	}
}
