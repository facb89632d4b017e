package store

import (
	"context"
	"path/filepath"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/merge"
	"github.com/edgecfg/cfgtree/node"
	"github.com/edgecfg/cfgtree/platform"
	"github.com/edgecfg/cfgtree/queue"
	"github.com/edgecfg/cfgtree/tlog"
)

// Store is the core's single entry point: the node tree, its publish queue, and the
// transaction log writer that together realise §2's data flow (external actors invoke C4/C5,
// which submit actions onto C1; C1 applies them to C2 and posts events to C3; every applied
// mutation is additionally handed to C6).
type Store struct {
	opts     Options
	queue    *queue.Queue
	ctx      *node.Context
	root     *node.Node
	writer   *tlog.Writer
	platform *platform.Resolver // nil when opts.PlatformKeywords is empty

	tlogPath     string
	snapshotPath string
}

// Open constructs the tlog writer and root node, replays any existing primary tlog (§2, "On
// startup, C7 replays a persisted tlog into the same actions, producing an identical tree."),
// and starts the publish queue worker.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	tlogPath := filepath.Join(opts.RootPath, opts.TlogFileName)
	snapshotPath := filepath.Join(opts.RootPath, opts.SnapshotFileName)
	if err := tlog.EnsureDir(tlogPath); err != nil {
		return nil, err
	}

	s := &Store{opts: opts, tlogPath: tlogPath, snapshotPath: snapshotPath}
	if len(opts.PlatformKeywords) > 0 {
		s.platform = platform.NewResolver(opts.PlatformKeywords, opts.PlatformSelectors)
	}

	s.ctx = node.NewContext(nil, opts.Logger)
	s.root = node.NewRoot(s.ctx)

	if _, err := readIfExists(tlogPath, func() error {
		return tlog.Apply(tlogPath, s.root, tlog.ReadOptions{})
	}); err != nil {
		return nil, err
	}

	writer, err := tlog.NewWriter(tlog.WriterOptions{
		Path:             tlogPath,
		FlushImmediately: opts.FlushImmediately,
		FlushInterval:    opts.FlushInterval,
		MaxEntries:       opts.MaxEntries,
		MaxBytes:         opts.MaxBytes,
		Snapshot:         s.snapshotAsTlog,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.writer = writer
	s.ctx.Recorder = writer

	s.queue = queue.New(ctx, opts.Logger)
	s.queue.SetAfterAction(s.ctx.FlushChildChanged)

	return s, nil
}

// Lookup resolves path, creating interior and leaf nodes for missing segments (§4.2, §4.4).
func (s *Store) Lookup(path []string) (*node.Node, error) {
	var result *node.Node
	var opErr error
	if err := s.queue.SubmitAndWait(func(ctx context.Context) {
		result, opErr = s.root.Lookup(path)
	}); err != nil {
		return nil, err
	}
	return result, opErr
}

// LookupTopics resolves path as an interior node, creating it if missing.
func (s *Store) LookupTopics(path []string) (*node.Node, error) {
	var result *node.Node
	var opErr error
	if err := s.queue.SubmitAndWait(func(ctx context.Context) {
		result, opErr = s.root.LookupTopics(path)
	}); err != nil {
		return nil, err
	}
	return result, opErr
}

// Find resolves path without creating anything; it is safe to call from any goroutine
// concurrently with mutations (§4.4).
func (s *Store) Find(path []string) (*node.Node, bool) { return s.root.Find(path) }

// FindTopics is the interior-node counterpart of Find.
func (s *Store) FindTopics(path []string) (*node.Node, bool) { return s.root.FindTopics(path) }

// Subscribe registers fn on n, serialised through the publish queue so it cannot race a
// concurrent mutation (§4.3).
func (s *Store) Subscribe(n *node.Node, fn node.Subscriber) (cfgtree.UUID, error) {
	var id cfgtree.UUID
	err := s.queue.SubmitAndWait(func(ctx context.Context) {
		id = n.Subscribe(fn)
	})
	return id, err
}

// Unsubscribe removes a subscription registered via Subscribe.
func (s *Store) Unsubscribe(n *node.Node, id cfgtree.UUID) error {
	return s.queue.SubmitAndWait(func(ctx context.Context) {
		n.Unsubscribe(id)
	})
}

// UpdateMap merges m into the tree at timestamp ts under ubt (§4.5). The merge runs as a
// single publish queue action.
func (s *Store) UpdateMap(ts int64, m map[string]any, ubt *merge.UBT) error {
	var opErr error
	if err := s.queue.SubmitAndWait(func(ctx context.Context) {
		opErr = merge.Apply(s.root, ts, m, ubt)
	}); err != nil {
		return err
	}
	return opErr
}

// MergeMap is shorthand for UpdateMap with a root-level MERGE behaviour (§6).
func (s *Store) MergeMap(ts int64, m map[string]any) error {
	return s.UpdateMap(ts, m, merge.Root(merge.MERGE))
}

// Drain blocks until the publish queue is idle, including transitively submitted actions.
func (s *Store) Drain() { s.queue.Drain() }

// Close drains and stops the publish queue, then closes the tlog writer. The root node is left
// as it is.
func (s *Store) Close() error {
	s.queue.Close()
	return s.writer.Close()
}
