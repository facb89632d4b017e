package tlog

import (
	"bufio"
	"fmt"
	"os"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/merge"
	"github.com/edgecfg/cfgtree/node"
)

// ReadOptions configures a tlog replay (§4.7).
type ReadOptions struct {
	// Skeleton creates each leaf path but writes Null instead of the recorded value, for
	// structural inspection of a tlog without exposing secrets (§4.7, scenario S5).
	Skeleton bool
	// Force applies records even when older than the current tree's modtime, bypassing the
	// normal last-writer-wins tie-break (used when activating a prepared configuration).
	Force bool
	// Filter, if set, skips records whose leaf path satisfies the predicate.
	Filter func(path []string) bool
}

// Apply streams the tlog file at path and applies each record directly to root via C2/C4 at
// the record's own timestamp (§4.7, "normal" mode absent a UBT). It stops and returns an error
// on the first unparsable record (DecodeError) or I/O error.
func Apply(path string, root *node.Node, opts ReadOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, fmt.Errorf("open tlog: %w", err))
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := Decode(line)
		if err != nil {
			return err
		}
		if opts.Filter != nil && opts.Filter(rec.Path) {
			continue
		}
		if err := applyRecord(root, rec, opts); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, fmt.Errorf("read tlog: %w", err))
	}
	return nil
}

func applyRecord(root *node.Node, rec Record, opts ReadOptions) error {
	switch rec.Action {
	case ActionWriteLeaf:
		leaf, err := root.LookupStrict(rec.Path)
		if err != nil {
			return err
		}
		v := rec.Value
		if opts.Skeleton {
			v = cfgtree.Null()
		}
		_, err = leaf.Write(rec.Timestamp, v, opts.Force)
		return err
	case ActionRemoveNode:
		target, ok := root.Find(rec.Path)
		if !ok {
			if target, ok = root.FindTopics(rec.Path); !ok {
				return nil // already absent; a tlog may record a remove of something never replayed yet
			}
		}
		return target.Remove(rec.Timestamp)
	case ActionInteriorTimestamp:
		interior, err := root.LookupTopicsStrict(rec.Path)
		if err != nil {
			return err
		}
		return interior.SetInteriorTimestamp(rec.Timestamp)
	default:
		return cfgtree.NewError(cfgtree.DecodeError, rec.Path, fmt.Errorf("unknown action %q", rec.Action))
	}
}

// Validate streams the tlog file at path, decoding every record without applying it. It
// returns an error (wrapping cfgtree.DecodeError or cfgtree.IoError) on the first I/O error,
// decoding error, or if the file is empty (§4.7).
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, fmt.Errorf("open tlog: %w", err))
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	seen := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := Decode(line); err != nil {
			return err
		}
		seen = true
	}
	if err := scanner.Err(); err != nil {
		return cfgtree.NewError(cfgtree.IoError, nil, fmt.Errorf("read tlog: %w", err))
	}
	if !seen {
		return cfgtree.NewError(cfgtree.DecodeError, nil, fmt.Errorf("empty tlog: %s", path))
	}
	return nil
}

// ApplyWithUBT replays the tlog at path into an in-memory scratch tree (force=true during
// replay, so every record lands regardless of the scratch tree's own starting state at t=0),
// then merges that scratch tree into root under ubt via merge.ApplyFromNode (§4.7,
// update_from_tlog) — how REPLACE semantics at subtree roots are honoured across a tlog
// snapshot. Each leaf carries its own per-record timestamp from the scratch tree into the
// merge, rather than collapsing the whole replay to one timestamp.
func ApplyWithUBT(path string, root *node.Node, ubt *merge.UBT, opts ReadOptions) error {
	scratchOpts := opts
	scratchOpts.Force = true
	scratchRoot := node.NewRoot(nil)
	if err := Apply(path, scratchRoot, scratchOpts); err != nil {
		return err
	}
	return merge.ApplyFromNode(root, scratchRoot, ubt, opts.Force)
}
