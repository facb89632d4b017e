// Package merge implements the map merge engine (C5, §4.5): recursively applying an arbitrary
// nested map into the node tree under the guidance of an Update Behaviour Tree. The recursive
// walk-and-apply shape is grounded on the teacher's job_processor.go worker loop generalised
// from "process one job" to "apply one tree position", kept single-threaded because it always
// runs as the body of a publish queue action.
package merge

import (
	"errors"
	"fmt"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/node"
)

// Behaviour is the per-position merge strategy named in §3.
type Behaviour int

const (
	MERGE Behaviour = iota
	REPLACE
)

// Wildcard is the per-child override key that matches any child name not given its own entry.
const Wildcard = "*"

// UBT is an Update Behaviour Tree position: an effective behaviour plus per-child overrides
// (keyed case-sensitively by child name, or Wildcard) that themselves resolve to child UBT
// positions. A position with no override for a child inherits this position's behaviour.
type UBT struct {
	Behaviour Behaviour
	Children  map[string]*UBT
}

// Root constructs a UBT whose top-level behaviour is b and which has no overrides.
func Root(b Behaviour) *UBT {
	return &UBT{Behaviour: b}
}

// With returns a copy of u with an additional per-child override. It is a convenience builder
// for tests and callers assembling a UBT inline.
func (u *UBT) With(child string, override *UBT) *UBT {
	cp := *u
	cp.Children = make(map[string]*UBT, len(u.Children)+1)
	for k, v := range u.Children {
		cp.Children[k] = v
	}
	cp.Children[child] = override
	return &cp
}

func (u *UBT) childPosition(name string) *UBT {
	if u == nil {
		return nil
	}
	if c, ok := u.Children[name]; ok {
		return c
	}
	if c, ok := u.Children[Wildcard]; ok {
		return c
	}
	return &UBT{Behaviour: u.Behaviour}
}

func (u *UBT) behaviour() Behaviour {
	if u == nil {
		return MERGE
	}
	return u.Behaviour
}

// Apply merges m into n at timestamp ts according to ubt, per the algorithm in §4.5. It is not
// transactional across siblings: a conflict at one key aborts the subtree at and below that
// key, but siblings already applied remain applied (§4.5, intentional).
func Apply(n *node.Node, ts int64, m map[string]any, ubt *UBT) error {
	if n.Kind() != node.Interior {
		return cfgtree.NewError(cfgtree.NodeKindConflict, n.Path(), errors.New("merge target is a leaf"))
	}

	behaviour := ubt.behaviour()
	if behaviour == REPLACE {
		for name, child := range n.Children() {
			if _, present := m[name]; present {
				continue
			}
			childUBT := ubt.childPosition(name)
			if childUBT.behaviour() == MERGE {
				continue
			}
			if err := child.Remove(ts); err != nil {
				return err
			}
		}
	}

	for key, subvalue := range m {
		childPos := ubt.childPosition(key)
		if sub, ok := subvalue.(map[string]any); ok {
			child, err := n.LookupTopics([]string{key})
			if err != nil {
				return err
			}
			if err := Apply(child, ts, sub, childPos); err != nil {
				return fmt.Errorf("merge at %q: %w", key, err)
			}
			continue
		}
		child, err := n.Lookup([]string{key})
		if err != nil {
			return err
		}
		if _, err := child.Write(ts, cfgtree.FromAny(subvalue), false); err != nil {
			return err
		}
	}

	return n.SetInteriorTimestamp(ts)
}

// ApplyFromNode merges src into n according to ubt, the same algorithm as Apply except that
// each leaf is written at its own ModTime() rather than a single caller-supplied timestamp, and
// each interior position's timestamp is taken from the corresponding source interior node
// (§4.7, update_from_tlog: "replay records into an in-memory scratch map" generalised here to a
// scratch tree, so per-record timestamps captured during replay survive into the merge instead
// of collapsing to one timestamp for the whole operation). force, when true, passes through to
// every leaf write so the merge can apply even where src's timestamps are older than n's.
func ApplyFromNode(n *node.Node, src *node.Node, ubt *UBT, force bool) error {
	if n.Kind() != node.Interior || src.Kind() != node.Interior {
		return cfgtree.NewError(cfgtree.NodeKindConflict, n.Path(), errors.New("merge target or source is a leaf"))
	}

	srcChildren := src.Children()
	behaviour := ubt.behaviour()
	if behaviour == REPLACE {
		for name, child := range n.Children() {
			if _, present := srcChildren[name]; present {
				continue
			}
			childUBT := ubt.childPosition(name)
			if childUBT.behaviour() == MERGE {
				continue
			}
			if err := child.Remove(src.ModTime()); err != nil {
				return err
			}
		}
	}

	for key, srcChild := range srcChildren {
		childPos := ubt.childPosition(key)
		if srcChild.Kind() == node.Interior {
			child, err := n.LookupTopics([]string{key})
			if err != nil {
				return err
			}
			if err := ApplyFromNode(child, srcChild, childPos, force); err != nil {
				return fmt.Errorf("merge at %q: %w", key, err)
			}
			continue
		}
		child, err := n.Lookup([]string{key})
		if err != nil {
			return err
		}
		if _, err := child.Write(srcChild.ModTime(), srcChild.Value(), force); err != nil {
			return err
		}
	}

	return n.SetInteriorTimestamp(src.ModTime())
}
