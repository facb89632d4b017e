package node

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/edgecfg/cfgtree"
)

// Kind distinguishes the two node shapes described in §3 Data Model.
type Kind int

const (
	Leaf Kind = iota
	Interior
)

func (k Kind) String() string {
	if k == Leaf {
		return "leaf"
	}
	return "interior"
}

// Validator is the leaf write guard described in §4.2: given the proposed value and the
// value currently committed, it returns the value to actually commit. Returning something
// other than newVal is a substitution, not an error (§7, ValidationRejected).
type Validator func(newVal, oldVal cfgtree.Value) cfgtree.Value

// Node is a single point in the configuration tree. Interior nodes hold a child set keyed
// case-insensitively but stored case-preserving; leaf nodes hold a Value behind an atomic
// pointer so Find/FindTopics can read it from any goroutine without locking (§4.4). All other
// fields are touched only by the publish queue's single worker goroutine (§4.1, §9).
type Node struct {
	name   string
	parent *Node
	ctx    *Context
	kind   Kind

	modtime int64

	value atomic.Pointer[cfgtree.Value]

	validators []Validator
	subs       []subscription

	children atomic.Pointer[map[string]*Node] // interior only, keyed by strings.ToLower(name)
	names    atomic.Pointer[map[string]string] // lowercase key -> case-preserving original name

	removed bool
}

type subscription struct {
	id cfgtree.UUID
	fn Subscriber
}

// NewRoot constructs the root interior node of a tree. ctx may be nil for a scratch tree with
// no attached recorder (e.g. the map a tlog reader merges records into before replay).
func NewRoot(ctx *Context) *Node {
	return &Node{kind: Interior, ctx: ctx}
}

func (n *Node) Name() string   { return n.name }
func (n *Node) Parent() *Node  { return n.parent }
func (n *Node) Kind() Kind     { return n.kind }
func (n *Node) ModTime() int64 { return n.modtime }

// Path returns the full path from the root to n, excluding the root's own empty name.
func (n *Node) Path() []string {
	var rev []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		rev = append(rev, cur.name)
	}
	path := make([]string, len(rev))
	for i, seg := range rev {
		path[len(rev)-1-i] = seg
	}
	return path
}

// Value returns the leaf's current value without locking. Interior nodes always read as Null.
func (n *Node) Value() cfgtree.Value {
	if p := n.value.Load(); p != nil {
		return *p
	}
	return cfgtree.Null()
}

func conflictErr(path []string, msg string) error {
	return cfgtree.NewError(cfgtree.NodeKindConflict, path, errors.New(msg))
}

// Write applies a timestamped leaf mutation (§4.2). A write is accepted when force is set or
// ts is not older than the node's current modtime (equal timestamps are accepted); otherwise
// it is silently dropped. Every registered validator runs in registration order, each seeing
// the node's pre-write value as oldVal and the prior validator's result as newVal, and may
// substitute the committed value. Write reports whether the committed value changed relative
// to what was there before (§4.2, §4.6): a changed write is recorded to the tlog, if attached,
// before its subscriber events fire.
func (n *Node) Write(ts int64, v cfgtree.Value, force bool) (bool, error) {
	if n.kind != Leaf {
		return false, conflictErr(n.Path(), "write to an interior node")
	}
	if !force && ts < n.modtime {
		return false, nil
	}

	old := n.Value()
	nv := v
	for _, validate := range n.validators {
		nv = validate(nv, old)
	}

	wasAbsent := old.IsNull()
	changed := !cfgtree.Equal(old, nv)

	n.value.Store(&nv)
	n.modtime = ts
	bumpModtimeFrom(n.parent, ts)

	if changed {
		if n.ctx != nil && n.ctx.Recorder != nil {
			if err := n.ctx.Recorder.RecordWrite(ts, n.Path(), nv); err != nil {
				return changed, err
			}
		}
		kind := Changed
		if wasAbsent {
			kind = Initialized
		}
		n.dispatchLocal(Event{Kind: kind, Node: n, Value: nv})
		n.propagateChildChanged()
	}
	return changed, nil
}

// AddValidator registers a validator. It is invoked once immediately, as (current, Null),
// purely so the validator can observe the node's initial state; the return value of that
// initial call is discarded (§4.2).
func (n *Node) AddValidator(fn Validator) {
	n.validators = append(n.validators, fn)
	fn(n.Value(), cfgtree.Null())
}

// SetInteriorTimestamp advances an interior node's modtime directly, without an accompanying
// leaf write. The merge engine uses this when recursion leaves an interior node's children
// unchanged but the merge timestamp is still newer than what the node has recorded (§4.5), to
// preserve the invariant that an interior node's modtime is the max modtime of any mutation
// applied to it or its descendants.
func (n *Node) SetInteriorTimestamp(ts int64) error {
	if n.kind != Interior {
		return conflictErr(n.Path(), "SetInteriorTimestamp on a leaf")
	}
	if ts > n.modtime {
		n.modtime = ts
		if n.ctx != nil && n.ctx.Recorder != nil {
			if err := n.ctx.Recorder.RecordInteriorTimestamp(ts, n.Path()); err != nil {
				return err
			}
		}
		bumpModtimeFrom(n.parent, ts)
	}
	return nil
}

func bumpModtimeFrom(n *Node, ts int64) {
	for cur := n; cur != nil; cur = cur.parent {
		if ts > cur.modtime {
			cur.modtime = ts
		}
	}
}

func (n *Node) propagateChildChanged() {
	child := n
	for anc := n.parent; anc != nil; anc = anc.parent {
		n.ctx.noteChildChanged(anc, child)
		child = anc
	}
}

func (n *Node) childrenMap() map[string]*Node {
	if p := n.children.Load(); p != nil {
		return *p
	}
	return nil
}

func (n *Node) namesMap() map[string]string {
	if p := n.names.Load(); p != nil {
		return *p
	}
	return nil
}

func (n *Node) setChild(key, original string, child *Node) {
	old := n.childrenMap()
	m := make(map[string]*Node, len(old)+1)
	for k, v := range old {
		m[k] = v
	}
	m[key] = child
	n.children.Store(&m)

	oldNames := n.namesMap()
	nm := make(map[string]string, len(oldNames)+1)
	for k, v := range oldNames {
		nm[k] = v
	}
	nm[key] = original
	n.names.Store(&nm)
}

func (n *Node) deleteChild(key string) {
	old := n.childrenMap()
	if old != nil {
		m := make(map[string]*Node, len(old))
		for k, v := range old {
			if k != key {
				m[k] = v
			}
		}
		n.children.Store(&m)
	}
	oldNames := n.namesMap()
	if oldNames != nil {
		nm := make(map[string]string, len(oldNames))
		for k, v := range oldNames {
			if k != key {
				nm[k] = v
			}
		}
		n.names.Store(&nm)
	}
}

// Children returns a point-in-time, case-preserving snapshot of direct children.
func (n *Node) Children() map[string]*Node {
	names := n.namesMap()
	kids := n.childrenMap()
	out := make(map[string]*Node, len(kids))
	for key, child := range kids {
		name := names[key]
		if name == "" {
			name = child.name
		}
		out[name] = child
	}
	return out
}

// Child looks up a direct child by case-insensitive name without creating it.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.childrenMap()[strings.ToLower(name)]
	return c, ok
}

// Lookup resolves path, creating interior nodes for missing intermediate segments and a leaf
// for the final segment if it does not already exist (§4.4). It fails with NodeKindConflict
// if an existing node along the path has the wrong kind. Re-resolving an existing node under a
// differently-cased name is accepted silently, returning the node under its original casing
// (§4.4: "re-lookup of an existing case-variant name returns the existing node").
func (n *Node) Lookup(path []string) (*Node, error) {
	return n.resolveCreating(path, true, false)
}

// LookupTopics is like Lookup but the final segment (and every intermediate one) is an
// interior node.
func (n *Node) LookupTopics(path []string) (*Node, error) {
	return n.resolveCreating(path, false, false)
}

// LookupStrict is like Lookup, except resolving an existing node under a name that differs
// from its stored original casing fails with a CaseCollision error instead of silently
// coalescing. The tlog reader uses this during replay, where §9's case-folding Open Question
// resolves to surfacing a diagnostic rather than guessing whether the two spellings name the
// same thing.
func (n *Node) LookupStrict(path []string) (*Node, error) {
	return n.resolveCreating(path, true, true)
}

// LookupTopicsStrict is the LookupStrict counterpart of LookupTopics.
func (n *Node) LookupTopicsStrict(path []string) (*Node, error) {
	return n.resolveCreating(path, false, true)
}

func (n *Node) resolveCreating(path []string, finalIsLeaf, strict bool) (*Node, error) {
	cur := n
	for i, seg := range path {
		asLeaf := finalIsLeaf && i == len(path)-1
		child, err := cur.ensureChild(seg, asLeaf, strict)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

func (n *Node) ensureChild(name string, asLeaf, strict bool) (*Node, error) {
	if n.kind != Interior {
		return nil, conflictErr(n.Path(), fmt.Sprintf("%q is a leaf, cannot descend into it", n.name))
	}
	key := strings.ToLower(name)
	if existing, ok := n.childrenMap()[key]; ok {
		if strict {
			if original := n.namesMap()[key]; original != "" && original != name {
				return nil, cfgtree.NewError(cfgtree.CaseCollision, append(n.Path(), name),
					fmt.Errorf("name %q collides with existing %q at the same position", name, original))
			}
		}
		if asLeaf && existing.kind != Leaf {
			return nil, conflictErr(append(n.Path(), name), "expected leaf, found interior")
		}
		if !asLeaf && existing.kind != Interior {
			return nil, conflictErr(append(n.Path(), name), "expected interior, found leaf")
		}
		return existing, nil
	}
	kind := Interior
	if asLeaf {
		kind = Leaf
	}
	child := &Node{name: name, parent: n, ctx: n.ctx, kind: kind}
	n.setChild(key, name, child)
	n.dispatchLocal(Event{Kind: ChildAdded, Node: child})
	return child, nil
}

// Find resolves path without creating anything, requiring the final node to be a leaf.
// It is safe to call from any goroutine concurrently with the publish queue's mutations.
func (n *Node) Find(path []string) (*Node, bool) {
	return n.resolveReading(path, true)
}

// FindTopics is like Find but requires the final node to be an interior node.
func (n *Node) FindTopics(path []string) (*Node, bool) {
	return n.resolveReading(path, false)
}

func (n *Node) resolveReading(path []string, finalIsLeaf bool) (*Node, bool) {
	cur := n
	for _, seg := range path {
		if cur.kind != Interior {
			return nil, false
		}
		child, ok := cur.childrenMap()[strings.ToLower(seg)]
		if !ok {
			return nil, false
		}
		cur = child
	}
	if finalIsLeaf && cur.kind != Leaf {
		return nil, false
	}
	if !finalIsLeaf && cur.kind != Interior {
		return nil, false
	}
	return cur, true
}

// Remove detaches n from its parent, recursively marking n and every descendant removed and
// dispatching a terminal Removed event to every subscriber anywhere in the subtree, then
// dispatches a single ChildRemoved event to the former parent (§4.2, invariant 4). Removing
// the root is rejected. The recorder,
// if any, is invoked before any of this mutation or dispatch happens (§4.6, §4.2): an error
// return aborts the removal entirely, leaving n still attached and no event delivered.
func (n *Node) Remove(ts int64) error {
	if n.parent == nil {
		return conflictErr(nil, "cannot remove the root node")
	}
	if n.removed {
		return nil
	}
	parent := n.parent
	key := strings.ToLower(n.name)

	if n.ctx != nil && n.ctx.Recorder != nil {
		path := append(append([]string{}, parent.Path()...), n.name)
		if err := n.ctx.Recorder.RecordRemove(ts, path); err != nil {
			return err
		}
	}

	parent.deleteChild(key)
	n.markRemovedRecursive()
	bumpModtimeFrom(parent, ts)

	parent.dispatchLocal(Event{Kind: ChildRemoved, Node: n})
	return nil
}

func (n *Node) markRemovedRecursive() {
	if n.kind == Interior {
		for _, c := range n.childrenMap() {
			c.markRemovedRecursive()
		}
	}
	n.removed = true
	n.dispatchLocal(Event{Kind: Removed, Node: n})
	n.parent = nil
}

// Removed reports whether n has been detached from the tree.
func (n *Node) Removed() bool { return n.removed }

// ChildrenEqual reports whether a and b have structurally equal subtrees: the same set of
// child names and, recursively, equal children; leaves compare equal via cfgtree.Equal (§3).
func ChildrenEqual(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.kind != b.kind {
		return false
	}
	if a.kind == Leaf {
		return cfgtree.Equal(a.Value(), b.Value())
	}
	ac, bc := a.childrenMap(), b.childrenMap()
	if len(ac) != len(bc) {
		return false
	}
	for key, childA := range ac {
		childB, ok := bc[key]
		if !ok || !ChildrenEqual(childA, childB) {
			return false
		}
	}
	return true
}
