// Package node implements the hierarchical node model (§4.2), the subscription bus (§4.3),
// and the non-creating/creating tree lookup operations (§4.4). It assumes all mutating
// methods run on the publish queue's single worker goroutine (see package queue); Find and
// FindTopics are the one read path callable from any goroutine, and rely on per-node atomic
// snapshots of the children set and per-leaf atomic value pointers rather than locks.
package node

import (
	"log/slog"

	"github.com/edgecfg/cfgtree"
)

// Recorder receives every applied mutation so it can be appended to a transaction log (C6)
// before the corresponding subscriber events fire (§4.6). Node.Write and
// Node.SetInteriorTimestamp apply the change to the tree first and then record it, so an
// error return leaves that change in place; Node.Remove records first, so an error return
// leaves the node attached. In every case an error return stops the operation before any
// subscriber sees it and propagates to the caller (the tlog Writer reports an IoError, §7).
type Recorder interface {
	RecordWrite(ts int64, path []string, v cfgtree.Value) error
	RecordRemove(ts int64, path []string) error
	RecordInteriorTimestamp(ts int64, path []string) error
}

// Context is the handle every Node carries back to its enclosing store (§3 Data Model,
// "context: handle to the enclosing store"). It owns the tlog Recorder and the per-action
// childChanged coalescing buffer described in §4.3.
type Context struct {
	Recorder Recorder
	Logger   *slog.Logger

	pending map[*Node]*Node // ancestor -> most recently changed descendant, reset per action
}

// NewContext constructs a Context. recorder may be nil for scratch trees (e.g. the in-memory
// map a tlog reader merges into before replaying through the merge engine).
func NewContext(recorder Recorder, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{Recorder: recorder, Logger: logger}
}

func (c *Context) noteChildChanged(ancestor, child *Node) {
	if c == nil {
		return
	}
	if c.pending == nil {
		c.pending = make(map[*Node]*Node)
	}
	c.pending[ancestor] = child
}

// FlushChildChanged delivers the coalesced childChanged events accumulated during one publish
// queue action: at most one delivery per ancestor per action, carrying the most recent child
// reference (§4.3, Testable Property 4). The caller (the queue's action wrapper, owned by the
// store facade) invokes this once after each action completes.
func (c *Context) FlushChildChanged() {
	if c == nil || len(c.pending) == 0 {
		return
	}
	pending := c.pending
	c.pending = nil
	for ancestor, child := range pending {
		ancestor.dispatchLocal(Event{Kind: ChildChanged, Node: child})
	}
}
