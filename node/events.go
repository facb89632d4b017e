package node

import (
	"github.com/edgecfg/cfgtree"
)

// EventKind enumerates the subscription event kinds described in §4.3.
type EventKind int

const (
	// Initialized is delivered once, synchronously, when Subscribe registers a callback,
	// carrying the node's current state.
	Initialized EventKind = iota
	// Changed is delivered to a leaf's own subscribers when an accepted write changes its value.
	Changed
	// ChildChanged is delivered to an ancestor at most once per publish queue action, carrying
	// the most recent descendant to have changed during that action.
	ChildChanged
	// ChildAdded is delivered to an interior node when a new direct child is created.
	ChildAdded
	// ChildRemoved is delivered to a node's former parent when it is removed.
	ChildRemoved
	// Removed is delivered to every subscriber anywhere within a removed subtree.
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Initialized:
		return "initialized"
	case Changed:
		return "changed"
	case ChildChanged:
		return "childChanged"
	case ChildAdded:
		return "childAdded"
	case ChildRemoved:
		return "childRemoved"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes a single subscription delivery. Node is the node the event concerns: for
// Changed/Initialized/Removed it is the subscribed node itself; for ChildChanged/ChildAdded/
// ChildRemoved it is the relevant child.
type Event struct {
	Kind  EventKind
	Node  *Node
	Value cfgtree.Value
}

// Subscriber receives tree events. Panics are recovered and logged so one misbehaving
// subscriber cannot take down the publish queue worker.
type Subscriber func(Event)

// Subscribe registers fn on n and immediately delivers an Initialized event carrying n's
// current state (§4.3). The returned UUID is a stable handle for Unsubscribe. Like every
// other mutating operation, this must run on the publish queue's worker goroutine.
func (n *Node) Subscribe(fn Subscriber) cfgtree.UUID {
	id := cfgtree.NewUUID()
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	safeCall(fn, Event{Kind: Initialized, Node: n, Value: n.Value()})
	return id
}

// Unsubscribe removes a previously registered subscription. It is idempotent: unsubscribing
// an id that is not (or no longer) registered is a no-op.
func (n *Node) Unsubscribe(id cfgtree.UUID) {
	out := n.subs[:0]
	for _, s := range n.subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	n.subs = out
}

func (n *Node) dispatchLocal(ev Event) {
	for _, s := range n.subs {
		safeCall(s.fn, ev)
	}
}

func safeCall(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			if ev.Node != nil && ev.Node.ctx != nil && ev.Node.ctx.Logger != nil {
				ev.Node.ctx.Logger.Error("subscriber callback panicked", "recover", r, "event", ev.Kind.String())
			}
		}
	}()
	fn(ev)
}
