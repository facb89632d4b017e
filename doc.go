// Package cfgtree defines the ambient types shared across the hierarchical configuration
// store: the leaf Value tagged union and its canonicalising comparator, the ErrorCode/Error
// taxonomy, structured logging setup, and retry/backoff helpers for the transaction log's
// I/O paths. Concrete subsystems live in subpackages: node (tree model), queue (publish
// queue), merge (map merge engine), tlog (transaction log writer/reader), platform
// (platform-aware map resolution), validator (CEL-based leaf validators), and store (the
// package entry point wiring all of the above).
package cfgtree

// Timeout model
//
// No operation has a timeout. The tlog flush ticker runs under a context that the tlog
// Writer cancels on Close, and auto-truncation's retry loop runs under context.Background();
// neither is bounded by the context passed to store.Open, which is only handed to publish
// queue actions. The publish-queue worker never applies its own timeout to an action:
// SubmitAndWait blocks until the action has run, and Drain simply waits for quiescence.
