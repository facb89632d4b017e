// Package store is the package entry point (C9): it wires the publish queue, node tree,
// subscription bus, merge engine, transaction log, and platform resolver into the single
// Store type that external collaborators actually call (§6 External Interfaces).
package store

import (
	"log/slog"
	"time"

	"github.com/edgecfg/cfgtree"
)

// Options configures a Store. Only RootPath is required; everything else defaults to the
// behaviour described in §4.6 and §6.
type Options struct {
	// RootPath is the directory containing the primary tlog and the effective-configuration
	// snapshot. Its resolution (e.g. from environment or CLI flags) is the caller's
	// responsibility (§6, "CLI / environment. Not part of the core").
	RootPath string

	// TlogFileName names the primary transaction log file within RootPath. Defaults to
	// "config.tlog".
	TlogFileName string
	// SnapshotFileName names the effective-configuration snapshot file within RootPath.
	// Defaults to "config.yaml".
	SnapshotFileName string
	// SnapshotFormat selects the snapshot document encoding. Defaults to YAML (§6).
	SnapshotFormat cfgtree.Marshaler

	// FlushImmediately forces an fsync after every transaction record. Defaults to false,
	// in which case records are flushed on FlushInterval and at Close.
	FlushImmediately bool
	// FlushInterval is the periodic flush cadence when FlushImmediately is false. Defaults
	// to one second.
	FlushInterval time.Duration
	// MaxEntries triggers auto-truncation once this many records have been appended since the
	// primary tlog was last opened or truncated; records already in the file when it is opened
	// are not counted. Zero disables entry-count-triggered truncation.
	MaxEntries int
	// MaxBytes triggers auto-truncation once the primary tlog reaches this size. Zero
	// disables size-triggered truncation.
	MaxBytes int64

	// Logger receives structured diagnostics for the queue, writer, and reader. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// PlatformKeywords is the recognised set of platform tags a loaded document's maps may be
	// multiplexed on (e.g. "darwin", "linux", "unix", "windows", "all"), per §4.8. Empty
	// disables platform resolution: Read merges decoded documents as-is.
	PlatformKeywords []string
	// PlatformSelectors is the caller's ordered, most-specific-first platform preference list
	// used to reduce multiplexed maps (§4.8, e.g. ["darwin", "unix", "all"]). Ignored when
	// PlatformKeywords is empty.
	PlatformSelectors []string
}

func (o Options) withDefaults() Options {
	if o.TlogFileName == "" {
		o.TlogFileName = "config.tlog"
	}
	if o.SnapshotFileName == "" {
		o.SnapshotFileName = "config.yaml"
	}
	if o.SnapshotFormat == nil {
		o.SnapshotFormat = cfgtree.NewYAMLMarshaler()
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
