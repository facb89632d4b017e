package cfgtree

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff, retrying up to maxRetries times after the first
// attempt while task returns a retry.RetryableError. If task ultimately fails, gaveUp is
// invoked (when not nil) and the final error is returned.
//
// Used by the tlog writer's auto-truncation path (§4.6): writing the snapshot to the temp
// file is retried a bounded number of times before falling back to the recovery path of
// continued appends to the existing log. The renames and the reopen that follow are not
// retried.
func Retry(ctx context.Context, maxRetries uint64, task func(ctx context.Context) error, gaveUp func(ctx context.Context)) error {
	b := retry.NewFibonacci(50 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), task); err != nil {
		log.Warn("retry exhausted", "error", err)
		if gaveUp != nil {
			gaveUp(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether err is a transient I/O condition worth retrying, as opposed
// to a permanent failure (disk full, read-only filesystem, permission denied) where retrying
// only delays the inevitable fallback to the recovery path.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EROFS),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.ENAMETOOLONG),
		errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EISDIR),
		errors.Is(err, syscall.ENOTEMPTY),
		errors.Is(err, syscall.EMLINK),
		errors.Is(err, syscall.ELOOP),
		errors.Is(err, syscall.EXDEV),
		errors.Is(err, syscall.EEXIST),
		errors.Is(err, syscall.EINVAL):
		return false
	}
	if strings.Contains(err.Error(), "read-only file system") {
		return false
	}
	return true
}
