package engine

import (
	"errors"
	"fmt"
)

// ErrNotYetSynced is returned by the identity translator when a local key has
// no remote counterpart yet.
var ErrNotYetSynced = errors.New("record not yet synced to remote store")

// ErrDependencyNotReady marks a change entry whose referenced records have not
// reconciled yet. It is a deferral, not a failure: the entry stays pending and
// is retried on the next pass.
var ErrDependencyNotReady = errors.New("referenced record not yet reconciled")

// ErrSyncInProgress is returned when a run is requested while another drain,
// backup or restore holds the engine lock.
var ErrSyncInProgress = errors.New("engine run already in progress")

// LocalStoreError wraps a durability failure of the local store. It is fatal
// to the triggering domain operation and always propagates to the caller.
type LocalStoreError struct {
	Op  string
	Err error
}

func (e *LocalStoreError) Error() string {
	return fmt.Sprintf("local store failure during %s: %v", e.Op, e.Err)
}

func (e *LocalStoreError) Unwrap() error { return e.Err }

// IsLocalStoreError reports whether err is a local durability failure.
func IsLocalStoreError(err error) bool {
	var lse *LocalStoreError
	return errors.As(err, &lse)
}
