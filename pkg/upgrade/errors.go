package upgrade

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrPreflight marks an upgrade refused before anything changed
	ErrPreflight = errors.ConstError("preflight check failed")

	// ErrTimeout marks an upgrade that exceeded its overall deadline
	ErrTimeout = errors.ConstError("upgrade timed out")

	// ErrRollback marks a failed upgrade whose rollback also failed
	ErrRollback = errors.ConstError("rollback failed")

	// ErrRecovery marks a failed stop after which the service did not
	// start again
	ErrRecovery = errors.ConstError("restart after failed stop failed")

	// ErrBusy marks an upgrade refused because another process is
	// upgrading the same component
	ErrBusy = errors.ConstError("another upgrade of this component is running")
)

// rollbackError carries both the upgrade failure and the rollback failure
type rollbackError struct {
	cause    error
	rollback error
}

func (e *rollbackError) Error() string {
	return fmt.Sprintf("%v; %v: %v", e.cause, ErrRollback, e.rollback)
}

func (e *rollbackError) Is(target error) bool {
	return target == ErrRollback
}

func (e *rollbackError) Unwrap() []error {
	return []error{e.cause, e.rollback}
}
