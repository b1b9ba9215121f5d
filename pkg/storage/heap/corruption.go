package heap

import (
	"fmt"

	"heapstore/pkg/primitives"
)

// CorruptionError reports an on-page invariant violation discovered during
// pruning. It is raised by panic, never returned: a page whose chain
// structure cannot be trusted must not be half-repaired, and a mutation
// applied without its matching log record is unrecoverable. Callers that own
// worker isolation may recover at a process boundary; this package does not.
type CorruptionError struct {
	Page   primitives.PageID
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("heap corruption on page %v: %s", e.Page, e.Reason)
}

// criticalf aborts the current prune with a CorruptionError panic.
func criticalf(pid primitives.PageID, format string, args ...any) {
	panic(&CorruptionError{Page: pid, Reason: fmt.Sprintf(format, args...)})
}
