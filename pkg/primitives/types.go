package primitives

// LSN (Log Sequence Number) uniquely identifies each log record.
// It's monotonically increasing and represents the byte offset in the log file.
type LSN uint64

// TxID identifies a transaction. IDs are assigned monotonically and never
// wrap, so "older than" is plain integer comparison.
type TxID uint64

// SlotID is a 1-based slot (line pointer) number within a page.
// Slot 0 is reserved as the invalid sentinel, matching on-disk chain links
// where a zero target means "no successor".
type SlotID uint16

// PageNumber represents a page number within a table file.
type PageNumber uint64

// TableID identifies a table file.
type TableID uint64

// Timestamp is a wall-clock timestamp in microseconds since the Unix epoch.
// Used only by the old-snapshot protection feature.
type Timestamp int64

// Sentinel values for invalid/unset identifiers
const (
	// InvalidTxID represents an invalid or unset transaction ID.
	// A page prune hint of InvalidTxID means "nothing prunable here".
	InvalidTxID TxID = 0

	// InvalidSlotID represents an invalid or unset slot number.
	InvalidSlotID SlotID = 0

	// InvalidPageNumber represents an invalid or unset page number.
	InvalidPageNumber PageNumber = 0
)

// PageID uniquely identifies a page: the table it belongs to plus its
// position within that table's file. It is a value type so it can key maps.
type PageID struct {
	Table TableID
	Page  PageNumber
}

// TxIsValid reports whether xid is a real transaction ID.
func TxIsValid(xid TxID) bool {
	return xid != InvalidTxID
}

// TxPrecedes reports whether a is older than b.
func TxPrecedes(a, b TxID) bool {
	return a < b
}

// TxStatus is the outcome of a transaction as known to the status oracle.
type TxStatus uint8

const (
	TxInProgress TxStatus = iota
	TxCommitted
	TxAborted
)

func (s TxStatus) String() string {
	switch s {
	case TxInProgress:
		return "in-progress"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	}
	return "unknown"
}
