package realtime

import "errors"

// Errors returned by Store implementations.
var (
	// ErrPermissionDenied is returned when access rules reject a write.
	// Callers treat it as "could not proceed", not as a failure.
	ErrPermissionDenied = errors.New("realtime: permission denied")

	// ErrTxnConflict is returned when a transaction kept conflicting with
	// concurrent writers and ran out of retries.
	ErrTxnConflict = errors.New("realtime: transaction conflict")

	// ErrAbortTransaction is returned by a TxnFunc to abort without writing.
	// Transaction returns it unchanged.
	ErrAbortTransaction = errors.New("realtime: transaction aborted")

	// ErrStoreClosed is returned when operations are attempted on a closed connection.
	ErrStoreClosed = errors.New("realtime: store closed")

	// ErrOffline is returned while the connection cannot reach the store. It is
	// transient: the operation can be retried once the connection is back.
	ErrOffline = errors.New("realtime: connection offline")

	// ErrInvalidPath is returned for empty, malformed or overlapping paths.
	ErrInvalidPath = errors.New("realtime: invalid path")
)

// IsPermissionDenied reports whether err is a rules rejection
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
