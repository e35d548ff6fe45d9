// Package chain defines the leaf-store contracts the store coordinator
// composes, the result types they return, and the shared error vocabulary.
package chain

import "errors"

var (
	// ErrStoreLockFailure indicates the flush-lock sentinel could not be
	// created or removed. If the sentinel remains on disk, the next open
	// refuses to proceed.
	ErrStoreLockFailure = errors.New("store lock failure")

	// ErrOperationFailed indicates a leaf store could not complete a write.
	// Completed mutations of the same write are not rolled back.
	ErrOperationFailed = errors.New("operation failed")

	// ErrDuplicateTransaction indicates a transaction with the same hash is
	// already stored.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrNotFound indicates a referenced header or transaction is not stored.
	ErrNotFound = errors.New("not found")

	// ErrInvalidForkPoint indicates a reorganization fork point that does not
	// name the indexed header at its height.
	ErrInvalidForkPoint = errors.New("invalid fork point")

	// ErrInvalidHeight indicates a push at a height that is not the next
	// index top.
	ErrInvalidHeight = errors.New("store block invalid height")

	// ErrMissingParent indicates a pushed header or block that does not
	// connect to the indexed chain.
	ErrMissingParent = errors.New("store block missing parent")
)
