// Package model defines the domain types the chainstore engine moves through
// its block lifecycle: headers, blocks, transactions and payment records.
package model

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrorCode is a validation verdict recorded against a header. Zero means the
// header validated cleanly; any other value names the consensus failure.
type ErrorCode uint32

const (
	// ErrorNone marks a successfully validated header.
	ErrorNone ErrorCode = 0
	// ErrorValidationFailed marks a header rejected by consensus checks.
	ErrorValidationFailed ErrorCode = 1
)

// ChainState is the snapshot of chain context carried by a validated header.
type ChainState struct {
	MedianTimePast uint32
}

// HeaderMetadata carries store-side state alongside the wire header.
type HeaderMetadata struct {
	// Exists is set once the header has a record in the block store.
	Exists bool
	// Validated is set once a validation verdict has been recorded.
	Validated bool
	// Error is the recorded verdict, meaningful only when Validated is set.
	Error ErrorCode
	// MedianTimePast is the median of the preceding 11 header timestamps.
	MedianTimePast uint32
	// State is populated by block-level validation; nil until then.
	State *ChainState
}

// Header is an 80-byte wire header plus store metadata.
type Header struct {
	wire.BlockHeader

	Metadata HeaderMetadata
}

// Hash returns the header's block hash.
func (h *Header) Hash() chainhash.Hash {
	return h.BlockHash()
}
