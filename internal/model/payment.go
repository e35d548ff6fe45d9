package model

// PaymentRecord is one row of the payment index: a transaction's touch of a
// payment script, either producing an output or spending one.
type PaymentRecord struct {
	// Link is the transaction's record link in the transaction store.
	Link uint64
	// Index is the output index when Output is set, the input index otherwise.
	Index uint32
	// Value is the output value for outputs, the prevout checksum for spends.
	Value uint64
	// Output distinguishes produced outputs from spends.
	Output bool
}
