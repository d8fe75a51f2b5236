// Package errs defines the DES error taxonomy shared by every component.
//
// Errors are sentinel values wrapped with fmt.Errorf("...: %w", Sentinel) at
// the call site; callers branch with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidArgument covers malformed UIDs, out-of-range n_bits, bad
	// timestamps, and impossible windows.
	ErrInvalidArgument = errors.New("des: invalid argument")

	// ErrNotFound is returned when a UID is absent from every candidate
	// shard and from extended retention.
	ErrNotFound = errors.New("des: not found")

	// ErrTombstoned is returned when a sidecar records the UID as deleted.
	ErrTombstoned = errors.New("des: tombstoned")

	// ErrAlreadyDeleted is returned by a second tombstone attempt on the
	// same (uid, created_at).
	ErrAlreadyDeleted = errors.New("des: already deleted")

	// ErrCorruptShard covers framing, unknown-codec, or offset/size
	// violations in a shard container.
	ErrCorruptShard = errors.New("des: corrupt shard")

	// ErrCorruptMetadata covers JSON or structural violations in a sidecar.
	ErrCorruptMetadata = errors.New("des: corrupt metadata")

	// ErrChecksumMismatch is returned when decompressed bytes disagree with
	// the sidecar's stored SHA-256.
	ErrChecksumMismatch = errors.New("des: checksum mismatch")

	// ErrTransient marks a retryable network/DB/blob-store fault.
	ErrTransient = errors.New("des: transient error")

	// ErrTerminal marks an auth failure, an unexpected-missing object, or
	// retry exhaustion.
	ErrTerminal = errors.New("des: terminal error")

	// ErrDuplicateUID is returned by the shard writer when add() is called
	// twice for the same UID.
	ErrDuplicateUID = errors.New("des: duplicate uid")

	// ErrInvalidState is returned when a shard writer is used after
	// finalize, when a shard reader has no BigFile directory for a BigFile
	// entry, or when the watermark row is read before it is initialized.
	ErrInvalidState = errors.New("des: invalid state")
)
