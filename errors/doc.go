// Package errors provides the shared error model for LimbWorker.
//
// # Kinds
//
// Operations in transport, worker, dispatch and processor report failures as
// one of a fixed set of kinds: NotFound, AlreadyExists, Aborted, Unimplemented,
// Uninitialized, InvalidInput, Incomplete, BufferTooSmall and OutOfMemory.
// Each kind has a sentinel (ErrNotFound, ErrAborted, ...) that is wrapped with
// %w, so both errors.Is and KindOf work across wrapping chains:
//
//	if err := registry.Remove(idx); errors.IsKind(err, errors.KindNotFound) {
//	    // nothing to remove
//	}
//
//	return errors.Newf(errors.KindInvalidInput, "unknown model %d", id)
//
// # Classification
//
// Independently of kinds, errors fall into three handling classes:
//
//   - Transient: may succeed on retry (Aborted, connection loss, timeouts)
//   - Invalid: bad request or configuration, retrying will not help
//   - Fatal: unrecoverable, stop the component
//
// IsTransient, IsInvalid, IsFatal and Classify inspect ClassifiedError values
// first, then kinds, then well-known sentinels.
//
// # Wrapping
//
// Wrap follows the "component.method: action failed: %w" format. WrapTransient,
// WrapInvalid and WrapFatal additionally attach a class:
//
//	return errors.WrapTransient(err, "Conn", "Flush", "socket write")
package errors
