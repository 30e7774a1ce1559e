// Package errs defines the error taxonomy shared by every layer of the
// dataflow engine. Callers branch on kind with errors.As, never on
// message text.
package errs

import "fmt"

// Kind classifies an error by how the caller (or the owning domain) must
// react to it.
type Kind int

const (
	// KindTransport marks a failed peer connection; recoverable by
	// re-resolving the channel and retrying up to a bounded budget.
	KindTransport Kind = iota
	// KindDecode marks a malformed inbound frame; the frame is dropped
	// and the peer flagged, but the domain survives.
	KindDecode
	// KindInvariantViolation marks a structural contract breach
	// (resolve/parent_columns inconsistency, replay for an unknown
	// (tag,key), packet before Ready). Fatal to the domain.
	KindInvariantViolation
	// KindReplayTimeout marks a replay that failed to progress within
	// its configured deadline. Fatal to the domain.
	KindReplayTimeout
	// KindWriteRejected marks a base write that violates a declared
	// constraint; surfaced synchronously to the writer.
	KindWriteRejected
	// KindNotReady marks a read that arrived before the node finished
	// priming; the caller may retry.
	KindNotReady
	// KindMissing marks a non-blocking reader.Lookup that hit a partial
	// miss: the caller gets an empty result now and may retry once the
	// asynchronously-triggered replay lands.
	KindMissing
	// KindCancelled marks a blocking reader.Lookup released by a domain
	// Quit rather than a completed replay.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindReplayTimeout:
		return "replay_timeout"
	case KindWriteRejected:
		return "write_rejected"
	case KindNotReady:
		return "not_ready"
	case KindMissing:
		return "missing"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the engine's structured error type. It wraps an underlying
// cause and tags it with a Kind so callers can use errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether an error of this kind must terminate the owning
// domain per the error propagation policy.
func (e *Error) Fatal() bool {
	return e.Kind == KindInvariantViolation || e.Kind == KindReplayTimeout
}

func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func Transport(op string, cause error) *Error { return New(KindTransport, op, cause) }
func Decode(op string, cause error) *Error    { return New(KindDecode, op, cause) }
func Invariant(op string, cause error) *Error {
	return New(KindInvariantViolation, op, cause)
}
func ReplayTimeout(op string, cause error) *Error { return New(KindReplayTimeout, op, cause) }
func WriteRejected(op string, cause error) *Error { return New(KindWriteRejected, op, cause) }
func NotReady(op string, cause error) *Error      { return New(KindNotReady, op, cause) }
func Missing(op string, cause error) *Error       { return New(KindMissing, op, cause) }
func Cancelled(op string, cause error) *Error     { return New(KindCancelled, op, cause) }

// IsFatal reports whether err (or any error it wraps) is fatal to the
// owning domain.
func IsFatal(err error) bool {
	var e *Error
	if ok := As(err, &e); ok {
		return e.Fatal()
	}
	return false
}

// As is a thin re-export so call sites don't need a second import for
// the common case of unwrapping a single *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
