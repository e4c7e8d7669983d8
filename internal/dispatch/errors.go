package dispatch

import "fmt"

// ValidationError means the command itself was malformed (bad symbol,
// non-positive amount, unknown command) — rejected before touching state.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %s", e.Msg) }

// PreconditionError means the command was well-formed but the engine's
// state doesn't allow it right now (insufficient funds, no staged intent,
// nothing reserved to cancel).
type PreconditionError struct{ Msg string }

func (e *PreconditionError) Error() string { return fmt.Sprintf("precondition: %s", e.Msg) }

// UpstreamError wraps a failure from a collaborator outside the engine's
// own state — today, only the quote oracle.
type UpstreamError struct{ Msg string }

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream: %s", e.Msg) }

// InternalError means persistence or another invariant-breaking failure
// occurred after state had already started changing. The engine does not
// attempt compensation — it surfaces the error and leaves state as-is for
// operator inspection.
type InternalError struct{ Msg string }

func (e *InternalError) Error() string { return fmt.Sprintf("internal: %s", e.Msg) }
