package core

import "errors"

// Error kinds surfaced by the container, codec and session layers. These are
// sentinel values rather than a structured exception hierarchy: callers use
// errors.Is against them, wrapping with fmt.Errorf("%w", ...) for context.
var (
	// ErrMalformedHeader is returned when @header={...}; is missing, has an
	// unknown tag, or the braces never balance.
	ErrMalformedHeader = errors.New("core: malformed header")

	// ErrMalformedContainer is returned when the @data={...}; body fails to
	// parse or a container value's declared child count cannot be satisfied
	// by the stream (the final parse stack is non-empty).
	ErrMalformedContainer = errors.New("core: malformed container body")

	// ErrInvalidType is returned when a type code outside 0..14 is seen.
	ErrInvalidType = errors.New("core: invalid type code")

	// ErrIoFailed wraps file or socket read/write failures.
	ErrIoFailed = errors.New("core: io failed")

	// ErrFraming covers bad start/end codes, an over-length frame, or a
	// socket closed mid-frame.
	ErrFraming = errors.New("core: framing error")

	// ErrHandshakeRejected is returned when the peer replies confirm=false
	// or the connection key does not match.
	ErrHandshakeRejected = errors.New("core: handshake rejected")

	// ErrNotConfirmed is returned when a send is attempted on a session that
	// has not completed its handshake.
	ErrNotConfirmed = errors.New("core: session not confirmed")

	// ErrWrongSessionType is returned when, e.g., a container is sent on a
	// binary-line session.
	ErrWrongSessionType = errors.New("core: wrong session type")
)
