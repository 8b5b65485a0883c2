package engine

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/qstransfer/qs/internal/endpoint"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/fstree"
	"github.com/qstransfer/qs/internal/handshake"
	"github.com/qstransfer/qs/internal/materializer"
	"github.com/qstransfer/qs/internal/offer"
	"github.com/qstransfer/qs/internal/wire"
)

// SessionError is what Run returns on any non-Rejected, non-Cancelled
// termination; it carries the taxonomy kind the Error event also
// reports (spec.md §7).
type SessionError struct {
	Kind    events.ErrorKind
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("engine: %s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error { return e.Err }

// classify translates a low-level error observed at a component
// boundary into the five-kind taxonomy of spec.md §7. No raw
// transport/io/protocol error is meant to cross the engine boundary
// unclassified.
func classify(err error) *SessionError {
	if err == nil {
		return nil
	}

	var busy *endpoint.BusyErr
	var decodeErr *wire.DecodeError
	var versionErr *handshake.VersionError
	var offerBuildErr *offer.BuildError
	var fstreeBuildErr *fstree.BuildError
	var pathEscapeErr *materializer.PathEscapeError
	var writeErr *materializer.WriteError

	switch {
	case errors.As(err, &busy):
		return &SessionError{Kind: events.NetworkError, Message: busy.Error(), Err: err}
	case errors.As(err, &decodeErr):
		return &SessionError{Kind: events.ProtocolError, Message: decodeErr.Error(), Err: err}
	case errors.As(err, &versionErr):
		return &SessionError{Kind: events.ProtocolError, Message: versionErr.Error(), Err: err}
	case errors.As(err, &offerBuildErr):
		return &SessionError{Kind: events.ProtocolError, Message: offerBuildErr.Error(), Err: err}
	case errors.As(err, &fstreeBuildErr):
		return &SessionError{Kind: events.ProtocolError, Message: fstreeBuildErr.Error(), Err: err}
	case errors.As(err, &pathEscapeErr):
		return &SessionError{Kind: events.IoError, Message: pathEscapeErr.Error(), Err: err}
	case errors.As(err, &writeErr):
		return &SessionError{Kind: events.IoError, Message: writeErr.Error(), Err: err}
	default:
		// Nothing recognized the error as a specific component failure;
		// treat it as a transport problem and keep a stack trace, since
		// this is the case most likely to need one for debugging.
		wrapped := errors.Wrap(err, "unclassified session error")
		return &SessionError{Kind: events.NetworkError, Message: wrapped.Error(), Err: wrapped}
	}
}
