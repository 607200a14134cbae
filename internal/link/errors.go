// Package link implements the peer wire protocol that carries device
// registration, connection and request/response traffic between two mesh
// nodes over a persistent connection.
package link

import "errors"

// Domain errors for the link package.
var (
	// ErrSessionClosed is returned by any Session method called after Close.
	ErrSessionClosed = errors.New("link: session closed")

	// ErrRequestTimeout is returned when a request's context is done before
	// its RESPONSE frame arrives.
	ErrRequestTimeout = errors.New("link: request timed out waiting for response")

	// ErrUnknownConnID is returned when a frame references a connid this
	// session has no record of.
	ErrUnknownConnID = errors.New("link: unknown connid")

	// ErrRemoteError is wrapped around the message carried in a RESPONSE
	// frame whose Error field is set.
	ErrRemoteError = errors.New("link: remote returned an error")

	// ErrUnsupportedFrame names a text frame that does not decode into a
	// valid Frame, or a binary frame. No Session method returns it: the
	// reader logs such frames and skips them.
	ErrUnsupportedFrame = errors.New("link: unsupported frame")
)
