package payload

import "errors"

var (
	// ErrUnknownPayload is returned when a queried payload id has no active
	// job.
	ErrUnknownPayload = errors.New("payload does not exist or is not available")

	// ErrResolveAborted is returned when a resolve future was dropped before
	// producing a payload.
	ErrResolveAborted = errors.New("payload resolve aborted")

	// ErrServiceClosed is returned by handle operations after the service
	// loop has terminated.
	ErrServiceClosed = errors.New("payload builder service closed")
)
