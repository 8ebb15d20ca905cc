/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed
	// (empty username, malformed room code, unparsable frame).
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that an inbound frame or body is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrUnsupportedFrameType indicates that a WebSocket frame carried an unknown type.
	ErrUnsupportedFrameType = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Session Errors
const (
	// ErrRoomCodeExists indicates that no unused room code could be registered.
	ErrRoomCodeExists = 2102

	// ErrRoomNotFound indicates that the requested room code is not registered.
	ErrRoomNotFound = 2103

	// ErrAlreadyInRoom indicates that the session is already in, or entering, a room.
	ErrAlreadyInRoom = 2104

	// ErrNotInRoom indicates that the command requires an active room.
	ErrNotInRoom = 2105

	// ErrOperationAborted indicates that a pending create or join was cancelled by leaving.
	ErrOperationAborted = 2106
)

// 4xxx: Collaborator Errors
const (
	// ErrTransportUnavailable indicates that the realtime substrate rejected a subscribe or publish.
	ErrTransportUnavailable = 4001

	// ErrDirectoryUnavailable indicates that the room directory could not be reached.
	ErrDirectoryUnavailable = 4002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
