/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error frames and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrUnsupportedFrameType: {Code: ErrUnsupportedFrameType, Message: "Unsupported message type %q."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Session Errors
	ErrRoomCodeExists: {Code: ErrRoomCodeExists, Message: "Could not allocate a room code. Please try again."},
	ErrRoomNotFound:   {Code: ErrRoomNotFound, Message: "Room not found. Check the code and try again.", Status: http.StatusNotFound},
	ErrAlreadyInRoom:  {Code: ErrAlreadyInRoom, Message: "Leave the current room first."},
	ErrNotInRoom:      {Code: ErrNotInRoom, Message: "You are not in a room."},

	ErrOperationAborted: {Code: ErrOperationAborted, Message: "The room request was cancelled.", Status: http.StatusConflict},

	// 4xxx: Collaborator Errors
	ErrTransportUnavailable: {Code: ErrTransportUnavailable, Message: "Realtime connection unavailable. Please try again.", Status: http.StatusServiceUnavailable},
	ErrDirectoryUnavailable: {Code: ErrDirectoryUnavailable, Message: "Room service unavailable. Please try again.", Status: http.StatusServiceUnavailable},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
