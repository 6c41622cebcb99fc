package core

import "errors"

// Error codes for domain errors. These travel to clients verbatim in
// ack/error frames, so they are stable protocol strings.
const (
	ErrCodeValidationFailed   = "validation_failed"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeRoomNotFound       = "room_not_found"
	ErrCodeMessageNotFound    = "message_not_found"
	ErrCodeStorageUnavailable = "storage_unavailable"
	ErrCodeDuplicateIdentity  = "duplicate_identity"
	ErrCodeBadRequest         = "bad_request"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotInRoom       = errors.New("not in room")
	ErrMessageNotFound = errors.New("message not found")
	ErrBadRequest      = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

func errValidation(msg string) *CoreError {
	return coreError(ErrCodeValidationFailed, msg)
}

func errUnauthorized(msg string) *CoreError {
	return coreError(ErrCodeUnauthorized, msg)
}

func errStorage(err error) *CoreError {
	return coreError(ErrCodeStorageUnavailable, "storage unavailable: "+err.Error())
}
