package core

// Error codes for protocol errors acknowledged to the originating connection.
const (
	ErrCodeNotInRoom         = "not_in_room"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeUnknownConnection = "unknown_connection"
)

// CoreError wraps a machine code and human-readable message.
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
