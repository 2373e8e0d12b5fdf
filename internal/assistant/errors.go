package assistant

import "fmt"

type ErrorCode string

const (
	CodeChannelNotFound       ErrorCode = "CHANNEL_NOT_FOUND"
	CodeThreadNotFound        ErrorCode = "THREAD_NOT_FOUND"
	CodeThreadChannelMismatch ErrorCode = "THREAD_CHANNEL_MISMATCH"
	CodeDependencyFailure     ErrorCode = "DEPENDENCY_FAILURE"
	CodePersistenceFailure    ErrorCode = "PERSISTENCE_FAILURE"
	CodeOutputValidation      ErrorCode = "OUTPUT_VALIDATION"
)

// Error is the typed error every engine operation returns on failure: a
// machine-readable code, a human-readable message and a context map carrying
// identifiers such as channelId or threadId.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, message string, cause error, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context, cause: cause}
}
