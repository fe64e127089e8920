package upnp

import (
	"errors"
	"fmt"
)

// UPnP and ContentDirectory/ConnectionManager error codes.
const (
	ErrCodeInvalidAction     = 401
	ErrCodeInvalidArgs       = 402
	ErrCodeActionFailed      = 501
	ErrCodeNoSuchObject      = 701
	ErrCodeInvalidConnection = 706
	ErrCodeUnsupportedSearch = 708
	ErrCodeNoSuchContainer   = 710
)

// Error is an action failure reported to the control point as a SOAP fault.
type Error struct {
	Code        int
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upnp error %d: %s", e.Code, e.Description)
}

func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// AsError returns the *Error in err's chain, or wraps err as Action Failed.
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return &Error{Code: ErrCodeActionFailed, Description: err.Error()}
}
