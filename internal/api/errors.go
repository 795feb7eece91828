// Package api provides error types for Mega API responses.
package api

import (
	"errors"
	"fmt"

	ihttp "github.com/rescale/megadl/internal/http"
)

// ErrAPI indicates the metadata endpoint returned an error code or a
// response that does not carry a download URL and size.
var ErrAPI = errors.New("mega api error")

// Mega API error codes. The endpoint answers with a bare negative
// integer, or an array holding one, instead of the requested object.
const (
	EINTERNAL           = -1
	EARGS               = -2
	EAGAIN              = -3
	ERATELIMIT          = -4
	EFAILED             = -5
	ETOOMANY            = -6
	ERANGE              = -7
	EEXPIRED            = -8
	ENOENT              = -9
	ECIRCULAR           = -10
	EACCESS             = -11
	EEXIST              = -12
	EINCOMPLETE         = -13
	EKEY                = -14
	ESID                = -15
	EBLOCKED            = -16
	EOVERQUOTA          = -17
	ETEMPUNAVAIL        = -18
	ETOOMANYCONNECTIONS = -19
)

var codeNames = map[int]string{
	EINTERNAL:           "internal error",
	EARGS:               "invalid arguments",
	EAGAIN:              "try again",
	ERATELIMIT:          "rate limited",
	EFAILED:             "upload failed",
	ETOOMANY:            "too many concurrent connections",
	ERANGE:              "out of range",
	EEXPIRED:            "expired",
	ENOENT:              "file not found",
	ECIRCULAR:           "circular linkage",
	EACCESS:             "access denied",
	EEXIST:              "already exists",
	EINCOMPLETE:         "incomplete request",
	EKEY:                "invalid key",
	ESID:                "bad session id",
	EBLOCKED:            "file blocked (takedown or suspension)",
	EOVERQUOTA:          "transfer quota exceeded",
	ETEMPUNAVAIL:        "temporarily unavailable",
	ETOOMANYCONNECTIONS: "too many connections",
}

// MegaError is a negative error code returned by the metadata endpoint.
type MegaError struct {
	Code int
}

func (e *MegaError) Error() string {
	if name, ok := codeNames[e.Code]; ok {
		return fmt.Sprintf("mega api error %d: %s", e.Code, name)
	}
	return fmt.Sprintf("mega api error %d", e.Code)
}

// Is makes every MegaError match ErrAPI.
func (e *MegaError) Is(target error) bool {
	return target == ErrAPI
}

// Temporary reports whether repeating the same request may succeed.
func (e *MegaError) Temporary() bool {
	switch e.Code {
	case EAGAIN, ERATELIMIT, ETEMPUNAVAIL, ETOOMANYCONNECTIONS:
		return true
	}
	return false
}

// RetryClass lets a whole-session restart loop tell transient codes from fatal ones.
func (e *MegaError) RetryClass() ihttp.ErrorType {
	if e.Temporary() {
		return ihttp.ErrorTypeRetryable
	}
	return ihttp.ErrorTypeFatal
}

// CodeName returns the description of a Mega error code, or "" if unknown.
func CodeName(code int) string {
	return codeNames[code]
}

// IsNotFound reports whether err means the file id does not exist.
func IsNotFound(err error) bool {
	var me *MegaError
	return errors.As(err, &me) && me.Code == ENOENT
}
