package iotdevice

import "github.com/rtmaster/iothub/internal/deviceerr"

// Kind and Error are defined in internal/deviceerr so that internal
// session and subscribe packages can construct and match the same
// error type without importing this package (which imports them).
type (
	Kind  = deviceerr.Kind
	Error = deviceerr.Error
)

const (
	KindUnknown              = deviceerr.KindUnknown
	KindMissingArgument      = deviceerr.KindMissingArgument
	KindWrongType            = deviceerr.KindWrongType
	KindUnsupportedOperation = deviceerr.KindUnsupportedOperation
	KindDuplicateRegistration = deviceerr.KindDuplicateRegistration
	KindIncompatibleAuth     = deviceerr.KindIncompatibleAuth
	KindTransport            = deviceerr.KindTransport
)

// Sentinel errors for use with errors.Is. Only Kind is compared.
var (
	ErrMissingArgument       = deviceerr.ErrMissingArgument
	ErrWrongType             = deviceerr.ErrWrongType
	ErrUnsupportedOperation  = deviceerr.ErrUnsupportedOperation
	ErrDuplicateRegistration = deviceerr.ErrDuplicateRegistration
	ErrIncompatibleAuth      = deviceerr.ErrIncompatibleAuth
)
