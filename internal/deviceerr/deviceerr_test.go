package deviceerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "MISSING_ARGUMENT", KindMissingArgument.String())
	assert.Equal(t, "WRONG_TYPE", KindWrongType.String())
	assert.Equal(t, "UNSUPPORTED_OPERATION", KindUnsupportedOperation.String())
	assert.Equal(t, "DUPLICATE_REGISTRATION", KindDuplicateRegistration.String())
	assert.Equal(t, "INCOMPATIBLE_AUTH", KindIncompatibleAuth.String())
	assert.Equal(t, "TRANSPORT_ERROR", KindTransport.String())
	assert.Equal(t, "UNKNOWN", KindUnknown.String())
}

func TestErrorMessageWithAndWithoutCause(t *testing.T) {
	plain := MissingArgument("open", "signature required")
	assert.Equal(t, "iotdevice: open: signature required", plain.Error())

	cause := errors.New("dial tcp: timeout")
	withCause := TransportError("open", cause)
	assert.Equal(t, "iotdevice: open: transport operation failed: dial tcp: timeout", withCause.Error())
	assert.True(t, errors.Is(withCause, withCause))
	assert.Same(t, cause, errors.Unwrap(withCause))
}

func TestIsMatchesByKindRegardlessOfOpAndMsg(t *testing.T) {
	a := UnsupportedOperation("send-event")
	b := UnsupportedOperation("complete")

	assert.True(t, errors.Is(a, ErrUnsupportedOperation))
	assert.True(t, errors.Is(b, ErrUnsupportedOperation))
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, ErrIncompatibleAuth))
}

func TestSentinelsDoNotMatchAcrossKinds(t *testing.T) {
	assert.False(t, errors.Is(ErrMissingArgument, ErrWrongType))
	assert.False(t, errors.Is(ErrDuplicateRegistration, ErrUnsupportedOperation))
}

func TestConstructorsSetExpectedKindAndOp(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"missing-argument", MissingArgument("op1", "m"), KindMissingArgument},
		{"wrong-type", WrongType("op1", "m"), KindWrongType},
		{"unsupported-operation", UnsupportedOperation("op1"), KindUnsupportedOperation},
		{"duplicate-registration", DuplicateRegistration("op1", "handler-a"), KindDuplicateRegistration},
		{"incompatible-auth", IncompatibleAuth("op1"), KindIncompatibleAuth},
		{"transport", TransportError("op1", errors.New("x")), KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, "op1", tt.err.Op)
		})
	}
}

func TestDuplicateRegistrationMessageNamesTheHandler(t *testing.T) {
	err := DuplicateRegistration("start-method-receiver", "reboot")
	assert.Contains(t, err.Msg, "reboot")
}
