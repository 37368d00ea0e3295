package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", ValidationError("malformed timestamp"), TypeValidation, http.StatusBadRequest},
		{"forbidden", ForbiddenError("signature mismatch"), TypeForbidden, http.StatusForbidden},
		{"not_found", NotFoundError("unknown subscription"), TypeNotFound, http.StatusNotFound},
		{"gone", GoneError("callback path retired"), TypeGone, http.StatusGone},
		{"internal", InternalError("store unavailable", fmt.Errorf("dial tcp: refused")), TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.Contains(t, tt.err.Error(), string(tt.wantType))
			assert.NotNil(t, tt.err.Context)
		})
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := InternalError("store unavailable", cause)

	assert.Contains(t, err.Error(), "store unavailable")
	assert.Contains(t, err.Error(), "dial tcp: refused")

	withoutCause := ValidationError("bad input")
	assert.NotContains(t, withoutCause.Error(), "<nil>")
}

func TestUnknownTypeMapsToInternal(t *testing.T) {
	err := &Error{Type: ErrorType("mystery")}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestWithContext(t *testing.T) {
	err := ForbiddenError("replayed message ID").
		WithContext("message_id", "msg-1").
		WithContext("host", "example.com")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "msg-1", err.Context["message_id"])
	assert.Equal(t, "example.com", err.Context["host"])

	err = err.WithContext("message_id", "msg-2")
	assert.Equal(t, "msg-2", err.Context["message_id"], "later values overwrite")
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "bare"}
	err = err.WithContext("key", "value")

	require.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}

func TestUnwrapSupportsErrorsIsAndAs(t *testing.T) {
	cause := fmt.Errorf("root")
	wrapped := InternalError("wrapper", cause)

	assert.True(t, errors.Is(wrapped, cause))
	assert.Nil(t, errors.Unwrap(ValidationError("no cause")))

	var target *Error
	require.True(t, errors.As(fmt.Errorf("outer: %w", wrapped), &target))
	assert.Equal(t, TypeInternal, target.Type)
}

func TestToResponse(t *testing.T) {
	err := ValidationError("message outside the replay window").
		WithContext("message_id", "msg-1")

	resp := err.ToResponse()
	assert.Equal(t, "message outside the replay window", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "msg-1", resp.Context["message_id"])
}

func TestAsStructuredError(t *testing.T) {
	original := NotFoundError("unknown subscription")
	assert.Equal(t, original, AsStructuredError(original))

	wrapped := fmt.Errorf("handler: %w", original)
	assert.Equal(t, TypeNotFound, AsStructuredError(wrapped).Type)

	foreign := AsStructuredError(fmt.Errorf("plain failure"))
	assert.Equal(t, TypeInternal, foreign.Type)
	assert.Equal(t, "internal server error", foreign.Message)

	assert.Nil(t, AsStructuredError(nil))
}
