package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorUsesTemplate(t *testing.T) {
	err := NewError(ErrRoomNotFound)

	assert.Equal(t, ErrRoomNotFound, err.Code)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.NotEmpty(t, err.Message)
}

func TestNewErrorDefaultsStatusToOK(t *testing.T) {
	err := NewError(ErrInvalidParams)
	assert.Equal(t, http.StatusOK, err.Status)
}

func TestNewErrorUnknownCode(t *testing.T) {
	err := NewError(424242)
	assert.Equal(t, ErrUnknown, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestNewErrorFormatsDetails(t *testing.T) {
	err := NewError(ErrUnsupportedFrameType, "bogus")
	assert.Contains(t, err.Message, `"bogus"`)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(ErrTransportUnavailable, cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, ErrTransportUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("join: %w", NewError(ErrAlreadyInRoom))

	assert.True(t, HasCode(err, ErrAlreadyInRoom))
	assert.False(t, HasCode(err, ErrRoomNotFound))
	assert.False(t, HasCode(errors.New("plain"), ErrRoomNotFound))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	custom := NewError(ErrNotInRoom)
	assert.Same(t, custom, From(custom))

	plain := From(errors.New("boom"))
	assert.Equal(t, ErrUnknown, plain.Code)
}
