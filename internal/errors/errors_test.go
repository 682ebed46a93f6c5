package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrCodeInternal, "load profile")

	assert.Equal(t, "load profile: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "x"))
}

func TestCodeHelpers(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ValidationField("username", "bad"))

	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, ErrCodeValidation, GetCode(wrapped))
	assert.Equal(t, "username", GetField(wrapped))
	assert.Equal(t, "bad", GetMessage(wrapped))

	assert.True(t, IsNotFound(NotFoundf("profile %s", "u1")))
	assert.True(t, IsUnauthorized(Unauthorized("no session")))
	assert.True(t, IsAppError(New(ErrCodeOAuthProvider, "x"), ErrCodeOAuthProvider))
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, "plain", GetMessage(errors.New("plain")))
	assert.Equal(t, "", GetMessage(nil))
}
