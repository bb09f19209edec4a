package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	ErrBase := New("base error")
	assert.Equal(t, "base error", ErrBase.Error())
	assert.Equal(t, "msg", ErrBase.New("msg").Error())
	assert.ErrorIs(t, ErrBase, ErrBase)

	ErrFirstLevel := ErrBase.New("first level")
	assert.Equal(t, "first level", ErrFirstLevel.Error())
	assert.ErrorIs(t, ErrFirstLevel, ErrBase)

	ErrOther := New("other error")
	ErrOtherMsg := ErrOther.Msg("other error msg")
	ErrWrapped := ErrFirstLevel.Err(ErrOtherMsg)
	assert.Equal(t, "first level", ErrWrapped.Error())
	assert.ErrorIs(t, ErrWrapped, ErrBase)
	assert.ErrorIs(t, ErrWrapped, ErrFirstLevel)
	assert.ErrorIs(t, ErrWrapped, ErrOther)
	assert.ErrorIs(t, ErrWrapped, ErrOtherMsg)

	err := errors.New("plumbing failure")
	ErrWrapped = ErrFirstLevel.Err(err)
	assert.Equal(t, "first level", ErrWrapped.Error())
	assert.ErrorIs(t, ErrWrapped, ErrBase)
	assert.ErrorIs(t, ErrWrapped, err)

	ErrWrapped = ErrFirstLevel.MsgErr("msg", err)
	assert.Equal(t, "msg", ErrWrapped.Error())
	assert.ErrorIs(t, ErrWrapped, ErrBase)
	assert.ErrorIs(t, ErrWrapped, err)

	goErr := fmt.Errorf("wrapped go error")
	ErrWrappedGo := ErrFirstLevel.Err(goErr)
	assert.ErrorIs(t, ErrWrappedGo, goErr)
}

func TestErrorStatusCode(t *testing.T) {
	ErrUserFacing := New("invalid selection").SetStatusCode(http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, ErrUserFacing.StatusCode())

	// Derived errors inherit the status code unless overridden.
	derived := ErrUserFacing.New("no valid times selected")
	assert.Equal(t, http.StatusBadRequest, derived.StatusCode())
	assert.ErrorIs(t, derived, ErrUserFacing)

	overridden := derived.SetStatusCode(http.StatusConflict)
	assert.Equal(t, http.StatusConflict, overridden.StatusCode())
}

func TestErrorAll(t *testing.T) {
	base := New("booking failed")
	inner := errors.New("room gateway timeout")
	wrapped := base.Err(inner)
	assert.Contains(t, wrapped.ErrorAll(), "booking failed")
	assert.Contains(t, wrapped.ErrorAll(), "room gateway timeout")
	assert.Len(t, wrapped.UnwrapAll(), 2)
}
