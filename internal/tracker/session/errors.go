package session

import (
	"net/http"

	"github.com/focusguild/focusguild/internal/common/apperrors"
)

var (
	ErrSession apperrors.Error = apperrors.New("session error").SetStatusCode(http.StatusInternalServerError)

	// ErrAlreadyActive is returned when a session start races an existing
	// active session. Under correct event sequencing it should not occur.
	ErrAlreadyActive apperrors.Error = ErrSession.New("session already active").SetStatusCode(http.StatusConflict)
)
