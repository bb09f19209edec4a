package presence

import (
	"net/http"

	"github.com/focusguild/focusguild/internal/common/apperrors"
)

var (
	ErrPresence   apperrors.Error = apperrors.New("presence error").SetStatusCode(http.StatusInternalServerError)
	ErrBadPayload apperrors.Error = ErrPresence.New("invalid presence payload").SetStatusCode(http.StatusBadRequest)
)
