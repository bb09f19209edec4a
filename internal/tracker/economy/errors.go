package economy

import (
	"net/http"

	"github.com/focusguild/focusguild/internal/common/apperrors"
)

var (
	ErrEconomy           apperrors.Error = apperrors.New("economy error").SetStatusCode(http.StatusInternalServerError)
	ErrInsufficientFunds apperrors.Error = ErrEconomy.New("insufficient funds").SetStatusCode(http.StatusConflict)
)
