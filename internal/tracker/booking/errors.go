package booking

import (
	"net/http"

	"github.com/focusguild/focusguild/internal/common/apperrors"
)

var (
	ErrBooking apperrors.Error = apperrors.New("booking error").SetStatusCode(http.StatusInternalServerError)

	// ErrInvalidSelection covers empty, stale, misaligned, or
	// already-booked slot selections. User-facing.
	ErrInvalidSelection apperrors.Error = ErrBooking.New("invalid slot selection").SetStatusCode(http.StatusBadRequest)

	// ErrSlotRunning is returned when cancelling a slot whose start time
	// has passed. User-facing.
	ErrSlotRunning apperrors.Error = ErrBooking.New("slot already running").SetStatusCode(http.StatusConflict)
)
