// Package httpx provides JSON response helpers for the status server.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
)

// SendJson sends a JSON response with the given status code. Accepts either a
// pre-marshaled JSON payload ([]byte or string) or any marshalable value.
func SendJson(ctx context.Context, w http.ResponseWriter, statusCode int, msg any) {
	var body []byte
	switch v := msg.(type) {
	case []byte:
		if json.Valid(v) {
			body = v
		}
	case string:
		if b := []byte(v); json.Valid(b) {
			body = b
		}
	default:
		var err error
		body, err = json.Marshal(msg)
		if err != nil {
			log.Ctx(ctx).Err(err).Msg("unable to marshal json response")
			SendError(w, apperrors.New("unable to process request").SetStatusCode(http.StatusInternalServerError))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

type errorRsp struct {
	Error string `json:"error"`
}

// SendError sends an application error as a JSON error response. Errors
// without a status code are reported as internal errors.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	code := err.StatusCode()
	if code == 0 {
		code = http.StatusInternalServerError
	}
	body, marshalErr := json.Marshal(errorRsp{Error: err.Error()})
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
