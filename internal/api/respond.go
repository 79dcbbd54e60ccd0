package api

import (
	"encoding/json"
	"net/http"

	"github.com/flowline/backend/internal/apperr"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps an error to its HTTP status and a JSON body. Error meta
// (currentIp, retryAfterSeconds) rides alongside the message.
func respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	body := map[string]interface{}{"error": apperr.UserMessage(err)}
	for k, v := range apperr.MetaOf(err) {
		body[k] = v
	}
	respondJSON(w, status, body)
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	return nil
}
