package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pliu/securedm/internal/apperr"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status. Clients only see the generic message;
// the cause goes to the log.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": apperr.PublicMessage(err)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidInput("malformed request body")
	}
	return nil
}
