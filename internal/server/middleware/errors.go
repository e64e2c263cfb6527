package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// writeError answers with the same {"error","kind"} body the handlers use.
// An empty msg falls back to err's own text.
func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if msg == "" {
		msg = err.Error()
	}
	body, _ := json.Marshal(struct {
		Error string      `json:"error"`
		Kind  domain.Kind `json:"kind"`
	}{Error: msg, Kind: domain.KindOf(err)})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
