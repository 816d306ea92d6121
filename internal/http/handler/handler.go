package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/carzone/carzone-backend/internal/http/response"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into dst, writing the error response itself
// when the body is unusable. Callers bail out on false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			response.Error(w, http.StatusBadRequest, "request body is required")
			return false
		}
		response.Error(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
