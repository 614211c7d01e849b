package httputil

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UUIDParam returns the named URL parameter if it is a well-formed UUID.
// Malformed ids are reported as not found so lookups fail closed.
func UUIDParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if _, err := uuid.Parse(id); err != nil {
		Error(w, http.StatusNotFound, "not found")
		return "", false
	}
	return id, true
}
