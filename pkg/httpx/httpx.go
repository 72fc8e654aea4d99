// Package httpx holds the JSON request and response helpers shared by the
// HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fleet-dispatch/pkg/apperr"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Error writes err as {"error": msg} with the status of its kind. Internal
// errors are not echoed to the client.
func Error(w http.ResponseWriter, err error) {
	JSON(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.Message(err)})
}

// Decode reads a JSON body into v.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequestf("invalid body")
	}
	return nil
}

// DecodeOptional is Decode for endpoints whose body may be omitted. An empty
// body leaves v untouched; a malformed one is still rejected.
func DecodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.BadRequestf("invalid body")
}

// ID checks that v is a canonical UUID, the format of every stored id.
func ID(field, v string) (string, error) {
	if len(v) != 36 {
		return "", apperr.BadRequestf("invalid %s", field)
	}
	if _, err := uuid.Parse(v); err != nil {
		return "", apperr.BadRequestf("invalid %s", field)
	}
	return v, nil
}

// OptionalID is ID for filters where empty means "any".
func OptionalID(field, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return ID(field, v)
}

// PathID returns the validated chi URL parameter name.
func PathID(r *http.Request, name string) (string, error) {
	return ID(name, chi.URLParam(r, name))
}

// ParseTime accepts RFC 3339 timestamps or plain dates. Empty input is nil.
func ParseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.BadRequestf("invalid time %q", v)
}
