package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"kakeibo/internal/core"
	"kakeibo/internal/log"
	"kakeibo/internal/services"
	"kakeibo/internal/store"
)

const maxBodyBytes = 64 << 10

// errBadRequest marks bodies that are not the JSON the endpoint expects.
var errBadRequest = errors.New("malformed request")

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func generateRequestID() string {
	return uuid.NewString()
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: body must contain a single JSON object", errBadRequest)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Wrap(nil, log.ComponentHTTP).Error("Failed to encode response", log.FieldError, err)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrWrite):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:     services.Describe(err),
		RequestID: requestIDFrom(r),
	}
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		resp.Field = ve.Field
	case status == http.StatusBadRequest:
		resp.Error = err.Error()
	}

	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldStatusCode, status, log.FieldError, err)
	} else {
		logger.WarnContext(r.Context(), "Request rejected", log.FieldStatusCode, status, log.FieldError, err)
	}
	writeJSON(w, status, resp)
}

// sanitizeInput trims whitespace and strips control characters except tab and newline.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' {
			return -1
		}
		if r == 127 {
			return -1
		}
		return r
	}, s)
}
