package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"tutorbff/pkg/backend"
	"tutorbff/pkg/bff"
)

const (
	typeError   string = "error"
	contentJSON string = "application/json"

	// DefaultMaxBodyBytes caps request bodies forwarded to the backend.
	DefaultMaxBodyBytes int64 = 10 << 20
)

func writeError(w http.ResponseWriter, status int, field, msg string) {
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{field: msg}); err != nil {
		return
	}
}

func WriteResp(w http.ResponseWriter, logger *slog.Logger, body map[string]any, status int) bool {
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write JSON response", slog.Any("err", err))
		return false
	}
	return true
}

// relay copies a backend answer verbatim: status, content type and body.
func relay(w http.ResponseWriter, logger *slog.Logger, resp *backend.Response) {
	w.Header().Set("Content-Type", resp.ContentType())
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		logger.Error("failed to relay backend response", slog.Any("err", err))
	}
}

// readJSONBody returns the raw request body after checking its content type.
// The body is forwarded untouched so the backend stays the validator.
func readJSONBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != contentJSON {
		writeError(w, http.StatusBadRequest, typeError, "invalid Content-Type")
		return nil, false
	}
	body, ok := readBody(w, r, limit)
	if !ok {
		return nil, false
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, typeError, "bad json")
		return nil, false
	}
	return body, true
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, typeError, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, typeError, "unreadable body")
		return nil, false
	}
	return body, true
}

// statusFor maps service errors to HTTP statuses. Unauthenticated is handled
// by the caller since it also clears the cookie.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, backend.ErrTimeout):
		return http.StatusGatewayTimeout, "backend timeout"
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, bff.ErrBadLoginResponse):
		return http.StatusBadGateway, "backend unavailable"
	case errors.Is(err, bff.ErrStore):
		return http.StatusServiceUnavailable, "session store unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
