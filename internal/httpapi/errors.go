package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"postdesk.io/internal/collab"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError maps engine error kinds onto HTTP statuses. Anything
// without a kind is an internal failure and goes to Sentry.
func (a *API) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch collab.Kind(err) {
	case collab.ErrValidation:
		writeError(w, r, http.StatusBadRequest, err.Error())
	case collab.ErrUnauthorized:
		writeError(w, r, http.StatusForbidden, err.Error())
	case collab.ErrNotFound:
		writeError(w, r, http.StatusNotFound, err.Error())
	case collab.ErrConflict:
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"retryable": true,
		})
	case collab.ErrState:
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		rid := RequestIDFromContext(r.Context())
		a.logger.Error("request failed",
			zap.String("request_id", rid),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if hub := sentry.CurrentHub(); hub.Client() != nil {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("request_id", rid)
				scope.SetTag("path", r.URL.Path)
				hub.CaptureException(err)
			})
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, errors.New("limit must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return v, nil
}
