package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tisp.org/internal/audit"
	"tisp.org/internal/trust"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// statusFor maps a trust error kind to an HTTP status.
func statusFor(kind trust.Kind) int {
	switch kind {
	case trust.KindInsufficientPermission, trust.KindNotPartOfRelationship:
		return http.StatusForbidden
	case trust.KindRelationshipNotFound, trust.KindGroupNotFound, trust.KindNotAMember:
		return http.StatusNotFound
	case trust.KindSameOrganization, trust.KindInvalidTrustLevel, trust.KindEmptyGroupName,
		trust.KindInvalidInput, trust.KindInvalidState:
		return http.StatusBadRequest
	case trust.KindDuplicateActiveRelationship, trust.KindAlreadyApproved,
		trust.KindGroupNameTaken, trust.KindAlreadyMember:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeTrustError renders err with its kind. Unexpected failures are logged and
// reported without internal detail.
func (a *API) writeTrustError(w http.ResponseWriter, r *http.Request, err error) {
	kind := trust.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		a.logger.Error("trust operation failed",
			zap.Error(err),
			zap.String("route", r.URL.Path),
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
		)
		writeError(w, r, code, "internal error")
		return
	}
	payload := map[string]any{
		"error": err.Error(),
		"kind":  string(kind),
	}
	var te *trust.Error
	if errors.As(err, &te) && te.Message != "" {
		payload["error"] = te.Message
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// orEmpty keeps empty lists rendering as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
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

// decodeOptionalJSON accepts an empty body for action endpoints whose fields all
// have defaults.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
