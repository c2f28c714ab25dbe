package api

import (
	"encoding/json"
	"net/http"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(code domain.Code) int {
	switch code {
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	writeJSON(w, statusOf(code), errorBody{Error: errorDetail{Code: string(code), Message: err.Error()}})
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return domain.InvalidArgument("missing request body")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.InvalidArgument("invalid request body")
	}
	return nil
}

// money renders cents as a two-place major-unit string.
func money(cents int64) string { return model.FromMinorUnits(cents).StringFixed(2) }
