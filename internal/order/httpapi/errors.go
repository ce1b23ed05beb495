package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
)

type ErrorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message,omitempty"`
	ProductIDs []string `json:"product_ids,omitempty"`
	Available  *int64   `json:"available,omitempty"`
	Requested  *int64   `json:"requested,omitempty"`
}

func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindProductUnavailable:
		return http.StatusUnprocessableEntity
	case domain.KindInsufficientStock, domain.KindConflictOnCommit:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err by kind. Internal causes are never sent to
// the client.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	resp := ErrorResponse{Error: kind.String(), Message: "internal error"}

	var de *domain.Error
	if kind != domain.KindInternal && errors.As(err, &de) {
		resp.Message = de.Error()
		resp.ProductIDs = de.ProductIDs
		if de.Requested > 0 {
			resp.Available, resp.Requested = &de.Available, &de.Requested
		}
	}
	writeJSON(w, statusFor(kind), resp)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
