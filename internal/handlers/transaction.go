package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/services"
	"github.com/zamapay/payrail/internal/store"
)

var jwtSecret []byte

// SetJWTSecret installs the signing secret used to verify bearer tokens.
// Called once from main before the router starts.
func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// authorize verifies the request's bearer token.
func authorize(r *http.Request) error {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return fmt.Errorf("authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// writeError maps the error taxonomy onto HTTP status classes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrProvider):
		status = http.StatusBadGateway
	case errors.Is(err, errs.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

type TransactionHandler struct {
	orchestrator *services.Orchestrator
	reconciler   *services.Reconciler
}

func NewTransactionHandler(orchestrator *services.Orchestrator, reconciler *services.Reconciler) *TransactionHandler {
	return &TransactionHandler{orchestrator: orchestrator, reconciler: reconciler}
}

// ProcessCharge handles POST /transaction/process/charge.
func (h *TransactionHandler) ProcessCharge(w http.ResponseWriter, r *http.Request) {
	if err := authorize(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	var req models.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	details, message, err := h.orchestrator.ProcessCharge(r.Context(), req)
	if err != nil {
		log.Printf("Charge processing failed: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":            message,
		"transactionDetails": details,
	})
}

// ProcessRefund handles POST /transaction/process/refund.
func (h *TransactionHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	if err := authorize(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	var req models.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	details, err := h.orchestrator.ProcessRefund(r.Context(), req)
	if err != nil {
		log.Printf("Refund processing failed for %s: %v", req.TransactionID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":            "refund processed",
		"transactionDetails": details,
	})
}

// GetStatus handles GET /transaction/status/?transactionId=...
func (h *TransactionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if err := authorize(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	transactionID := r.URL.Query().Get("transactionId")
	tx, err := h.orchestrator.GetTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "transaction found",
		"transaction": map[string]interface{}{"Item": tx},
	})
}

// Verify handles GET /transaction/verify/?transactionId=... It polls the
// provider for the current status and applies the transition, for records
// left pending after an unknown-outcome submission.
func (h *TransactionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := authorize(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	transactionID := r.URL.Query().Get("transactionId")
	if transactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "transactionId is required"})
		return
	}

	result, err := h.reconciler.RefreshStatus(r.Context(), transactionID)
	if err != nil {
		log.Printf("Status verification failed for %s: %v", transactionID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "status verified",
		"transactionDetails": models.TransactionDetails{
			TransactionID: result.TransactionID,
			Status:        result.Status,
		},
	})
}

// List handles GET /transaction/list with optional status, merchantId and
// date-range filters.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := authorize(r); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}

	filter := store.ListFilter{
		MerchantID: r.URL.Query().Get("merchantId"),
		Status:     models.Status(r.URL.Query().Get("status")),
	}
	if startDate := r.URL.Query().Get("start_date"); startDate != "" {
		start, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date format"})
			return
		}
		filter.StartDate = &start
	}
	if endDate := r.URL.Query().Get("end_date"); endDate != "" {
		end, err := time.Parse(time.RFC3339, endDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date format"})
			return
		}
		filter.EndDate = &end
	}

	txs, err := h.orchestrator.ListTransactions(r.Context(), filter)
	if err != nil {
		log.Printf("Failed to list transactions: %v", err)
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "transactions found",
		"transactions": txs,
	})
}
