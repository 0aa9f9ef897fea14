package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
	"github.com/zamapay/payrail/internal/services"
)

// WebhookHandler ingests provider callbacks. Each provider posts its own
// envelope; the handler normalizes it and hands it to the reconciler.
type WebhookHandler struct {
	reconciler *services.Reconciler
	tokens     map[models.PaymentMethod]string
}

// NewWebhookHandler takes the per-provider callback tokens used to
// authenticate inbound webhooks.
func NewWebhookHandler(reconciler *services.Reconciler, tokens map[models.PaymentMethod]string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, tokens: tokens}
}

// Handle processes POST /webhooks/{provider}.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	method := models.PaymentMethod(mux.Vars(r)["provider"])

	expected, ok := h.tokens[method]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}
	if r.Header.Get("x-callback-token") != expected {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized webhook"})
		return
	}

	cb, err := parseCallback(method, r)
	if err != nil {
		log.Printf("Malformed %s webhook: %v", method, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
		return
	}

	result, err := h.reconciler.Handle(r.Context(), cb)
	if err != nil {
		log.Printf("Webhook processing failed for %s reference %s: %v", method, cb.ExternalID, err)
		writeError(w, err)
		return
	}

	message := "callback applied"
	switch {
	case result.Anomaly:
		message = "callback conflicts with recorded outcome, flagged for review"
	case !result.Applied:
		message = "callback already processed"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       message,
		"transactionId": result.TransactionID,
		"status":        result.Status,
	})
}

// parseCallback decodes the provider-specific envelope into the normalized
// callback. Wire formats follow each provider's webhook contract.
func parseCallback(method models.PaymentMethod, r *http.Request) (services.Callback, error) {
	cb := services.Callback{PaymentMethod: method}

	switch method {
	case models.MethodCard:
		var payload struct {
			Event string `json:"event"`
			Data  struct {
				ID            string `json:"id"`
				Reference     string `json:"reference"`
				Status        string `json:"status"`
				FailureReason string `json:"failure_reason"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return cb, err
		}
		cb.ExternalID = payload.Data.ID
		cb.TransactionID = payload.Data.Reference
		cb.Reason = payload.Data.FailureReason
		switch payload.Data.Status {
		case "SUCCEEDED", "CAPTURED":
			cb.Outcome = providers.ProviderSuccessful
		case "FAILED", "DECLINED", "EXPIRED":
			cb.Outcome = providers.ProviderFailed
		default:
			cb.Outcome = providers.ProviderPending
		}

	case models.MethodMTN:
		var payload struct {
			ReferenceID string `json:"referenceId"`
			ExternalID  string `json:"externalId"`
			Status      string `json:"status"`
			Reason      struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return cb, err
		}
		cb.ExternalID = payload.ReferenceID
		// externalId is MTN's echo of the id we submitted in the payment body.
		cb.TransactionID = payload.ExternalID
		cb.Reason = payload.Reason.Message
		switch payload.Status {
		case "SUCCESSFUL":
			cb.Outcome = providers.ProviderSuccessful
		case "FAILED", "REJECTED", "TIMEOUT":
			cb.Outcome = providers.ProviderFailed
		default:
			cb.Outcome = providers.ProviderPending
		}

	case models.MethodOrange:
		var payload struct {
			PayToken string `json:"payToken"`
			OrderID  string `json:"orderId"`
			Status   string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return cb, err
		}
		cb.ExternalID = payload.PayToken
		cb.TransactionID = payload.OrderID
		switch payload.Status {
		case "SUCCESSFULL", "SUCCESSFUL", "SUCCESS":
			cb.Outcome = providers.ProviderSuccessful
		case "FAILED", "EXPIRED", "CANCELLED":
			cb.Outcome = providers.ProviderFailed
		default:
			cb.Outcome = providers.ProviderPending
		}
	}

	return cb, nil
}
