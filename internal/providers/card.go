package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
)

// Card talks to the card processor. Card refunds are a single provider call,
// unlike the mobile-money two-leg flow.
type Card struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewCard(baseURL, secretKey string) *Card {
	return &Card{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Card) Name() models.PaymentMethod {
	return models.MethodCard
}

type cardChargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Card) InitiateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	if req.Card == nil {
		return "", fmt.Errorf("cardData is required for CARD charges: %w", errs.ErrValidation)
	}

	body := map[string]interface{}{
		"reference": req.TransactionID,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"card": map[string]string{
			"number":       req.Card.Number,
			"expiry_month": req.Card.ExpiryMonth,
			"expiry_year":  req.Card.ExpiryYear,
			"cvv":          req.Card.CVV,
			"holder_name":  req.Card.HolderName,
		},
		"metadata": req.Metadata,
	}

	var out cardChargeResponse
	if err := c.post(ctx, "/v1/charges", body, &out, http.StatusCreated); err != nil {
		return "", err
	}
	log.Printf("Card charge submitted: reference=%s card=%s chargeId=%s status=%s",
		req.TransactionID, maskCardNumber(req.Card.Number), out.ID, out.Status)
	return out.ID, nil
}

// maskCardNumber keeps the last four digits for log correlation.
func maskCardNumber(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return "**** " + number[len(number)-4:]
}

func (c *Card) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundOutcome, error) {
	body := map[string]interface{}{
		"charge_id": req.OriginalExternalID,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.RefundTransactionID,
	}

	var out cardChargeResponse
	leg := &RefundLeg{Status: ProviderSuccessful}
	if err := c.post(ctx, "/v1/refunds", body, &out, http.StatusCreated); err != nil {
		leg.Status = ProviderFailed
		leg.Err = err
	} else {
		leg.ExternalID = out.ID
	}
	return &RefundOutcome{CustomerLeg: leg}, nil
}

func (c *Card) InitiateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	body := map[string]interface{}{
		"reference":      req.Reference,
		"amount":         req.Amount,
		"currency":       req.Currency,
		"account_number": req.PayeeRef,
	}
	var out cardChargeResponse
	if err := c.post(ctx, "/v1/payouts", body, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Card) CheckStatus(ctx context.Context, externalID string) (ProviderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/charges/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %v", err)
	}
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyCallError(models.MethodCard, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerError(models.MethodCard, resp)
	}

	var out cardChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode charge status: %v", err)
	}

	switch out.Status {
	case "SUCCEEDED", "CAPTURED":
		return ProviderSuccessful, nil
	case "FAILED", "DECLINED", "EXPIRED":
		return ProviderFailed, nil
	default:
		return ProviderPending, nil
	}
}

func (c *Card) post(ctx context.Context, path string, body interface{}, out interface{}, wantStatus int) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal card request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build card request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyCallError(models.MethodCard, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return providerError(models.MethodCard, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode card response: %v", err)
	}
	return nil
}
