package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zamapay/payrail/internal/models"
)

// MTN talks to the MTN Mobile Money API. Collections (requesttopay) and
// disbursements (transfer) are separate products with separate tokens; a
// fresh token is acquired per call, no cross-call reuse is assumed.
type MTN struct {
	baseURL         string
	apiUser         string
	apiKey          string
	subscriptionKey string
	targetEnv       string
	client          *http.Client
}

func NewMTN(baseURL, apiUser, apiKey, subscriptionKey, targetEnv string) *MTN {
	return &MTN{
		baseURL:         baseURL,
		apiUser:         apiUser,
		apiKey:          apiKey,
		subscriptionKey: subscriptionKey,
		targetEnv:       targetEnv,
		client:          &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MTN) Name() models.PaymentMethod {
	return models.MethodMTN
}

// token fetches an access token for the given product (collection or
// disbursement).
func (m *MTN) token(ctx context.Context, product string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/"+product+"/token/", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %v", err)
	}
	req.SetBasicAuth(m.apiUser, m.apiKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", m.subscriptionKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", classifyCallError(models.MethodMTN, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerError(models.MethodMTN, resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %v", err)
	}
	return out.AccessToken, nil
}

type mtnParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type mtnPaymentBody struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        *mtnParty `json:"payer,omitempty"`
	Payee        *mtnParty `json:"payee,omitempty"`
	PayerMessage string    `json:"payerMessage,omitempty"`
	PayeeNote    string    `json:"payeeNote,omitempty"`
}

// InitiateCharge submits a requesttopay. MTN assigns no reference of its
// own: the X-Reference-Id we generate here is the correlation key the
// provider echoes in webhooks and status polls.
func (m *MTN) InitiateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	referenceID := uuid.NewString()
	body := mtnPaymentBody{
		Amount:       fmt.Sprintf("%.2f", req.Amount),
		Currency:     req.Currency,
		ExternalID:   req.TransactionID,
		Payer:        &mtnParty{PartyIDType: "MSISDN", PartyID: req.CustomerPhone},
		PayerMessage: "Payment collection",
		PayeeNote:    req.TransactionID,
	}
	if err := m.call(ctx, "collection", "/collection/v1_0/requesttopay", referenceID, body); err != nil {
		return "", err
	}
	log.Printf("MTN requesttopay accepted: transactionId=%s referenceId=%s", req.TransactionID, referenceID)
	return referenceID, nil
}

// InitiateRefund runs the two-leg mobile-money refund: first a disbursement
// transfer to the customer, then a requesttopay pulling the amount back from
// the merchant. The merchant leg is never attempted when the customer leg
// fails; a merchant-leg failure does not undo the customer leg.
func (m *MTN) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundOutcome, error) {
	outcome := &RefundOutcome{}

	customerRef := uuid.NewString()
	customerBody := mtnPaymentBody{
		Amount:     fmt.Sprintf("%.2f", req.Amount),
		Currency:   req.Currency,
		ExternalID: req.RefundTransactionID,
		Payee:      &mtnParty{PartyIDType: "MSISDN", PartyID: req.CustomerPhone},
		PayeeNote:  "Refund of " + req.OriginalExternalID,
	}
	if err := m.call(ctx, "disbursement", "/disbursement/v1_0/transfer", customerRef, customerBody); err != nil {
		outcome.CustomerLeg = &RefundLeg{ExternalID: customerRef, Status: ProviderFailed, Err: err}
		return outcome, nil
	}
	outcome.CustomerLeg = &RefundLeg{ExternalID: customerRef, Status: ProviderSuccessful}

	merchantRef := uuid.NewString()
	merchantBody := mtnPaymentBody{
		Amount:       fmt.Sprintf("%.2f", req.Amount),
		Currency:     req.Currency,
		ExternalID:   req.RefundTransactionID,
		Payer:        &mtnParty{PartyIDType: "MSISDN", PartyID: req.MerchantMobileNo},
		PayerMessage: "Merchant refund recovery",
	}
	if err := m.call(ctx, "collection", "/collection/v1_0/requesttopay", merchantRef, merchantBody); err != nil {
		outcome.MerchantLeg = &RefundLeg{ExternalID: merchantRef, Status: ProviderFailed, Err: err}
		return outcome, nil
	}
	outcome.MerchantLeg = &RefundLeg{ExternalID: merchantRef, Status: ProviderSuccessful}
	return outcome, nil
}

func (m *MTN) InitiateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	referenceID := uuid.NewString()
	body := mtnPaymentBody{
		Amount:     fmt.Sprintf("%.2f", req.Amount),
		Currency:   req.Currency,
		ExternalID: req.Reference,
		Payee:      &mtnParty{PartyIDType: "MSISDN", PartyID: req.PayeeRef},
		PayeeNote:  "Merchant settlement",
	}
	if err := m.call(ctx, "disbursement", "/disbursement/v1_0/transfer", referenceID, body); err != nil {
		return "", err
	}
	log.Printf("MTN settlement transfer accepted: reference=%s referenceId=%s", req.Reference, referenceID)
	return referenceID, nil
}

func (m *MTN) CheckStatus(ctx context.Context, externalID string) (ProviderStatus, error) {
	token, err := m.token(ctx, "collection")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", m.baseURL+"/collection/v1_0/requesttopay/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Ocp-Apim-Subscription-Key", m.subscriptionKey)
	req.Header.Set("X-Target-Environment", m.targetEnv)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", classifyCallError(models.MethodMTN, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerError(models.MethodMTN, resp)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode requesttopay status: %v", err)
	}

	switch out.Status {
	case "SUCCESSFUL":
		return ProviderSuccessful, nil
	case "FAILED", "REJECTED", "TIMEOUT":
		return ProviderFailed, nil
	default:
		return ProviderPending, nil
	}
}

// call performs an authenticated POST expecting 202 Accepted, the MTN
// contract for asynchronous payment submissions.
func (m *MTN) call(ctx context.Context, product, path, referenceID string, body mtnPaymentBody) error {
	token, err := m.token(ctx, product)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal MTN request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build MTN request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Ocp-Apim-Subscription-Key", m.subscriptionKey)
	req.Header.Set("X-Target-Environment", m.targetEnv)
	req.Header.Set("X-Reference-Id", referenceID)

	resp, err := m.client.Do(req)
	if err != nil {
		return classifyCallError(models.MethodMTN, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return providerError(models.MethodMTN, resp)
	}
	return nil
}
