package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zamapay/payrail/internal/models"
)

// Orange talks to the Orange Money Web Payment API. Charges return a
// provider-assigned payToken which is the webhook correlation key; refunds
// are the two-leg cashin/pay flow.
type Orange struct {
	baseURL      string
	clientID     string
	clientSecret string
	merchantPin  string
	client       *http.Client
}

func NewOrange(baseURL, clientID, clientSecret, merchantPin string) *Orange {
	return &Orange{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		merchantPin:  merchantPin,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (o *Orange) Name() models.PaymentMethod {
	return models.MethodOrange
}

func (o *Orange) token(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/oauth/v3/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(o.clientID, o.clientSecret)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", classifyCallError(models.MethodOrange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerError(models.MethodOrange, resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %v", err)
	}
	return out.AccessToken, nil
}

type orangePayResponse struct {
	Status string `json:"status"`
	Data   struct {
		PayToken string `json:"payToken"`
		Status   string `json:"status"`
	} `json:"data"`
}

func (o *Orange) InitiateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	body := map[string]interface{}{
		"subscriberMsisdn": req.CustomerPhone,
		"amount":           fmt.Sprintf("%.0f", req.Amount),
		"orderId":          req.TransactionID,
		"description":      "Payment collection",
		"pin":              o.merchantPin,
	}

	var out orangePayResponse
	if err := o.post(ctx, "/omcoreapis/1.0.2/mp/pay", body, &out); err != nil {
		return "", err
	}
	log.Printf("Orange pay submitted: transactionId=%s payToken=%s status=%s", req.TransactionID, out.Data.PayToken, out.Data.Status)
	return out.Data.PayToken, nil
}

// InitiateRefund runs the two legs: a cashin returning funds to the
// customer, then a pay pulling the amount back from the merchant wallet.
// The merchant leg is skipped when the customer leg fails.
func (o *Orange) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundOutcome, error) {
	outcome := &RefundOutcome{}

	customerBody := map[string]interface{}{
		"subscriberMsisdn": req.CustomerPhone,
		"amount":           fmt.Sprintf("%.0f", req.Amount),
		"orderId":          req.RefundTransactionID,
		"description":      "Refund of " + req.OriginalExternalID,
		"pin":              o.merchantPin,
	}
	var customerOut orangePayResponse
	if err := o.post(ctx, "/omcoreapis/1.0.2/cashin", customerBody, &customerOut); err != nil {
		outcome.CustomerLeg = &RefundLeg{Status: ProviderFailed, Err: err}
		return outcome, nil
	}
	outcome.CustomerLeg = &RefundLeg{ExternalID: customerOut.Data.PayToken, Status: ProviderSuccessful}

	merchantBody := map[string]interface{}{
		"subscriberMsisdn": req.MerchantMobileNo,
		"amount":           fmt.Sprintf("%.0f", req.Amount),
		"orderId":          req.RefundTransactionID + "-m",
		"description":      "Merchant refund recovery",
		"pin":              o.merchantPin,
	}
	var merchantOut orangePayResponse
	if err := o.post(ctx, "/omcoreapis/1.0.2/mp/pay", merchantBody, &merchantOut); err != nil {
		outcome.MerchantLeg = &RefundLeg{Status: ProviderFailed, Err: err}
		return outcome, nil
	}
	outcome.MerchantLeg = &RefundLeg{ExternalID: merchantOut.Data.PayToken, Status: ProviderSuccessful}
	return outcome, nil
}

func (o *Orange) InitiateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	body := map[string]interface{}{
		"subscriberMsisdn": req.PayeeRef,
		"amount":           fmt.Sprintf("%.0f", req.Amount),
		"orderId":          req.Reference,
		"description":      "Merchant settlement",
		"pin":              o.merchantPin,
	}
	var out orangePayResponse
	if err := o.post(ctx, "/omcoreapis/1.0.2/cashin", body, &out); err != nil {
		return "", err
	}
	log.Printf("Orange settlement cashin submitted: reference=%s payToken=%s", req.Reference, out.Data.PayToken)
	return out.Data.PayToken, nil
}

func (o *Orange) CheckStatus(ctx context.Context, externalID string) (ProviderStatus, error) {
	token, err := o.token(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/omcoreapis/1.0.2/mp/paymentstatus/"+externalID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", classifyCallError(models.MethodOrange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providerError(models.MethodOrange, resp)
	}

	var out orangePayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode payment status: %v", err)
	}

	switch out.Data.Status {
	case "SUCCESSFULL", "SUCCESSFUL", "SUCCESS":
		return ProviderSuccessful, nil
	case "FAILED", "EXPIRED", "CANCELLED":
		return ProviderFailed, nil
	default:
		return ProviderPending, nil
	}
}

func (o *Orange) post(ctx context.Context, path string, body map[string]interface{}, out *orangePayResponse) error {
	token, err := o.token(ctx)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal Orange request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build Orange request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.client.Do(req)
	if err != nil {
		return classifyCallError(models.MethodOrange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return providerError(models.MethodOrange, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode Orange response: %v", err)
	}
	return nil
}
