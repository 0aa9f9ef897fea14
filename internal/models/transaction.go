package models

import (
	"time"
)

// TransactionType distinguishes the three record kinds the platform tracks.
type TransactionType string

const (
	TypeCharge   TransactionType = "CHARGE"
	TypeRefund   TransactionType = "REFUND"
	TypeTransfer TransactionType = "TRANSFER"
)

// PaymentMethod tags which provider a transaction is routed through.
type PaymentMethod string

const (
	MethodCard   PaymentMethod = "CARD"
	MethodMTN    PaymentMethod = "MTN"
	MethodOrange PaymentMethod = "ORANGE"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusRequestCreated       Status = "REQUEST_CREATED"
	StatusProviderPending      Status = "PROVIDER_PENDING"
	StatusProviderSuccess      Status = "PROVIDER_SUCCESS"
	StatusProviderFailed       Status = "PROVIDER_FAILED"
	StatusSettlementPending    Status = "SETTLEMENT_PENDING"
	StatusSettlementSuccessful Status = "SETTLEMENT_SUCCESSFUL"

	StatusCustomerRefundRequestCreated Status = "CUSTOMER_REFUND_REQUEST_CREATED"
	StatusCustomerRefundSuccessful     Status = "CUSTOMER_REFUND_SUCCESSFUL"
	StatusCustomerRefundFailed         Status = "CUSTOMER_REFUND_FAILED"
	StatusMerchantRefundSuccessful     Status = "MERCHANT_REFUND_SUCCESSFUL"
	StatusMerchantRefundFailed         Status = "MERCHANT_REFUND_FAILED"
)

// statusRank orders the lifecycle so a transition can never move a record
// backwards. Failure branches share the rank of the success they replace, so
// neither can overwrite the other once one is applied.
var statusRank = map[Status]int{
	StatusRequestCreated:       10,
	StatusProviderPending:      20,
	StatusProviderSuccess:      30,
	StatusProviderFailed:       30,
	StatusSettlementPending:    40,
	StatusSettlementSuccessful: 50,

	StatusCustomerRefundRequestCreated: 10,
	StatusCustomerRefundSuccessful:     20,
	StatusCustomerRefundFailed:         20,
	StatusMerchantRefundSuccessful:     30,
	StatusMerchantRefundFailed:         30,
}

var terminalStatuses = map[Status]bool{
	StatusProviderFailed:           true,
	StatusSettlementSuccessful:     true,
	StatusCustomerRefundFailed:     true,
	StatusMerchantRefundSuccessful: true,
	StatusMerchantRefundFailed:     true,
}

// Rank returns the ordering value for a status; unknown statuses rank zero.
func (s Status) Rank() int {
	return statusRank[s]
}

// IsTerminal reports whether no further transition may leave the status.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// Predecessors lists every non-terminal status from which a transition into s
// is allowed. Used by the store to build conditional update filters.
func (s Status) Predecessors() []Status {
	var out []Status
	for candidate, rank := range statusRank {
		if candidate.IsTerminal() {
			continue
		}
		if rank < statusRank[s] {
			out = append(out, candidate)
		}
	}
	return out
}

// SettlementStatus marks whether a charge's proceeds have been disbursed.
type SettlementStatus string

const (
	SettlementUnsettled SettlementStatus = "UNSETTLED"
	SettlementSettled   SettlementStatus = "SETTLED"
)

// RefundLegEntry records one provider response for a single refund leg. The
// arrays these live in are append-only: every attempt is recorded, whether
// the leg succeeded or not.
type RefundLegEntry struct {
	RefundTransactionID   string    `bson:"refund_transaction_id" json:"refundTransactionId"`
	ExternalTransactionID string    `bson:"external_transaction_id,omitempty" json:"externalTransactionId,omitempty"`
	Amount                float64   `bson:"amount" json:"amount"`
	Currency              string    `bson:"currency" json:"currency"`
	Status                string    `bson:"status" json:"status"`
	Error                 string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedOn             time.Time `bson:"created_on" json:"createdOn"`
}

// Transaction is the central record. Created by the orchestrator, mutated by
// the webhook reconciler (state transitions) and the settlement job
// (settlement fields only), never deleted.
type Transaction struct {
	TransactionID         string          `bson:"_id" json:"transactionId"`
	ExternalTransactionID string          `bson:"external_transaction_id,omitempty" json:"externalTransactionId,omitempty"`
	OriginalTransactionID string          `bson:"original_transaction_id,omitempty" json:"originalTransactionId,omitempty"`
	IdempotencyKey        string          `bson:"idempotency_key,omitempty" json:"-"`
	TransactionType       TransactionType `bson:"transaction_type" json:"transactionType"`
	PaymentMethod         PaymentMethod   `bson:"payment_method" json:"paymentMethod"`
	Status                Status          `bson:"status" json:"status"`

	Amount           float64 `bson:"amount" json:"amount"`
	Currency         string  `bson:"currency" json:"currency"`
	Fee              float64 `bson:"fee" json:"fee"`
	SettlementAmount float64 `bson:"settlement_amount" json:"settlementAmount"`
	RefundedAmount   float64 `bson:"refunded_amount" json:"refundedAmount"`

	MerchantID       string `bson:"merchant_id" json:"merchantId"`
	MerchantMobileNo string `bson:"merchant_mobile_no,omitempty" json:"merchantMobileNo,omitempty"`
	MobileNo         string `bson:"mobile_no,omitempty" json:"mobileNo,omitempty"`

	SettlementStatus SettlementStatus `bson:"settlement_status,omitempty" json:"settlementStatus,omitempty"`
	SettlementID     string           `bson:"settlement_id,omitempty" json:"settlementId,omitempty"`
	SettlementDate   *time.Time       `bson:"settlement_date,omitempty" json:"settlementDate,omitempty"`

	CustomerRefundResponse []RefundLegEntry `bson:"customer_refund_response,omitempty" json:"customerRefundResponse,omitempty"`
	MerchantRefundResponse []RefundLegEntry `bson:"merchant_refund_response,omitempty" json:"merchantRefundResponse,omitempty"`

	TransactionError string            `bson:"transaction_error,omitempty" json:"transactionError,omitempty"`
	MetaData         map[string]string `bson:"meta_data,omitempty" json:"metaData,omitempty"`

	CreatedOn time.Time `bson:"created_on" json:"createdOn"`
	UpdatedOn time.Time `bson:"updated_on" json:"updatedOn"`
}

// ChargeRequest is the inbound body for POST /transaction/process/charge.
type ChargeRequest struct {
	MerchantID       string            `json:"merchantId"`
	MerchantMobileNo string            `json:"merchantMobileNo"`
	Amount           float64           `json:"amount"`
	Currency         string            `json:"currency"`
	TransactionType  TransactionType   `json:"transactionType"`
	PaymentMethod    PaymentMethod     `json:"paymentMethod"`
	CustomerPhone    string            `json:"customerPhone"`
	CardData         *CardData         `json:"cardData,omitempty"`
	IdempotencyKey   string            `json:"idempotencyKey,omitempty"`
	MetaData         map[string]string `json:"metaData,omitempty"`
}

// CardData carries the card processor fields. Passed through to the card
// adapter, never persisted.
type CardData struct {
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CVV         string `json:"cvv"`
	HolderName  string `json:"holderName"`
}

// RefundRequest is the inbound body for POST /transaction/process/refund.
type RefundRequest struct {
	TransactionType TransactionType `json:"transactionType"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Amount          float64         `json:"amount"`
	TransactionID   string          `json:"transactionId"`
}

// TransactionDetails is the slim shape returned to the caller after a charge
// or refund submission.
type TransactionDetails struct {
	TransactionID string `json:"transactionId"`
	Status        Status `json:"status"`
}

// TransactionEvent is the CRM-sync message published on every state
// transition. The downstream consumer maps this onto its own schema.
type TransactionEvent struct {
	TransactionID         string            `json:"transactionId"`
	Status                Status            `json:"status"`
	MerchantID            string            `json:"merchantId"`
	MerchantMobileNo      string            `json:"merchantMobileNo,omitempty"`
	TransactionType       TransactionType   `json:"transactionType"`
	MetaData              map[string]string `json:"metaData,omitempty"`
	Fee                   float64           `json:"fee"`
	CustomerPhone         string            `json:"customerPhone,omitempty"`
	CreatedOn             time.Time         `json:"createdOn"`
	Currency              string            `json:"currency"`
	SettlementAmount      float64           `json:"settlementAmount"`
	ExternalTransactionID string            `json:"externalTransactionId,omitempty"`
	OriginalTransactionID string            `json:"originalTransactionId,omitempty"`
	PaymentMethod         PaymentMethod     `json:"paymentMethod"`
	TransactionError      string            `json:"transactionError,omitempty"`
}

// EventFromTransaction builds the CRM-sync payload for a record's current state.
func EventFromTransaction(tx *Transaction) TransactionEvent {
	return TransactionEvent{
		TransactionID:         tx.TransactionID,
		Status:                tx.Status,
		MerchantID:            tx.MerchantID,
		MerchantMobileNo:      tx.MerchantMobileNo,
		TransactionType:       tx.TransactionType,
		MetaData:              tx.MetaData,
		Fee:                   tx.Fee,
		CustomerPhone:         tx.MobileNo,
		CreatedOn:             tx.CreatedOn,
		Currency:              tx.Currency,
		SettlementAmount:      tx.SettlementAmount,
		ExternalTransactionID: tx.ExternalTransactionID,
		OriginalTransactionID: tx.OriginalTransactionID,
		PaymentMethod:         tx.PaymentMethod,
		TransactionError:      tx.TransactionError,
	}
}
