package models

import "time"

// BillingMode distinguishes delta-style incremental charges from
// target-style "charge up to this total" charges.
type BillingMode string

const (
	BillingModeDelta  BillingMode = "delta"
	BillingModeTarget BillingMode = "target"
)

// ChargeItem is one line item within a charge's details, used to explain
// a composite charge (e.g. per-page + bandwidth) in the ledger.
type ChargeItem struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// ChargeDetails is the optional itemization attached to a ledger row.
type ChargeDetails struct {
	Total float64      `json:"total"`
	Items []ChargeItem `json:"items,omitempty"`
}

// BillingLedger is an append-only audit row for a single charge attempt.
// Rows with Charged == 0 record a deduplicated or no-op attempt; exactly
// one non-zero-charge row may exist per IdempotencyKey.
type BillingLedger struct {
	UUID           string      `json:"uuid" badgerholdKey:"UUID"`
	JobID          string      `json:"job_id" badgerholdIndex:"JobID"`
	ApiKeyID       string      `json:"api_key" badgerholdIndex:"ApiKeyID"`
	Mode           BillingMode `json:"mode"`
	Reason         string      `json:"reason"`
	IdempotencyKey string      `json:"idempotency_key" badgerholdUnique:"IdempotencyKey"`

	Charged     float64 `json:"charged"`
	BeforeUsed  float64 `json:"before_used"`
	AfterUsed   float64 `json:"after_used"`
	BeforeCredits *float64 `json:"before_credits,omitempty"`
	AfterCredits  *float64 `json:"after_credits,omitempty"`

	ChargeDetails *ChargeDetails `json:"charge_details,omitempty"`

	CreatedAt time.Time `json:"created_at" badgerholdIndex:"CreatedAt"`
}
