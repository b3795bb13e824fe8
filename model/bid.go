/*
Copyright 2026 Teaflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import "time"

// Status is a bid's position in the settlement pipeline.
type Status string

// The canonical stages a bid moves through, in order. A bid only ever
// advances one stage at a time; reverting is a separate administrative
// operation and never part of the forward transition table.
const (
	StatusBidIntake       Status = "bid-intake"
	StatusESlipSent       Status = "e-slip-sent"
	StatusPaymentMatching Status = "payment-matching"
	StatusSplitProcessing Status = "split-processing"
	StatusPayoutApproval  Status = "payout-approval"
	StatusTeaRelease      Status = "tea-release"
)

// StatusOrder is the canonical pipeline order. Progress percentages and
// adjacency checks are derived from this slice, never hard-coded.
var StatusOrder = []Status{
	StatusBidIntake,
	StatusESlipSent,
	StatusPaymentMatching,
	StatusSplitProcessing,
	StatusPayoutApproval,
	StatusTeaRelease,
}

// IsValid reports whether s is one of the canonical pipeline stages.
func (s Status) IsValid() bool {
	for _, known := range StatusOrder {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is the final pipeline stage.
func (s Status) IsTerminal() bool {
	return s == StatusTeaRelease
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Payment sub-record statuses.
const (
	PaymentPending = "pending"
	PaymentPartial = "partial"
	PaymentPaid    = "paid"
)

// E-slip sub-record statuses.
const (
	ESlipGenerated = "generated"
	ESlipSent      = "sent"
	ESlipFailed    = "failed"
)

// Payout sub-record statuses.
const (
	PayoutPending  = "pending"
	PayoutInReview = "in-review"
	PayoutApproved = "approved"
	PayoutRejected = "rejected"
)

// Beneficiary readiness statuses within a split.
const (
	BeneficiaryPending = "pending"
	BeneficiaryReady   = "ready"
)

// Bid is the unit of work flowing through the settlement pipeline. The
// workflow engine mutates only Status; the nested sub-records are written
// by external processes (payment receipt, e-slip dispatch, split setup,
// payout review) and read by transition predicates.
type Bid struct {
	ID         int64                  `json:"-"`
	BidID      string                 `json:"bid_id"`
	LotID      string                 `json:"lot_id"`
	Buyer      string                 `json:"buyer"`
	Grade      string                 `json:"grade"`
	QuantityKg float64                `json:"quantity_kg"`
	PricePerKg float64                `json:"price_per_kg"`
	Amount     float64                `json:"amount"`
	Currency   string                 `json:"currency"`
	Status     Status                 `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
	MetaData   map[string]interface{} `json:"meta_data,omitempty"`

	Payment *PaymentDetails `json:"payment_details,omitempty"`
	ESlip   *ESlipDetails   `json:"eslip_details,omitempty"`
	Split   *SplitDetails   `json:"split_details,omitempty"`
	Payout  *PayoutDetails  `json:"payout_details,omitempty"`
	Release *ReleaseDetails `json:"release_details,omitempty"`
}

// PaymentDetails tracks money received against a bid.
type PaymentDetails struct {
	Status         string     `json:"status"` // pending, partial, paid
	ExpectedAmount float64    `json:"expected_amount"`
	ReceivedAmount float64    `json:"received_amount"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
}

// ESlipDetails tracks the settlement slip generated for the buyer.
type ESlipDetails struct {
	Reference   string     `json:"reference"`
	Status      string     `json:"status"` // generated, sent, failed
	GeneratedAt time.Time  `json:"generated_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// SplitDetails describes how a paid bid's proceeds are allocated across
// beneficiaries (producer, broker, platform fee).
type SplitDetails struct {
	Beneficiaries []Beneficiary `json:"beneficiaries"`
}

// Beneficiary is one party in a proceeds split. Percent is expressed in
// whole percentage points (e.g. 82.5).
type Beneficiary struct {
	Name    string  `json:"name"`
	Role    string  `json:"role"`
	Percent float64 `json:"percent"`
	Amount  float64 `json:"amount"`
	Status  string  `json:"status"` // pending, ready
}

// PayoutDetails tracks the review and approval of beneficiary payouts.
type PayoutDetails struct {
	Status     string     `json:"status"` // pending, in-review, approved, rejected
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// ReleaseDetails tracks the physical release of tea to the buyer.
type ReleaseDetails struct {
	WarrantNumber string     `json:"warrant_number"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
}

// PaymentReceived reports whether the bid's expected amount has been fully
// received.
func (b *Bid) PaymentReceived() bool {
	return b.Payment != nil && b.Payment.Status == PaymentPaid
}

// ESlipReference returns the bid's e-slip reference, or "" when no e-slip
// has been generated yet.
func (b *Bid) ESlipReference() string {
	if b.ESlip == nil {
		return ""
	}
	return b.ESlip.Reference
}

// ToOutstandingBid projects the bid into the view the payment matcher
// consumes.
func (b *Bid) ToOutstandingBid() *OutstandingBid {
	return &OutstandingBid{
		BidID:          b.BidID,
		Buyer:          b.Buyer,
		Amount:         b.Amount,
		Currency:       b.Currency,
		CreatedAt:      b.CreatedAt,
		ESlipReference: b.ESlipReference(),
	}
}
