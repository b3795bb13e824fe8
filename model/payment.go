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

// Inflow matching statuses. An inflow's status only moves through the
// explicit confirm/unmatch operations; the matcher itself never writes it.
const (
	InflowUnmatched = "unmatched"
	InflowMatched   = "matched"
	InflowPending   = "pending"
)

// PaymentInflow is one incoming payment parsed from an uploaded bank
// statement (or recorded directly).
type PaymentInflow struct {
	ID            int64     `json:"-"`
	InflowID      string    `json:"inflow_id"`
	UploadID      string    `json:"upload_id,omitempty"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	PayerName     string    `json:"payer_name"`
	Reference     string    `json:"reference"`
	BankReference string    `json:"bank_reference"`
	Date          time.Time `json:"date"`
	Status        string    `json:"status"` // unmatched, matched, pending
	MatchedBidID  string    `json:"matched_bid_id,omitempty"`
	Source        string    `json:"source,omitempty"`
}

// OutstandingBid is the matcher's view of a bid awaiting payment.
type OutstandingBid struct {
	BidID          string    `json:"bid_id"`
	Buyer          string    `json:"buyer"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
	ESlipReference string    `json:"eslip_reference"`
}

// MatchSuggestion links an inflow to a bid with a confidence score. It is
// a proposal only; confirmation is a separate explicit operation.
type MatchSuggestion struct {
	InflowID   string `json:"inflow_id"`
	BidID      string `json:"bid_id"`
	Confidence int    `json:"confidence"`
}

// MatchingRule is an operator-defined rule used to tune matching beyond
// the built-in confidence heuristic.
type MatchingRule struct {
	ID          int64              `json:"-"`
	RuleID      string             `json:"rule_id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Criteria    []MatchingCriteria `json:"criteria"`
}

// MatchingCriteria is a single field comparison within a matching rule.
// AllowableDrift is a percentage for amount fields and seconds for date
// fields.
type MatchingCriteria struct {
	Field          string  `json:"field"`
	Operator       string  `json:"operator"`
	AllowableDrift float64 `json:"allowable_drift"`
}
