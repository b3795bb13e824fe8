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

package teaflow

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/teaflowhq/teaflow/model"
)

// Confidence scoring weights for the built-in matching heuristic. The
// weights are additive; a single inflow/bid pair can earn several at
// once, so the ceiling is exactAmountScore + buyerNameScore +
// referenceScore + approxAmountScore.
const (
	exactAmountScore  = 40
	buyerNameScore    = 30
	referenceScore    = 50
	approxAmountScore = 20

	// matchThreshold is the minimum confidence for a pair to be suggested.
	matchThreshold = 70

	// amountTolerance is the absolute tolerance for an exact amount match,
	// which absorbs bank rounding on the smallest currency unit.
	amountTolerance = 0.01

	// approxAmountDrift is the relative tolerance for an approximate
	// amount match (partial payments, bank charges deducted at source).
	approxAmountDrift = 0.05
)

// MatchConfidence scores a single inflow against a single outstanding
// bid using the built-in heuristic:
//
//   - amount within amountTolerance of the bid amount
//   - payer name and buyer name containing each other, case-insensitively
//   - inflow reference equal to the e-slip reference, or the bank
//     reference containing it
//   - amount within approxAmountDrift of the bid amount, relative
//
// The approximate-amount signal stacks with the exact one: an exact
// amount is also approximately right, and the heuristic deliberately
// rewards it twice.
func MatchConfidence(inflow *model.PaymentInflow, bid *model.OutstandingBid) int {
	confidence := 0

	if math.Abs(inflow.Amount-bid.Amount) <= amountTolerance {
		confidence += exactAmountScore
	}

	if matchesBuyerName(inflow.PayerName, bid.Buyer) {
		confidence += buyerNameScore
	}

	if matchesESlipReference(inflow, bid.ESlipReference) {
		confidence += referenceScore
	}

	if bid.Amount > 0 && math.Abs(inflow.Amount-bid.Amount)/bid.Amount < approxAmountDrift {
		confidence += approxAmountScore
	}

	return confidence
}

// matchesBuyerName checks whether the payer on the bank statement and
// the buyer on the bid plausibly name the same party. Banks truncate and
// re-order names, so containment in either direction counts.
func matchesBuyerName(payerName, buyer string) bool {
	payer := strings.ToLower(strings.TrimSpace(payerName))
	name := strings.ToLower(strings.TrimSpace(buyer))
	if payer == "" || name == "" {
		return false
	}
	return strings.Contains(payer, name) || strings.Contains(name, payer)
}

// matchesESlipReference checks the inflow's references against the bid's
// e-slip reference. The narration reference must match exactly; the bank
// reference only needs to contain it, since banks prepend their own
// prefixes.
func matchesESlipReference(inflow *model.PaymentInflow, eslipRef string) bool {
	ref := strings.ToLower(strings.TrimSpace(eslipRef))
	if ref == "" {
		return false
	}
	if strings.ToLower(strings.TrimSpace(inflow.Reference)) == ref {
		return true
	}
	bankRef := strings.ToLower(inflow.BankReference)
	return bankRef != "" && strings.Contains(bankRef, ref)
}

// AutoMatchPayments scores every unmatched inflow against every
// outstanding bid and returns the pairs that clear the confidence
// threshold, ordered by descending confidence. The sort is stable, so
// equal-confidence pairs keep their input order (inflow order first,
// then bid order). Inflows that are already matched or pending are
// skipped entirely.
//
// The function is pure: it proposes, it never writes. Confirming a
// suggestion is a separate explicit operation.
func AutoMatchPayments(inflows []*model.PaymentInflow, bids []*model.OutstandingBid) []model.MatchSuggestion {
	var suggestions []model.MatchSuggestion
	for _, inflow := range inflows {
		if inflow.Status != model.InflowUnmatched {
			continue
		}
		for _, bid := range bids {
			confidence := MatchConfidence(inflow, bid)
			if confidence >= matchThreshold {
				suggestions = append(suggestions, model.MatchSuggestion{
					InflowID:   inflow.InflowID,
					BidID:      bid.BidID,
					Confidence: confidence,
				})
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	return suggestions
}

// matchesRules checks an inflow against operator-defined matching rules.
// A rule matches when every one of its criteria is met; the rule set
// matches when any rule does. These rules extend the built-in heuristic
// for auction houses whose banks produce unusual statements.
func (s *Teaflow) matchesRules(inflow *model.PaymentInflow, bid *model.OutstandingBid, rules []model.MatchingRule) bool {
	for _, rule := range rules {
		allCriteriaMet := true
		for _, criteria := range rule.Criteria {
			var criterionMet bool
			switch criteria.Field {
			case "amount":
				criterionMet = s.matchesAmount(inflow.Amount, bid.Amount, criteria)
			case "date":
				criterionMet = s.matchesDate(inflow.Date, bid.CreatedAt, criteria)
			case "payer_name":
				criterionMet = s.matchesString(inflow.PayerName, bid.Buyer, criteria)
			case "reference":
				criterionMet = s.matchesString(inflow.Reference, bid.ESlipReference, criteria)
			case "currency":
				criterionMet = s.matchesString(inflow.Currency, bid.Currency, criteria)
			}
			if !criterionMet {
				allCriteriaMet = false
				break
			}
		}
		if allCriteriaMet {
			return true
		}
	}
	return false
}

// matchesString compares two string values according to the criteria
// operator. "equals" is a case-insensitive exact comparison; "contains"
// allows partial matches within the allowable drift.
func (s *Teaflow) matchesString(inflowValue, bidValue string, criteria model.MatchingCriteria) bool {
	switch criteria.Operator {
	case "equals":
		return strings.EqualFold(inflowValue, bidValue)
	case "contains":
		return s.partialMatch(inflowValue, bidValue, criteria.AllowableDrift)
	}
	return false
}

// partialMatch compares two strings and checks if they match within the
// allowable drift, using Levenshtein distance. Containment in either
// direction always counts as a match.
func (s *Teaflow) partialMatch(str1, str2 string, allowableDrift float64) bool {
	str1 = strings.ToLower(str1)
	str2 = strings.ToLower(str2)

	if strings.Contains(str1, str2) || strings.Contains(str2, str1) {
		return true
	}

	distance := levenshtein.DistanceForStrings([]rune(str1), []rune(str2), levenshtein.DefaultOptions)

	// The allowable distance scales with the longer of the two strings;
	// drift is a percentage of its length.
	maxLength := float64(max(len(str1), len(str2)))
	maxAllowedDistance := int(maxLength * (allowableDrift / 100))

	return distance <= maxAllowedDistance
}

// matchesAmount compares an inflow amount with a bid amount according to
// the criteria operator. For "equals" the allowable drift is a fraction
// of the bid amount.
func (s *Teaflow) matchesAmount(inflowAmount, bidAmount float64, criteria model.MatchingCriteria) bool {
	switch criteria.Operator {
	case "equals":
		allowableDrift := bidAmount * criteria.AllowableDrift
		return math.Abs(inflowAmount-bidAmount) <= allowableDrift
	case "greater_than":
		return inflowAmount > bidAmount
	case "less_than":
		return inflowAmount < bidAmount
	}
	return false
}

// matchesDate compares the inflow date with the bid date according to
// the criteria operator. For "equals" the allowable drift is in seconds.
func (s *Teaflow) matchesDate(inflowDate, bidDate time.Time, criteria model.MatchingCriteria) bool {
	switch criteria.Operator {
	case "equals":
		difference := inflowDate.Sub(bidDate)
		return math.Abs(float64(difference/time.Second)) <= criteria.AllowableDrift
	case "after":
		return inflowDate.After(bidDate)
	case "before":
		return inflowDate.Before(bidDate)
	}
	return false
}
