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
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/internal/notification"
	"github.com/teaflowhq/teaflow/model"
)

// ErrUnknownStatus is returned when a status outside the canonical stage
// order is passed to a lookup.
var ErrUnknownStatus = errors.New("unknown bid status")

// defaultActionTimeout bounds a single workflow rule action when no
// configuration is loaded.
const defaultActionTimeout = 30 * time.Second

// WorkflowEngine owns the transition table, the validation-rule registry
// and the stage order. The tables are injected at construction so tests
// and future deployments can substitute their own; the engine itself
// holds no mutable state and every method except EvaluateRules is a pure
// function of its inputs.
type WorkflowEngine struct {
	order         []model.Status
	transitions   []model.StatusTransition
	registry      map[string]model.ValidationRule
	actionTimeout time.Duration
}

// NewWorkflowEngine builds an engine from a transition table and a set of
// named validation rules. The table must form a simple forward chain over
// the given order: every stage except the first has exactly one incoming
// edge, and every edge connects adjacent stages.
func NewWorkflowEngine(order []model.Status, transitions []model.StatusTransition, rules []model.ValidationRule) (*WorkflowEngine, error) {
	registry := make(map[string]model.ValidationRule, len(rules))
	for _, r := range rules {
		if r.Check == nil {
			return nil, fmt.Errorf("validation rule %s has no check", r.ID)
		}
		registry[r.ID] = r
	}

	index := make(map[model.Status]int, len(order))
	for i, s := range order {
		index[s] = i
	}

	incoming := make(map[model.Status]int)
	for _, t := range transitions {
		fromIdx, ok := index[t.From]
		if !ok {
			return nil, fmt.Errorf("transition from unknown status %s", t.From)
		}
		toIdx, ok := index[t.To]
		if !ok {
			return nil, fmt.Errorf("transition to unknown status %s", t.To)
		}
		if toIdx != fromIdx+1 {
			return nil, fmt.Errorf("transition %s -> %s is not a forward hop between adjacent stages", t.From, t.To)
		}
		incoming[t.To]++
		for _, ruleID := range t.Rules {
			if _, ok := registry[ruleID]; !ok {
				return nil, fmt.Errorf("transition %s -> %s references unknown validation rule %s", t.From, t.To, ruleID)
			}
		}
	}
	for i, s := range order {
		if i == 0 {
			continue
		}
		if incoming[s] != 1 {
			return nil, fmt.Errorf("stage %s must have exactly one incoming transition, has %d", s, incoming[s])
		}
	}

	engine := &WorkflowEngine{
		order:         order,
		transitions:   transitions,
		registry:      registry,
		actionTimeout: defaultActionTimeout,
	}
	if cnf, err := config.Fetch(); err == nil && cnf.Automation.ActionTimeoutSec > 0 {
		engine.actionTimeout = time.Duration(cnf.Automation.ActionTimeoutSec) * time.Second
	}
	return engine, nil
}

// DefaultWorkflowEngine returns an engine loaded with the canonical
// six-stage pipeline and its validation rules.
func DefaultWorkflowEngine() *WorkflowEngine {
	engine, err := NewWorkflowEngine(model.StatusOrder, DefaultTransitions(), DefaultValidationRules())
	if err != nil {
		// The default tables are static; a failure here is a programming error.
		panic(err)
	}
	return engine
}

// DefaultValidationRules returns the named business predicates referenced
// by the canonical transition table. Messages are surfaced verbatim to
// callers, so they are written for dashboard users.
func DefaultValidationRules() []model.ValidationRule {
	return []model.ValidationRule{
		{
			ID:      "bid-amount-positive",
			Message: "Bid amount must be positive",
			Check: func(b *model.Bid) bool {
				return b.Amount > 0
			},
		},
		{
			ID:      "eslip-generated",
			Message: "E-slip has not been generated",
			Check: func(b *model.Bid) bool {
				return b.ESlip != nil && b.ESlip.Reference != ""
			},
		},
		{
			ID:      "eslip-sent",
			Message: "E-slip must be sent to the buyer",
			Check: func(b *model.Bid) bool {
				return b.ESlip != nil && b.ESlip.Status == model.ESlipSent
			},
		},
		{
			ID:      "payment-received",
			Message: "Payment must be fully received",
			Check: func(b *model.Bid) bool {
				return b.PaymentReceived()
			},
		},
		{
			ID:      "split-configured",
			Message: "Split beneficiaries have not been configured",
			Check: func(b *model.Bid) bool {
				return b.Split != nil && len(b.Split.Beneficiaries) > 0
			},
		},
		{
			ID:      "beneficiaries-ready",
			Message: "All split beneficiaries must be ready",
			Check: func(b *model.Bid) bool {
				if b.Split == nil || len(b.Split.Beneficiaries) == 0 {
					return false
				}
				for _, ben := range b.Split.Beneficiaries {
					if ben.Status != model.BeneficiaryReady {
						return false
					}
				}
				return true
			},
		},
		{
			ID:      "payout-approved",
			Message: "Payout has not been approved",
			Check: func(b *model.Bid) bool {
				return b.Payout != nil && b.Payout.Status == model.PayoutApproved
			},
		},
	}
}

// DefaultTransitions returns the canonical transition table. The graph is
// a simple chain; auto-trigger names are declarative only, no scheduler
// consumes them yet.
func DefaultTransitions() []model.StatusTransition {
	return []model.StatusTransition{
		{
			From:                model.StatusBidIntake,
			To:                  model.StatusESlipSent,
			RequiredPermissions: []model.Permission{model.PermissionSendESlips},
			Rules:               []string{"bid-amount-positive", "eslip-generated"},
			AutoTriggers:        []string{"eslip.generated"},
		},
		{
			From:                model.StatusESlipSent,
			To:                  model.StatusPaymentMatching,
			RequiredPermissions: []model.Permission{model.PermissionMatchPayments},
			Rules:               []string{"eslip-sent"},
			AutoTriggers:        []string{"eslip.delivered"},
		},
		{
			From:                model.StatusPaymentMatching,
			To:                  model.StatusSplitProcessing,
			RequiredPermissions: []model.Permission{model.PermissionMatchPayments, model.PermissionProcessSplits},
			Rules:               []string{"payment-received"},
			AutoTriggers:        []string{"payment.matched"},
		},
		{
			From:                model.StatusSplitProcessing,
			To:                  model.StatusPayoutApproval,
			RequiredPermissions: []model.Permission{model.PermissionProcessSplits},
			Rules:               []string{"split-configured", "beneficiaries-ready"},
		},
		{
			From:                model.StatusPayoutApproval,
			To:                  model.StatusTeaRelease,
			RequiredPermissions: []model.Permission{model.PermissionApprovePayouts, model.PermissionReleaseTea},
			Rules:               []string{"payout-approved"},
			AutoTriggers:        []string{"payout.approved"},
		},
	}
}

// findTransition returns the unique edge from -> to, or nil when the
// table holds no such edge.
func (e *WorkflowEngine) findTransition(from, to model.Status) *model.StatusTransition {
	for i := range e.transitions {
		if e.transitions[i].From == from && e.transitions[i].To == to {
			return &e.transitions[i]
		}
	}
	return nil
}

// ValidateTransition checks whether bid may move to target given the
// caller's permissions. The checks run in a fixed order: edge existence,
// permissions, then each validation rule in declaration order with a
// short circuit on the first failure. The function is pure; committing
// the new status is the caller's job.
func (e *WorkflowEngine) ValidateTransition(bid *model.Bid, target model.Status, permissions model.PermissionSet) model.TransitionResult {
	edge := e.findTransition(bid.Status, target)
	if edge == nil {
		return model.TransitionResult{
			Valid:   false,
			Code:    model.InvalidTransition,
			Message: "Invalid status transition",
		}
	}

	if !permissions.HasAll(edge.RequiredPermissions) {
		return model.TransitionResult{
			Valid:   false,
			Code:    model.InsufficientPermissions,
			Message: "Insufficient permissions for this transition",
		}
	}

	for _, ruleID := range edge.Rules {
		rule, ok := e.registry[ruleID]
		if !ok {
			// Fail closed: a table referencing a missing predicate must
			// never let a bid through.
			return model.TransitionResult{
				Valid:   false,
				Code:    model.TransitionValidationFailed,
				Message: fmt.Sprintf("Unknown validation rule %s", ruleID),
			}
		}
		if !rule.Check(bid) {
			return model.TransitionResult{
				Valid:   false,
				Code:    model.TransitionValidationFailed,
				Message: rule.Message,
			}
		}
	}

	return model.TransitionResult{Valid: true, Code: model.TransitionOK}
}

// NextAllowedStatuses returns every status one edge away from the bid's
// current status for which the caller's permissions satisfy the edge.
// Business rules are deliberately not evaluated here: this answers "what
// could this user attempt", ValidateTransition answers "is it ready". The
// canonical table yields at most one entry, but the slice return is part
// of the contract so branching tables keep working.
func (e *WorkflowEngine) NextAllowedStatuses(bid *model.Bid, permissions model.PermissionSet) []model.Status {
	var next []model.Status
	for _, t := range e.transitions {
		if t.From != bid.Status {
			continue
		}
		if permissions.HasAll(t.RequiredPermissions) {
			next = append(next, t.To)
		}
	}
	return next
}

// Progress returns how far along the pipeline a status is, as a
// percentage of the stage count (1-based).
func (e *WorkflowEngine) Progress(status model.Status) (float64, error) {
	for i, s := range e.order {
		if s == status {
			return float64(i+1) / float64(len(e.order)) * 100, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownStatus, status)
}

// Revert validates an administrative rollback to an earlier stage. It
// deliberately bypasses the transition table and business predicates:
// upstream has no revert validation semantics, so this is a distinct,
// wildcard-only override rather than a reversed forward transition.
func (e *WorkflowEngine) Revert(bid *model.Bid, target model.Status, permissions model.PermissionSet) model.TransitionResult {
	if !target.IsValid() {
		return model.TransitionResult{
			Valid:   false,
			Code:    model.TransitionStatusUnknown,
			Message: fmt.Sprintf("Unknown status %s", target),
		}
	}

	if _, admin := permissions[model.PermissionWildcard]; !admin {
		return model.TransitionResult{
			Valid:   false,
			Code:    model.InsufficientPermissions,
			Message: "Reverting a bid requires administrator access",
		}
	}

	currentIdx, targetIdx := -1, -1
	for i, s := range e.order {
		if s == bid.Status {
			currentIdx = i
		}
		if s == target {
			targetIdx = i
		}
	}
	if currentIdx < 0 || targetIdx >= currentIdx {
		return model.TransitionResult{
			Valid:   false,
			Code:    model.InvalidTransition,
			Message: "Revert target must be an earlier stage",
		}
	}

	return model.TransitionResult{Valid: true, Code: model.TransitionOK}
}

// EvaluateRules runs the supplied automation rules against a bid
// snapshot. Rules are filtered to enabled ones whose condition holds,
// ordered by descending priority (stable, so equal priorities keep their
// supplied order) and executed strictly one after another. A failing or
// timed-out action is reported and evaluation continues with the next
// rule.
//
// The engine does not serialize concurrent evaluations of the same bid;
// callers that may run automation concurrently against one bid must hold
// that bid's lock (see Teaflow.CommitTransition).
func (e *WorkflowEngine) EvaluateRules(ctx context.Context, bid *model.Bid, rules []model.WorkflowRule) {
	matched := make([]model.WorkflowRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled || r.Condition == nil || r.Action == nil {
			continue
		}
		if r.Condition(bid) {
			matched = append(matched, r)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	for _, r := range matched {
		if err := e.runAction(ctx, r, bid); err != nil {
			notification.NotifyError(fmt.Errorf("workflow rule %s (%s) failed for bid %s: %w", r.RuleID, r.Name, bid.BidID, err))
		}
	}
}

// runAction executes a single rule action under the configured timeout.
// The action is awaited before the next rule starts; on timeout it is
// abandoned and reported so one stuck action cannot stall the batch
// forever.
func (e *WorkflowEngine) runAction(ctx context.Context, rule model.WorkflowRule, bid *model.Bid) error {
	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- rule.Action(actionCtx, bid)
	}()

	select {
	case err := <-done:
		return err
	case <-actionCtx.Done():
		return actionCtx.Err()
	}
}
