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

import "context"

// Permission is a single capability token held by a caller. The wildcard
// token satisfies every permission check and represents an administrative
// caller.
type Permission string

const (
	PermissionWildcard       Permission = "*"
	PermissionManageBids     Permission = "bids:manage"
	PermissionSendESlips     Permission = "eslips:send"
	PermissionMatchPayments  Permission = "payments:match"
	PermissionProcessSplits  Permission = "splits:process"
	PermissionApprovePayouts Permission = "payouts:approve"
	PermissionReleaseTea     Permission = "tea:release"
)

// PermissionSet is the set of capability tokens an acting user holds.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from individual tokens.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ParsePermissions builds a set from raw string tokens, as received over
// the API.
func ParsePermissions(tokens []string) PermissionSet {
	set := make(PermissionSet, len(tokens))
	for _, t := range tokens {
		set[Permission(t)] = struct{}{}
	}
	return set
}

// Has reports whether the set holds the given token or the wildcard.
func (s PermissionSet) Has(p Permission) bool {
	if _, ok := s[PermissionWildcard]; ok {
		return true
	}
	_, ok := s[p]
	return ok
}

// HasAll reports whether the set satisfies every required token. The
// wildcard satisfies any requirement.
func (s PermissionSet) HasAll(required []Permission) bool {
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// TransitionCode classifies why a transition was accepted or refused.
type TransitionCode string

const (
	TransitionOK                TransitionCode = "OK"
	InvalidTransition           TransitionCode = "INVALID_TRANSITION"
	InsufficientPermissions     TransitionCode = "INSUFFICIENT_PERMISSIONS"
	TransitionValidationFailed  TransitionCode = "VALIDATION_FAILED"
	TransitionStatusUnknown     TransitionCode = "UNKNOWN_STATUS"
	TransitionRuleActionFailure TransitionCode = "RULE_ACTION_FAILED"
)

// TransitionResult is the typed outcome of a transition validation. It is
// returned to callers rather than raised, so API handlers can surface the
// specific refusal message.
type TransitionResult struct {
	Valid   bool           `json:"valid"`
	Code    TransitionCode `json:"code"`
	Message string         `json:"message,omitempty"`
}

// StatusTransition is one directed edge in the workflow's transition
// table. Rules holds the ordered identifiers of validation predicates in
// the engine's registry, so the table itself stays plain data.
// AutoTriggers declares events that could in principle fire the edge
// without human action; no scheduler consumes them today.
type StatusTransition struct {
	From                Status       `json:"from"`
	To                  Status       `json:"to"`
	RequiredPermissions []Permission `json:"required_permissions"`
	Rules               []string     `json:"rules"`
	AutoTriggers        []string     `json:"auto_triggers,omitempty"`
}

// ValidationRule is a named business predicate over a bid. Check returns
// true when the bid satisfies the rule; Message is surfaced verbatim to
// the caller on failure.
type ValidationRule struct {
	ID      string
	Message string
	Check   func(*Bid) bool
}

// WorkflowRule is an automation rule evaluated against a bid after it
// moves. Higher priority runs first; a failing Action is logged and never
// blocks the remaining rules.
type WorkflowRule struct {
	RuleID    string
	Name      string
	Priority  int
	Enabled   bool
	Condition func(*Bid) bool
	Action    func(context.Context, *Bid) error
}
