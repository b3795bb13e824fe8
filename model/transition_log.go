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

// TransitionLog is one committed status change. The log is append-only;
// reverts are recorded as new entries with Reverted set rather than by
// rewriting history.
type TransitionLog struct {
	ID         int64     `json:"-"`
	LogID      string    `json:"log_id"`
	BidID      string    `json:"bid_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Actor      string    `json:"actor,omitempty"`
	Reverted   bool      `json:"reverted"`
	CreatedAt  time.Time `json:"created_at"`
}
