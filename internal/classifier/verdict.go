// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import "grimm.is/flowbridge/internal/metrics"

// Verdict is the decision handed back to the packet source.
type Verdict int

const (
	// VerdictDrop drops the packet. The classifier never returns it.
	VerdictDrop Verdict = iota
	// VerdictAccept returns the packet to the stack unmodified
	VerdictAccept
)

func (v Verdict) String() string {
	switch v {
	case VerdictDrop:
		return "drop"
	case VerdictAccept:
		return "accept"
	default:
		return "unknown"
	}
}

// Outcome records what the classifier did with a packet. It never affects
// the verdict. Values are the packet counter labels in metrics.
type Outcome string

const (
	OutcomeInactive   Outcome = metrics.OutcomeInactive
	OutcomeMalformed  Outcome = metrics.OutcomeMalformed
	OutcomeFamily     Outcome = metrics.OutcomeFamily
	OutcomeFragment   Outcome = metrics.OutcomeFragment
	OutcomeUnmatched  Outcome = metrics.OutcomeUnmatched
	OutcomeIgnored    Outcome = metrics.OutcomeIgnored
	OutcomeUpdated    Outcome = metrics.OutcomeUpdated
	OutcomeCreated    Outcome = metrics.OutcomeCreated
	OutcomeCapacity   Outcome = metrics.OutcomeCapacity
	OutcomeKeyFailure Outcome = metrics.OutcomeKeyFailure
	OutcomePanic      Outcome = metrics.OutcomePanic
)

// Tracked reports whether the outcome credited bytes to a flow.
func (o Outcome) Tracked() bool {
	return o == OutcomeCreated || o == OutcomeUpdated
}
