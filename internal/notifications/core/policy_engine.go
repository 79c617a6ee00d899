package core

import (
	"adalerts/internal/types"
)

// Compile-time assertion that PolicyEngineImpl implements PolicyResolver.
var _ PolicyResolver = (*PolicyEngineImpl)(nil)

// PolicyEngineImpl is the production implementation of PolicyResolver.
// It combines the user's own opt-in, an unexpired per-user override and the
// global switch into a single notify/suppress decision.
type PolicyEngineImpl struct{}

// NewPolicyEngine creates a new PolicyEngineImpl.
func NewPolicyEngine() *PolicyEngineImpl {
	return &PolicyEngineImpl{}
}

// Resolve evaluates the layered policy for one subscriber against snapshot.
//
// Decision logic (in order of precedence):
//  1. Subscriber opted out -> suppress (overrides cannot re-enable)
//  2. Unexpired override -> ALLOW notifies, BLOCK suppresses
//  3. Otherwise -> the global setting
//
// Expiry is judged against snapshot.TakenAt so every user in one run sees the
// same instant.
func (e *PolicyEngineImpl) Resolve(snapshot PolicySnapshot, sub types.UserSubscription) PolicyResult {
	if !sub.NotifyEnabled {
		return PolicyResult{
			Decision: PolicySuppress,
			Reason:   "subscriber opted out",
		}
	}

	if o, ok := snapshot.Overrides[sub.UserID]; ok && o.ActiveAt(snapshot.TakenAt) {
		switch o.Mode {
		case types.OverrideAllow:
			return PolicyResult{Decision: PolicyNotify, Reason: "override allow"}
		case types.OverrideBlock:
			return PolicyResult{Decision: PolicySuppress, Reason: "override block"}
		}
	}

	if snapshot.GlobalEnabled {
		return PolicyResult{Decision: PolicyNotify, Reason: "global setting enabled"}
	}
	return PolicyResult{Decision: PolicySuppress, Reason: "global setting disabled"}
}
