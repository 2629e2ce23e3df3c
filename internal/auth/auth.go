// Package auth answers capability questions about change requests.
package auth

import (
	"context"
	"slices"

	"github.com/niczy/changerequest/internal/models"
)

// Capability is an action a user may be allowed to perform on a change request.
type Capability string

const (
	CapabilityReview       Capability = "review"
	CapabilityMerge        Capability = "merge"
	CapabilityFixConflict  Capability = "fix_conflict"
	CapabilityChangeStatus Capability = "change_status"
	// CapabilityEdit covers adding file changes and editing approvers.
	CapabilityEdit Capability = "edit"
)

// Authorizer is the yes/no capability query used by the manager.
type Authorizer interface {
	HasCapability(ctx context.Context, user string, capability Capability, cr *models.ChangeRequest) bool
}

// Policy lists the users holding rights beyond plain authorship.
type Policy struct {
	// Admins hold every capability on every change request.
	Admins  []string
	Mergers []string
	// Reviewers may review any change request. Empty means everyone may review.
	Reviewers []string
	// AllowAuthorReview lets authors review their own change requests.
	AllowAuthorReview bool
}

// PolicyAuthorizer evaluates capabilities from a static Policy.
type PolicyAuthorizer struct {
	policy Policy
}

// NewPolicyAuthorizer creates an authorizer for policy.
func NewPolicyAuthorizer(policy Policy) *PolicyAuthorizer {
	return &PolicyAuthorizer{policy: policy}
}

// HasCapability implements Authorizer.
func (a *PolicyAuthorizer) HasCapability(_ context.Context, user string, capability Capability, cr *models.ChangeRequest) bool {
	if user == "" || cr == nil {
		return false
	}
	if slices.Contains(a.policy.Admins, user) {
		return true
	}

	author := cr.IsAuthor(user)
	switch capability {
	case CapabilityReview:
		if author && !a.policy.AllowAuthorReview {
			return false
		}
		return len(a.policy.Reviewers) == 0 || slices.Contains(a.policy.Reviewers, user) ||
			slices.Contains(cr.Approvers, user)
	case CapabilityMerge:
		return slices.Contains(a.policy.Mergers, user)
	case CapabilityFixConflict, CapabilityChangeStatus, CapabilityEdit:
		return author || slices.Contains(a.policy.Mergers, user)
	default:
		return false
	}
}

// AllowAll grants every capability to every non-anonymous user.
type AllowAll struct{}

// HasCapability implements Authorizer.
func (AllowAll) HasCapability(_ context.Context, user string, _ Capability, _ *models.ChangeRequest) bool {
	return user != ""
}
