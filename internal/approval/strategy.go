// Package approval decides whether a change request collected enough
// approvals to be merged.
//
// A [Strategy] is a pure function of the change request and its currently
// valid reviews. Exactly one strategy is active per process; [New] selects it
// from configuration.
package approval

import (
	"fmt"
	"sort"

	"github.com/niczy/changerequest/internal/models"
)

// Strategy names accepted by New.
const (
	AcceptAll    = "acceptall"
	OnlyApproved = "onlyapproved"
	Quorum       = "quorum"
	AllApprovers = "allapprovers"
)

// Strategy evaluates the approval threshold of a change request.
type Strategy interface {
	Name() string
	Description() string
	// IsThresholdMet reports whether reviews satisfy the policy. Callers pass
	// only valid reviews.
	IsThresholdMet(cr *models.ChangeRequest, reviews []*models.Review) bool
}

// New returns the strategy registered under name. minApprovals is used by
// the quorum strategy only.
func New(name string, minApprovals int) (Strategy, error) {
	switch name {
	case AcceptAll:
		return acceptAll{}, nil
	case "", OnlyApproved:
		return onlyApproved{}, nil
	case Quorum:
		if minApprovals < 1 {
			return nil, fmt.Errorf("quorum strategy needs at least one approval, got %d", minApprovals)
		}
		return quorum{min: minApprovals}, nil
	case AllApprovers:
		return allApprovers{}, nil
	default:
		return nil, fmt.Errorf("unknown approval strategy %q", name)
	}
}

// Names lists the available strategies.
func Names() []string {
	return []string{AcceptAll, OnlyApproved, Quorum, AllApprovers}
}

// latestByAuthor keeps the most recent valid review of every author.
func latestByAuthor(reviews []*models.Review) map[string]*models.Review {
	latest := make(map[string]*models.Review, len(reviews))
	for _, r := range reviews {
		if r == nil || !r.Valid {
			continue
		}
		if prev, ok := latest[r.Author]; ok && prev.ReviewDate.After(r.ReviewDate) {
			continue
		}
		latest[r.Author] = r
	}
	return latest
}

// tally counts the authors approving and requesting changes.
func tally(reviews []*models.Review) (approvers []string, rejected bool) {
	for author, r := range latestByAuthor(reviews) {
		if r.Approved {
			approvers = append(approvers, author)
		} else {
			rejected = true
		}
	}
	sort.Strings(approvers)
	return approvers, rejected
}

type acceptAll struct{}

func (acceptAll) Name() string        { return AcceptAll }
func (acceptAll) Description() string { return "Change requests can be merged without any review." }

func (acceptAll) IsThresholdMet(*models.ChangeRequest, []*models.Review) bool { return true }

type onlyApproved struct{}

func (onlyApproved) Name() string { return OnlyApproved }
func (onlyApproved) Description() string {
	return "At least one approval and no pending request for changes."
}

func (onlyApproved) IsThresholdMet(_ *models.ChangeRequest, reviews []*models.Review) bool {
	approvers, rejected := tally(reviews)
	return len(approvers) > 0 && !rejected
}

type quorum struct {
	min int
}

func (quorum) Name() string { return Quorum }
func (q quorum) Description() string {
	return fmt.Sprintf("At least %d distinct approvers and no pending request for changes.", q.min)
}

func (q quorum) IsThresholdMet(_ *models.ChangeRequest, reviews []*models.Review) bool {
	approvers, rejected := tally(reviews)
	return len(approvers) >= q.min && !rejected
}

type allApprovers struct{}

func (allApprovers) Name() string { return AllApprovers }
func (allApprovers) Description() string {
	return "Every designated approver approved the change request."
}

func (allApprovers) IsThresholdMet(cr *models.ChangeRequest, reviews []*models.Review) bool {
	if cr == nil || len(cr.Approvers) == 0 {
		return onlyApproved{}.IsThresholdMet(cr, reviews)
	}
	if _, rejected := tally(reviews); rejected {
		return false
	}
	latest := latestByAuthor(reviews)
	for _, approver := range cr.Approvers {
		r, ok := latest[approver]
		if !ok || !r.Approved {
			return false
		}
	}
	return true
}
