package changerequest

import (
	"context"

	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/models"
)

// CanStatusBeChanged reports whether user may change the status of cr.
// Merged and closed change requests never change status again.
func (m *Manager) CanStatusBeChanged(ctx context.Context, user string, cr *models.ChangeRequest) bool {
	if cr == nil || cr.Status.IsTerminal() {
		return false
	}
	return m.authz.HasCapability(ctx, user, auth.CapabilityChangeStatus, cr)
}

// SetReadyForReview moves a draft to ready for review.
func (m *Manager) SetReadyForReview(ctx context.Context, user string, cr *models.ChangeRequest) (bool, error) {
	return m.transition(ctx, user, cr, models.StatusReadyForReview, models.StatusDraft)
}

// SetDraft moves a change request under review back to draft.
func (m *Manager) SetDraft(ctx context.Context, user string, cr *models.ChangeRequest) (bool, error) {
	return m.transition(ctx, user, cr, models.StatusDraft, models.StatusReadyForReview)
}

// Close abandons a change request that was not merged.
func (m *Manager) Close(ctx context.Context, user string, cr *models.ChangeRequest) (bool, error) {
	return m.transition(ctx, user, cr, models.StatusClosed, models.StatusDraft, models.StatusReadyForReview)
}

// transition persists the move to status to when cr is in one of from.
// Any other state is a no-op that performs no save.
func (m *Manager) transition(ctx context.Context, user string, cr *models.ChangeRequest, to models.Status, from ...models.Status) (bool, error) {
	if !m.CanStatusBeChanged(ctx, user, cr) {
		return false, nil
	}

	legal := false
	for _, s := range from {
		if cr.Status == s {
			legal = true
			break
		}
	}
	if !legal {
		return false, nil
	}

	previous := cr.Status
	next := cr.Clone()
	next.Status = to
	if err := m.storage.Save(ctx, next); err != nil {
		return false, m.wrap("save status", err)
	}
	*cr = *next

	m.metrics.RecordTransition(string(previous), string(to))
	m.logger.Info("change request status changed",
		zap.String("change_request_id", cr.ID),
		zap.String("user", user),
		zap.String("from", string(previous)),
		zap.String("to", string(to)))
	m.notify(ctx, events.KindStatusChanged, cr.ID, user, map[string]string{
		"from": string(previous),
		"to":   string(to),
	})
	return true, nil
}
