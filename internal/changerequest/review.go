package changerequest

import (
	"context"

	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/models"
)

// IsAuthorizedToReview reports whether user may review cr.
func (m *Manager) IsAuthorizedToReview(ctx context.Context, user string, cr *models.ChangeRequest) bool {
	if cr == nil || cr.Status.IsTerminal() {
		return false
	}
	return m.authz.HasCapability(ctx, user, auth.CapabilityReview, cr)
}

// AddReview records the decision of user on cr and returns the saved review.
func (m *Manager) AddReview(ctx context.Context, user string, cr *models.ChangeRequest, approved bool, comment string) (*models.Review, bool, error) {
	if !m.IsAuthorizedToReview(ctx, user, cr) {
		return nil, false, nil
	}

	next := cr.Clone()
	review := models.NewReview(next, approved, user, m.now())
	review.Comment = comment
	next.Reviews = append(next.Reviews, review)

	if err := m.storage.Save(ctx, next); err != nil {
		return nil, false, m.wrap("save review", err)
	}
	*cr = *next

	saved := *cr.Reviews[len(cr.Reviews)-1]
	m.metrics.RecordReview(approved)
	m.logger.Info("review added",
		zap.String("change_request_id", cr.ID),
		zap.String("review_id", saved.ID),
		zap.String("user", user),
		zap.Bool("approved", approved))
	m.notify(ctx, events.KindReviewAdded, cr.ID, user, map[string]string{"review_id": saved.ID})
	return &saved, true, nil
}

// CanEditReview reports whether user may edit review. Only its author can.
func (m *Manager) CanEditReview(user string, review *models.Review) bool {
	return review != nil && user != "" && review.Author == user
}

// SetReviewValidity marks review as valid or outdated. Authorship, decision
// and comment come from the stored review, never from the caller's copy.
// review.Version must match the stored version, else ErrStaleState is
// returned. Setting the current validity again saves nothing.
func (m *Manager) SetReviewValidity(ctx context.Context, user string, review *models.Review, valid bool) (bool, error) {
	if review == nil || !review.Saved || review.ID == "" {
		return false, nil
	}
	stored, err := m.storage.GetReview(ctx, review.ID)
	if err != nil {
		return false, m.wrap("load review", err)
	}
	if !m.CanEditReview(user, stored) {
		return false, nil
	}
	if stored.Version != review.Version {
		return false, m.wrap("set review validity", ErrStaleState)
	}
	cr, err := m.storage.Load(ctx, stored.ChangeRequestID)
	if err != nil {
		return false, m.wrap("load change request", err)
	}
	if cr.Status.IsTerminal() {
		return false, nil
	}
	if stored.Valid == valid {
		*review = *stored
		return true, nil
	}

	updated := *stored
	updated.Valid = valid
	if err := m.storage.SaveReview(ctx, &updated); err != nil {
		return false, m.wrap("save review validity", err)
	}
	*review = updated

	m.notify(ctx, events.KindReviewUpdated, review.ChangeRequestID, user, map[string]string{
		"review_id": review.ID,
	})
	return true, nil
}

// GetReview finds a review of cr by id.
func (m *Manager) GetReview(cr *models.ChangeRequest, reviewID string) (*models.Review, bool) {
	for _, r := range cr.Reviews {
		if r.ID == reviewID {
			found := *r
			return &found, true
		}
	}
	return nil, false
}

// LoadReview loads a saved review by id without its change request.
func (m *Manager) LoadReview(ctx context.Context, reviewID string) (*models.Review, error) {
	review, err := m.storage.GetReview(ctx, reviewID)
	if err != nil {
		return nil, m.wrap("load review", err)
	}
	return review, nil
}
