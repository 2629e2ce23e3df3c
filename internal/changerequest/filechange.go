package changerequest

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/models"
)

// AddFileChange records a new revision of target computed against the
// document at previousVersion. Every review made until now becomes outdated
// in the same save. user becomes an author of cr.
func (m *Manager) AddFileChange(ctx context.Context, user string, cr *models.ChangeRequest, target string, previousVersion int64, lines []string) (*models.FileChange, bool, error) {
	if target == "" || previousVersion < 0 {
		return nil, false, ErrInvalidInput
	}
	if cr.Status.IsTerminal() || !m.authz.HasCapability(ctx, user, auth.CapabilityEdit, cr) {
		return nil, false, nil
	}

	next := cr.Clone()
	next.AddAuthor(user)
	fc, invalidated := m.appendFileChange(next, user, target, previousVersion, lines)
	if err := m.storage.Save(ctx, next); err != nil {
		return nil, false, m.wrap("save file change", err)
	}
	*cr = *next

	saved, _ := cr.LatestFileChangeFor(target)
	m.metrics.RecordFileChange()
	m.logger.Info("file change added",
		zap.String("change_request_id", cr.ID),
		zap.String("target", target),
		zap.Int("revision", fc.Revision),
		zap.Int("invalidated_reviews", invalidated))
	m.notify(ctx, events.KindFileChangeAdded, cr.ID, user, map[string]string{
		"target":   target,
		"revision": strconv.Itoa(fc.Revision),
	})
	return saved.Clone(), true, nil
}

// appendFileChange adds the next revision of target to cr and outdates the
// reviews it supersedes.
func (m *Manager) appendFileChange(cr *models.ChangeRequest, user, target string, previousVersion int64, lines []string) (*models.FileChange, int) {
	now := m.now()
	fc := &models.FileChange{
		TargetEntity:     target,
		PreviousVersion:  previousVersion,
		ModifiedDocument: append([]string{}, lines...),
		Author:           user,
		CreationDate:     now,
	}
	cr.AddFileChange(fc)
	return fc, cr.InvalidateReviews()
}
