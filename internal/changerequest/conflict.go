package changerequest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/merge"
	"github.com/niczy/changerequest/internal/models"
)

// GetMergeDocumentResult merges the latest file change of target against
// the live document. It returns false when cr does not modify target.
func (m *Manager) GetMergeDocumentResult(ctx context.Context, cr *models.ChangeRequest, target string) (*merge.Result, bool, error) {
	if _, ok := cr.LatestFileChangeFor(target); !ok {
		return nil, false, nil
	}
	result, err := m.mergeLatest(ctx, cr, target)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// CreateConflictDecision binds decision to the conflict named reference in
// result. custom is kept only for custom decisions.
func (m *Manager) CreateConflictDecision(result *merge.Result, reference string, decision models.DecisionType, custom []string) (models.ConflictDecision, bool) {
	if result == nil {
		return models.ConflictDecision{}, false
	}
	if _, ok := result.Conflict(reference); !ok {
		return models.ConflictDecision{}, false
	}

	d := models.ConflictDecision{Reference: reference, Type: decision}
	if decision == models.DecisionCustom {
		d.Custom = append([]string{}, custom...)
	}
	return d, true
}

// IsAuthorizedToFixConflict reports whether user may resolve conflicts of
// fc. The owning change request is looked up by id.
func (m *Manager) IsAuthorizedToFixConflict(ctx context.Context, user string, fc *models.FileChange) (bool, error) {
	if fc == nil || fc.ChangeRequestID == "" || user == "" {
		return false, nil
	}
	cr, err := m.storage.Load(ctx, fc.ChangeRequestID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, m.wrap("load change request", err)
	}
	if cr.Status.IsTerminal() {
		return false, nil
	}
	return m.authz.HasCapability(ctx, user, auth.CapabilityFixConflict, cr), nil
}

// CanFixConflict reports whether target has conflicts user may resolve.
func (m *Manager) CanFixConflict(ctx context.Context, user string, cr *models.ChangeRequest, target string) (bool, error) {
	result, ok, err := m.GetMergeDocumentResult(ctx, cr, target)
	if err != nil || !ok || result.IsClean() {
		return false, err
	}
	return m.IsAuthorizedToFixConflict(ctx, user, result.FileChange)
}

// FixConflicts recomputes the merge of target and resolves its conflicts.
// It returns false when there is nothing to fix.
func (m *Manager) FixConflicts(ctx context.Context, user string, cr *models.ChangeRequest, target string, choice models.ResolutionChoice, decisions []models.ConflictDecision) (bool, error) {
	result, ok, err := m.GetMergeDocumentResult(ctx, cr, target)
	if err != nil || !ok || result.IsClean() {
		return false, err
	}
	return m.MergeWithConflictDecision(ctx, user, cr, result, choice, decisions)
}

// MergeWithConflictDecision resolves the conflicts of result and saves the
// outcome as a new file change revision based on the live document the
// result was computed against. Decisions naming conflicts of another merge
// attempt make the resolution fail. ErrStaleState is returned when result
// is outdated by a newer file change or document version.
func (m *Manager) MergeWithConflictDecision(ctx context.Context, user string, cr *models.ChangeRequest, result *merge.Result, choice models.ResolutionChoice, decisions []models.ConflictDecision) (bool, error) {
	if result == nil || result.FileChange == nil || result.FileChange.ChangeRequestID != cr.ID || cr.Status.IsTerminal() {
		return false, nil
	}
	authorized, err := m.IsAuthorizedToFixConflict(ctx, user, result.FileChange)
	if err != nil || !authorized {
		return false, err
	}

	target := result.FileChange.TargetEntity
	latest, ok := cr.LatestFileChangeFor(target)
	if !ok {
		return false, nil
	}
	if latest.ID != result.FileChange.ID {
		return false, m.wrap("fix conflicts", ErrStaleState)
	}

	lines, ok := result.Resolve(choice, decisions)
	if !ok {
		return false, nil
	}

	current, err := m.documents.Document(ctx, target)
	if err != nil {
		return false, m.wrap("load document "+target, err)
	}
	if current.Version != result.Current.Version {
		return false, m.wrap("fix conflicts", ErrStaleState)
	}

	next := cr.Clone()
	fc, invalidated := m.appendFileChange(next, user, target, current.Version, lines)
	if err := m.storage.Save(ctx, next); err != nil {
		return false, m.wrap("save conflict fix", err)
	}
	*cr = *next

	m.metrics.RecordFileChange()
	m.logger.Info("conflicts fixed",
		zap.String("change_request_id", cr.ID),
		zap.String("target", target),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("revision", fc.Revision),
		zap.Int("invalidated_reviews", invalidated))
	m.notify(ctx, events.KindFileChangeAdded, cr.ID, user, map[string]string{
		"target":    target,
		"conflicts": "fixed",
	})
	return true, nil
}
