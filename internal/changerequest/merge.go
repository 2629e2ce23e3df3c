package changerequest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/merge"
	"github.com/niczy/changerequest/internal/metrics"
	"github.com/niczy/changerequest/internal/models"
)

// CanBeMerged reports whether cr is ready for review, met the approval
// threshold over its valid reviews and merges cleanly on every target.
func (m *Manager) CanBeMerged(ctx context.Context, cr *models.ChangeRequest) (bool, error) {
	if cr == nil || cr.Status != models.StatusReadyForReview || len(cr.FileChanges) == 0 {
		return false, nil
	}
	if !m.strategy.IsThresholdMet(cr, cr.ValidReviews()) {
		return false, nil
	}

	for _, target := range cr.TargetDocuments() {
		result, err := m.mergeLatest(ctx, cr, target)
		if err != nil {
			return false, err
		}
		if !result.IsClean() {
			return false, nil
		}
	}
	return true, nil
}

// IsAuthorizedToMerge reports whether user holds merge rights on cr.
func (m *Manager) IsAuthorizedToMerge(ctx context.Context, user string, cr *models.ChangeRequest) bool {
	return cr != nil && m.authz.HasCapability(ctx, user, auth.CapabilityMerge, cr)
}

// documentWrite is one document update of a merge.
type documentWrite struct {
	result *merge.Result
	lines  []string
	saved  *models.Document
}

func (w *documentWrite) target() string {
	return w.result.FileChange.TargetEntity
}

// Merge applies every target's latest file change to the live documents and
// marks cr merged. The status flips only after every document write
// succeeded; written documents are restored when a later step fails.
func (m *Manager) Merge(ctx context.Context, user string, cr *models.ChangeRequest) (bool, error) {
	start := time.Now()

	merged, err := m.merge(ctx, user, cr)
	switch {
	case errors.Is(err, ErrStaleState):
		m.metrics.RecordMerge(metrics.OutcomeStale, time.Since(start))
	case err != nil:
		m.metrics.RecordMerge(metrics.OutcomeFailed, time.Since(start))
	case !merged:
		m.metrics.RecordMerge(metrics.OutcomeRejected, time.Since(start))
	default:
		m.metrics.RecordMerge(metrics.OutcomeMerged, time.Since(start))
	}
	return merged, err
}

func (m *Manager) merge(ctx context.Context, user string, cr *models.ChangeRequest) (bool, error) {
	if !m.IsAuthorizedToMerge(ctx, user, cr) {
		return false, nil
	}
	ok, err := m.CanBeMerged(ctx, cr)
	if err != nil || !ok {
		return false, err
	}

	fresh, err := m.storage.Load(ctx, cr.ID)
	if err != nil {
		return false, m.wrap("reload change request", err)
	}
	if fresh.Version != cr.Version {
		return false, m.wrap("merge", ErrStaleState)
	}

	writes := make([]documentWrite, 0, len(fresh.TargetDocuments()))
	for _, target := range fresh.TargetDocuments() {
		result, err := m.mergeLatest(ctx, fresh, target)
		if err != nil {
			return false, err
		}
		lines, clean := result.Merged()
		if !clean {
			return false, nil
		}
		writes = append(writes, documentWrite{result: result, lines: lines})
	}

	for i := range writes {
		w := &writes[i]
		doc := &models.Document{Reference: w.target(), Lines: w.lines}
		saved, err := m.documents.SaveDocument(ctx, doc, w.result.Current.Version)
		if err != nil {
			m.restore(ctx, writes[:i])
			return false, m.wrap("write document "+w.target(), err)
		}
		w.saved = saved
	}

	next := fresh.Clone()
	next.Status = models.StatusMerged
	if err := m.storage.Save(ctx, next); err != nil {
		m.restore(ctx, writes)
		return false, m.wrap("save merged status", err)
	}
	*cr = *next

	m.metrics.RecordTransition(string(models.StatusReadyForReview), string(models.StatusMerged))
	m.logger.Info("change request merged",
		zap.String("change_request_id", cr.ID),
		zap.String("user", user),
		zap.Int("documents", len(writes)))
	m.notify(ctx, events.KindMerged, cr.ID, user, map[string]string{
		"documents": strconv.Itoa(len(writes)),
	})
	return true, nil
}

// restore puts back the content the documents had before writes, newest
// first. Failures are logged; the change request status is untouched either way.
func (m *Manager) restore(ctx context.Context, writes []documentWrite) {
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		doc := &models.Document{Reference: w.target(), Lines: w.result.Current.Lines}
		if _, err := m.documents.SaveDocument(ctx, doc, w.saved.Version); err != nil {
			m.logger.Error("failed to restore document after aborted merge",
				zap.String("document", w.target()),
				zap.Int64("version", w.saved.Version),
				zap.Error(err))
		}
	}
}

// mergeLatest merges the latest file change of target.
func (m *Manager) mergeLatest(ctx context.Context, cr *models.ChangeRequest, target string) (*merge.Result, error) {
	fc, ok := cr.LatestFileChangeFor(target)
	if !ok {
		return nil, ErrInvalidInput
	}
	result, err := m.engine.Merge(ctx, fc)
	if err != nil {
		return nil, m.wrap("merge "+target, err)
	}
	m.metrics.RecordConflicts(len(result.Conflicts))
	return result, nil
}
