// Package changerequest orchestrates the change request lifecycle: status
// transitions, reviews, conflict fixing and merging.
//
// Manager methods take the acting user explicitly and return false with a
// nil error for policy and authorization denials. Mutating methods take the
// caller's loaded change request as the optimistic concurrency token: they
// fail with ErrStaleState when it was saved by someone else meanwhile, and
// update it in place on success.
package changerequest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/niczy/changerequest/internal/approval"
	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/events"
	"github.com/niczy/changerequest/internal/merge"
	"github.com/niczy/changerequest/internal/metrics"
	"github.com/niczy/changerequest/internal/models"
	"github.com/niczy/changerequest/internal/storage"
)

// Manager implements the change request operations on top of its
// collaborators.
type Manager struct {
	storage   storage.Storage
	documents storage.DocumentStore
	engine    *merge.Engine
	strategy  approval.Strategy
	authz     auth.Authorizer
	notifier  events.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the event notifier.
func WithNotifier(n events.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager.
func NewManager(st storage.Storage, docs storage.DocumentStore, strategy approval.Strategy, authz auth.Authorizer, opts ...Option) *Manager {
	m := &Manager{
		storage:   st,
		documents: docs,
		engine:    merge.NewEngine(docs),
		strategy:  strategy,
		authz:     authz,
		notifier:  events.NopNotifier{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MergeApprovalStrategy returns the active approval strategy.
func (m *Manager) MergeApprovalStrategy() approval.Strategy {
	return m.strategy
}

// GetChangeRequest loads a change request.
func (m *Manager) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	cr, err := m.storage.Load(ctx, id)
	if err != nil {
		return nil, m.wrap("load change request", err)
	}
	return cr, nil
}

// Create starts a new draft change request authored by user.
func (m *Manager) Create(ctx context.Context, user, title, description string) (*models.ChangeRequest, error) {
	if user == "" || title == "" {
		return nil, ErrInvalidInput
	}

	cr := &models.ChangeRequest{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Status:       models.StatusDraft,
		Authors:      []string{user},
		CreationDate: m.now(),
	}
	if err := m.storage.Save(ctx, cr); err != nil {
		return nil, m.wrap("create change request", err)
	}

	m.logger.Info("change request created",
		zap.String("change_request_id", cr.ID),
		zap.String("user", user))
	return cr, nil
}

// FindTargeting lists the change requests with a file change on documentRef.
func (m *Manager) FindTargeting(ctx context.Context, documentRef string) ([]*models.ChangeRequest, error) {
	crs, err := m.storage.FindTargeting(ctx, documentRef)
	if err != nil {
		return nil, m.wrap("find targeting", err)
	}
	return crs, nil
}

// FindMatchingTitle lists the change requests whose title contains text.
func (m *Manager) FindMatchingTitle(ctx context.Context, text string) ([]*models.ChangeRequest, error) {
	crs, err := m.storage.MatchingTitle(ctx, text)
	if err != nil {
		return nil, m.wrap("find matching title", err)
	}
	return crs, nil
}

// GetChangedDocuments lists the documents cr modifies.
func (m *Manager) GetChangedDocuments(cr *models.ChangeRequest) []string {
	return cr.TargetDocuments()
}

// GetModifiedDocument returns the proposed content of target.
func (m *Manager) GetModifiedDocument(cr *models.ChangeRequest, target string) ([]string, bool) {
	fc, ok := cr.LatestFileChangeFor(target)
	if !ok {
		return nil, false
	}
	return append([]string{}, fc.ModifiedDocument...), true
}

// GetApprovers returns the designated approvers of cr.
func (m *Manager) GetApprovers(cr *models.ChangeRequest) []string {
	return append([]string{}, cr.Approvers...)
}

// SetApprovers replaces the designated approvers.
func (m *Manager) SetApprovers(ctx context.Context, user string, cr *models.ChangeRequest, approvers []string) (bool, error) {
	if cr.Status.IsTerminal() || !m.authz.HasCapability(ctx, user, auth.CapabilityEdit, cr) {
		return false, nil
	}

	next := cr.Clone()
	next.Approvers = dedupe(approvers)
	if err := m.storage.Save(ctx, next); err != nil {
		return false, m.wrap("save approvers", err)
	}
	*cr = *next

	m.notify(ctx, events.KindApproversUpdated, cr.ID, user, nil)
	return true, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := []string{}
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// notify publishes an event. Delivery failures are logged only.
func (m *Manager) notify(ctx context.Context, kind events.Kind, changeRequestID, user string, data map[string]string) {
	event := events.Event{
		Kind:            kind,
		ChangeRequestID: changeRequestID,
		User:            user,
		Time:            m.now(),
		Data:            data,
	}
	if err := m.notifier.Notify(ctx, event); err != nil {
		m.logger.Warn("failed to publish event",
			zap.String("kind", string(kind)),
			zap.String("change_request_id", changeRequestID),
			zap.Error(err))
	}
}
