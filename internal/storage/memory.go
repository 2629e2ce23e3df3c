package storage

import (
	"context"
	"sync"

	"github.com/niczy/changerequest/internal/models"
)

// InMemoryStorage implements Storage interface with in-memory data structures
type InMemoryStorage struct {
	mu sync.RWMutex

	changeRequests map[string]*models.ChangeRequest // changeRequestID -> change request
	reviewIndex    map[string]string                // reviewID -> changeRequestID
}

// NewInMemoryStorage creates a new in-memory storage instance
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		changeRequests: make(map[string]*models.ChangeRequest),
		reviewIndex:    make(map[string]string),
	}
}

// Load retrieves a change request by ID
func (s *InMemoryStorage) Load(ctx context.Context, id string) (*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cr, exists := s.changeRequests[id]
	if !exists {
		return nil, ErrChangeRequestNotFound
	}

	// Return a copy to avoid race conditions
	return cr.Clone(), nil
}

// Save stores the change request if nobody saved it since it was loaded
func (s *InMemoryStorage) Save(ctx context.Context, cr *models.ChangeRequest) error {
	if cr == nil || cr.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var storedVersion int64
	if stored, exists := s.changeRequests[cr.ID]; exists {
		storedVersion = stored.Version
	}
	if storedVersion != cr.Version {
		return ErrStaleVersion
	}

	next := stamp(cr)
	s.changeRequests[next.ID] = next
	for _, r := range next.Reviews {
		s.reviewIndex[r.ID] = next.ID
	}

	*cr = *next.Clone()
	return nil
}

// SaveReview replaces a saved review inside its change request
func (s *InMemoryStorage) SaveReview(ctx context.Context, review *models.Review) error {
	if review == nil || review.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.changeRequests[review.ChangeRequestID]
	if !exists {
		return ErrChangeRequestNotFound
	}

	next, updated, err := replaceReview(stored, review)
	if err != nil {
		return err
	}
	s.changeRequests[next.ID] = next

	*review = *updated
	return nil
}

// GetReview retrieves a saved review by ID
func (s *InMemoryStorage) GetReview(ctx context.Context, reviewID string) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	crID, ok := s.reviewIndex[reviewID]
	if !ok {
		return nil, ErrReviewNotFound
	}
	review, ok := findReview(s.changeRequests[crID], reviewID)
	if !ok {
		return nil, ErrReviewNotFound
	}
	return review, nil
}

// FindTargeting returns change requests with a file change on the document
func (s *InMemoryStorage) FindTargeting(ctx context.Context, documentRef string) ([]*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.ChangeRequest{}
	for _, cr := range s.changeRequests {
		if targets(cr, documentRef) {
			result = append(result, cr.Clone())
		}
	}
	sortChangeRequests(result)
	return result, nil
}

// MatchingTitle searches change requests by title
func (s *InMemoryStorage) MatchingTitle(ctx context.Context, text string) ([]*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.ChangeRequest{}
	for _, cr := range s.changeRequests {
		if titleMatches(cr.Title, text) {
			result = append(result, cr.Clone())
		}
	}
	sortChangeRequests(result)
	return result, nil
}

// Ping checks if storage is accessible
func (s *InMemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// InMemoryDocumentStore keeps every version of every document in memory.
type InMemoryDocumentStore struct {
	mu       sync.RWMutex
	versions map[string][]*models.Document // ref -> versions, index i holds version i+1
}

// NewInMemoryDocumentStore creates an empty document store
func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{versions: make(map[string][]*models.Document)}
}

// Document returns the current version of a document
func (s *InMemoryDocumentStore) Document(ctx context.Context, ref string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.versions[ref]
	if len(history) == 0 {
		return &models.Document{Reference: ref}, nil
	}
	return history[len(history)-1].Clone(), nil
}

// DocumentAt returns a past version of a document
func (s *InMemoryDocumentStore) DocumentAt(ctx context.Context, ref string, version int64) (*models.Document, error) {
	if version == 0 {
		return &models.Document{Reference: ref}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.versions[ref]
	if version < 0 || version > int64(len(history)) {
		return nil, ErrDocumentNotFound
	}
	return history[version-1].Clone(), nil
}

// SaveDocument appends a new version when expectedVersion is still current
func (s *InMemoryDocumentStore) SaveDocument(ctx context.Context, doc *models.Document, expectedVersion int64) (*models.Document, error) {
	if doc == nil || doc.Reference == "" {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.versions[doc.Reference]
	if int64(len(history)) != expectedVersion {
		return nil, ErrStaleVersion
	}

	saved := doc.Clone()
	saved.Version = expectedVersion + 1
	s.versions[doc.Reference] = append(history, saved)
	return saved.Clone(), nil
}
