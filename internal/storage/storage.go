package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/niczy/changerequest/internal/models"
)

var (
	ErrChangeRequestNotFound = errors.New("change request not found")
	ErrReviewNotFound        = errors.New("review not found")
	ErrDocumentNotFound      = errors.New("document version not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrEntryNotFound         = errors.New("entry not found")

	// ErrStaleVersion is returned when the persisted version changed since the
	// entity was loaded. Callers must reload and re-evaluate.
	ErrStaleVersion = errors.New("stale version")
)

// Storage persists change requests as aggregates. FileChanges and Reviews are
// saved together with their owning change request, so a single Save is atomic.
type Storage interface {
	// Load returns a copy of the stored change request.
	Load(ctx context.Context, id string) (*models.ChangeRequest, error)
	// Save writes cr if its Version matches the stored one, assigns ids to new
	// file changes and reviews and increments the version. cr is updated in
	// place only on success.
	Save(ctx context.Context, cr *models.ChangeRequest) error
	// SaveReview writes the validity of an already saved review if its Version
	// matches and bumps the owning change request version in the same commit.
	// Author, decision and comment are kept from the stored review.
	SaveReview(ctx context.Context, review *models.Review) error
	GetReview(ctx context.Context, reviewID string) (*models.Review, error)
	FindTargeting(ctx context.Context, documentRef string) ([]*models.ChangeRequest, error)
	MatchingTitle(ctx context.Context, text string) ([]*models.ChangeRequest, error)

	// Health check
	Ping(ctx context.Context) error
}

// DocumentStore holds the live wiki documents and their history.
type DocumentStore interface {
	// Document returns the current state; a missing document has Version 0.
	Document(ctx context.Context, ref string) (*models.Document, error)
	// DocumentAt returns the document as it was at version.
	DocumentAt(ctx context.Context, ref string, version int64) (*models.Document, error)
	// SaveDocument writes a new version if the current one equals expectedVersion.
	SaveDocument(ctx context.Context, doc *models.Document, expectedVersion int64) (*models.Document, error)
}

// stamp returns the copy of cr that is persisted by a successful save.
func stamp(cr *models.ChangeRequest) *models.ChangeRequest {
	next := cr.Clone()
	next.Version = cr.Version + 1
	for _, fc := range next.FileChanges {
		if fc.ID == "" {
			fc.ID = uuid.NewString()
		}
		fc.ChangeRequestID = next.ID
		fc.Saved = true
	}
	for _, r := range next.Reviews {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.ChangeRequestID = next.ID
		if !r.Saved {
			r.Saved = true
			r.New = false
			r.Version++
		}
	}
	return next
}

// replaceReview applies the validity of review onto the stored copy,
// checking the review version. Author, decision and comment are immutable.
func replaceReview(stored *models.ChangeRequest, review *models.Review) (*models.ChangeRequest, *models.Review, error) {
	next := stored.Clone()
	for i, existing := range next.Reviews {
		if existing.ID != review.ID {
			continue
		}
		if existing.Version != review.Version {
			return nil, nil, ErrStaleVersion
		}
		updated := *existing
		updated.Valid = review.Valid
		updated.ChangeRequestID = next.ID
		updated.Saved = true
		updated.New = false
		updated.Version = existing.Version + 1
		next.Reviews[i] = &updated
		next.Version = stored.Version + 1
		return next, &updated, nil
	}
	return nil, nil, ErrReviewNotFound
}

func findReview(cr *models.ChangeRequest, reviewID string) (*models.Review, bool) {
	for _, r := range cr.Reviews {
		if r.ID == reviewID {
			copyReview := *r
			return &copyReview, true
		}
	}
	return nil, false
}

func targets(cr *models.ChangeRequest, ref string) bool {
	_, ok := cr.LatestFileChangeFor(ref)
	return ok
}

// titleMatches checks if title contains text (case-insensitive)
func titleMatches(title, text string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(text))
}

func sortChangeRequests(crs []*models.ChangeRequest) {
	sort.Slice(crs, func(i, j int) bool {
		if crs[i].CreationDate.Equal(crs[j].CreationDate) {
			return crs[i].ID < crs[j].ID
		}
		return crs[i].CreationDate.Before(crs[j].CreationDate)
	})
}
