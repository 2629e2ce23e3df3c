package models

import "time"

// Status represents the lifecycle state of a change request
type Status string

const (
	StatusDraft          Status = "draft"
	StatusReadyForReview Status = "ready_for_review"
	StatusMerged         Status = "merged"
	StatusClosed         Status = "closed"
)

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusMerged || s == StatusClosed
}

// ChangeRequest bundles proposed edits to a set of wiki documents together
// with the reviews made on them.
type ChangeRequest struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       Status        `json:"status"`
	Authors      []string      `json:"authors"`
	Approvers    []string      `json:"approvers,omitempty"`
	FileChanges  []*FileChange `json:"file_changes"`
	Reviews      []*Review     `json:"reviews"`
	CreationDate time.Time     `json:"creation_date"`

	// Version is owned by storage and incremented on every successful save.
	Version int64 `json:"version"`
}

// FileChange is one proposed revision of one target document.
type FileChange struct {
	ID               string    `json:"id"`
	ChangeRequestID  string    `json:"change_request_id"`
	TargetEntity     string    `json:"target_entity"`
	Revision         int       `json:"revision"`
	PreviousVersion  int64     `json:"previous_version"`
	ModifiedDocument []string  `json:"modified_document"`
	Author           string    `json:"author"`
	CreationDate     time.Time `json:"creation_date"`
	Saved            bool      `json:"saved"`
}

// IsAuthor reports whether user is one of the change request authors.
func (cr *ChangeRequest) IsAuthor(user string) bool {
	if user == "" {
		return false
	}
	for _, author := range cr.Authors {
		if author == user {
			return true
		}
	}
	return false
}

// AddAuthor records user as an author if not already present.
func (cr *ChangeRequest) AddAuthor(user string) {
	if user == "" || cr.IsAuthor(user) {
		return
	}
	cr.Authors = append(cr.Authors, user)
}

// FileChangesFor returns the revisions targeting ref in insertion order.
func (cr *ChangeRequest) FileChangesFor(ref string) []*FileChange {
	var result []*FileChange
	for _, fc := range cr.FileChanges {
		if fc.TargetEntity == ref {
			result = append(result, fc)
		}
	}
	return result
}

// LatestFileChangeFor returns the highest revision targeting ref.
func (cr *ChangeRequest) LatestFileChangeFor(ref string) (*FileChange, bool) {
	var latest *FileChange
	for _, fc := range cr.FileChanges {
		if fc.TargetEntity != ref {
			continue
		}
		if latest == nil || fc.Revision > latest.Revision {
			latest = fc
		}
	}
	return latest, latest != nil
}

// TargetDocuments lists every targeted document once, in first-appearance order.
func (cr *ChangeRequest) TargetDocuments() []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, fc := range cr.FileChanges {
		if _, ok := seen[fc.TargetEntity]; ok {
			continue
		}
		seen[fc.TargetEntity] = struct{}{}
		refs = append(refs, fc.TargetEntity)
	}
	return refs
}

// AddFileChange appends fc as the next revision for its target.
func (cr *ChangeRequest) AddFileChange(fc *FileChange) {
	fc.ChangeRequestID = cr.ID
	fc.Revision = 1
	if latest, ok := cr.LatestFileChangeFor(fc.TargetEntity); ok {
		fc.Revision = latest.Revision + 1
	}
	cr.FileChanges = append(cr.FileChanges, fc)
}

// ValidReviews returns the reviews that still apply to the current tip.
func (cr *ChangeRequest) ValidReviews() []*Review {
	var result []*Review
	for _, r := range cr.Reviews {
		if r.Valid {
			result = append(result, r)
		}
	}
	return result
}

// InvalidateReviews marks every currently valid review as no longer valid.
// Callers invoke it while adding a revision, so every existing review
// predates that revision. Changed reviews become unsaved so the next save
// persists them. It returns the number of reviews that changed.
func (cr *ChangeRequest) InvalidateReviews() int {
	changed := 0
	for _, r := range cr.Reviews {
		if r.Valid {
			r.Valid = false
			r.Saved = false
			changed++
		}
	}
	return changed
}

// Clone returns a deep copy of the change request.
func (cr *ChangeRequest) Clone() *ChangeRequest {
	copyCR := *cr
	copyCR.Authors = append([]string(nil), cr.Authors...)
	copyCR.Approvers = append([]string(nil), cr.Approvers...)
	copyCR.FileChanges = make([]*FileChange, 0, len(cr.FileChanges))
	for _, fc := range cr.FileChanges {
		copyCR.FileChanges = append(copyCR.FileChanges, fc.Clone())
	}
	copyCR.Reviews = make([]*Review, 0, len(cr.Reviews))
	for _, r := range cr.Reviews {
		copyReview := *r
		copyCR.Reviews = append(copyCR.Reviews, &copyReview)
	}
	return &copyCR
}

// Clone returns a deep copy of the file change.
func (fc *FileChange) Clone() *FileChange {
	copyFC := *fc
	copyFC.ModifiedDocument = append([]string(nil), fc.ModifiedDocument...)
	return &copyFC
}
