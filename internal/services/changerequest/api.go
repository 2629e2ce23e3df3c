package changerequestservice

import "github.com/niczy/changerequest/internal/models"

// Version fields carry the version the caller last saw. Zero skips the check.

type GetChangeRequestRequest struct {
	ID string `json:"id"`
}

type ChangeRequestResponse struct {
	ChangeRequest *models.ChangeRequest `json:"change_request"`
}

type CreateChangeRequestRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type AddFileChangeRequest struct {
	ChangeRequestID string   `json:"change_request_id"`
	Version         int64    `json:"version"`
	Target          string   `json:"target"`
	PreviousVersion int64    `json:"previous_version"`
	Lines           []string `json:"lines"`
}

type AddFileChangeResponse struct {
	Allowed       bool                  `json:"allowed"`
	FileChange    *models.FileChange    `json:"file_change,omitempty"`
	ChangeRequest *models.ChangeRequest `json:"change_request"`
}

type SetStatusRequest struct {
	ChangeRequestID string        `json:"change_request_id"`
	Version         int64         `json:"version"`
	Status          models.Status `json:"status"`
}

type SetStatusResponse struct {
	Allowed       bool                  `json:"allowed"`
	ChangeRequest *models.ChangeRequest `json:"change_request"`
}

type AddReviewRequest struct {
	ChangeRequestID string `json:"change_request_id"`
	Version         int64  `json:"version"`
	Approved        bool   `json:"approved"`
	Comment         string `json:"comment"`
}

type AddReviewResponse struct {
	Allowed bool           `json:"allowed"`
	Review  *models.Review `json:"review,omitempty"`
}

type SetReviewValidityRequest struct {
	ReviewID string `json:"review_id"`
	// Version is the review version.
	Version int64 `json:"version"`
	Valid   bool  `json:"valid"`
}

type SetReviewValidityResponse struct {
	Allowed bool           `json:"allowed"`
	Review  *models.Review `json:"review,omitempty"`
}

type CanBeMergedRequest struct {
	ChangeRequestID string `json:"change_request_id"`
}

type CanBeMergedResponse struct {
	Mergeable  bool   `json:"mergeable"`
	Authorized bool   `json:"authorized"`
	Strategy   string `json:"strategy"`
}

type MergeRequest struct {
	ChangeRequestID string `json:"change_request_id"`
	Version         int64  `json:"version"`
}

type MergeResponse struct {
	Merged        bool                  `json:"merged"`
	ChangeRequest *models.ChangeRequest `json:"change_request"`
}

type GetMergeResultRequest struct {
	ChangeRequestID string `json:"change_request_id"`
	Target          string `json:"target"`
}

type GetMergeResultResponse struct {
	Clean          bool               `json:"clean"`
	CurrentVersion int64              `json:"current_version"`
	Conflicts      []*models.Conflict `json:"conflicts"`
	Merged         []string           `json:"merged,omitempty"`
}

type FixConflictsRequest struct {
	ChangeRequestID string                    `json:"change_request_id"`
	Version         int64                     `json:"version"`
	Target          string                    `json:"target"`
	Choice          models.ResolutionChoice   `json:"choice"`
	Decisions       []models.ConflictDecision `json:"decisions"`
}

type FixConflictsResponse struct {
	Fixed         bool                  `json:"fixed"`
	ChangeRequest *models.ChangeRequest `json:"change_request"`
}

type GetDocumentRequest struct {
	Reference string `json:"reference"`
}

type SaveDocumentRequest struct {
	Reference       string   `json:"reference"`
	ExpectedVersion int64    `json:"expected_version"`
	Lines           []string `json:"lines"`
}

type DocumentResponse struct {
	Document *models.Document `json:"document"`
}
