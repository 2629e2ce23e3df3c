package models

import "time"

// Review is one author's decision on a change request.
type Review struct {
	ID              string    `json:"id,omitempty"`
	ChangeRequestID string    `json:"change_request_id"`
	Author          string    `json:"author"`
	Approved        bool      `json:"approved"`
	Comment         string    `json:"comment,omitempty"`
	ReviewDate      time.Time `json:"review_date"`
	Valid           bool      `json:"valid"`
	New             bool      `json:"new"`
	Saved           bool      `json:"saved"`
	Version         int64     `json:"version"`
}

// NewReview creates an unsaved, valid review on the given change request.
func NewReview(cr *ChangeRequest, approved bool, author string, at time.Time) *Review {
	return &Review{
		ChangeRequestID: cr.ID,
		Author:          author,
		Approved:        approved,
		ReviewDate:      at,
		Valid:           true,
		New:             true,
	}
}

// CloneWithChangeRequest binds a copy of the review to another change request.
// The copy keeps author, decision, validity, date and comment but is always
// new and unsaved, so it carries no id or version.
func (r *Review) CloneWithChangeRequest(cr *ChangeRequest) *Review {
	return &Review{
		ChangeRequestID: cr.ID,
		Author:          r.Author,
		Approved:        r.Approved,
		Comment:         r.Comment,
		ReviewDate:      r.ReviewDate,
		Valid:           r.Valid,
		New:             true,
		Saved:           false,
	}
}
