package models

// DecisionType selects which side of a conflict is kept.
type DecisionType string

const (
	DecisionUndecided DecisionType = "undecided"
	// DecisionOriginal keeps the content both sides started from.
	DecisionOriginal DecisionType = "original"
	// DecisionCurrent keeps the live document content.
	DecisionCurrent DecisionType = "current"
	// DecisionProposed keeps the change request content.
	DecisionProposed DecisionType = "proposed"
	DecisionCustom   DecisionType = "custom"
)

// ResolutionChoice is the fallback applied to conflicts without a decision.
// The zero value provides no fallback.
type ResolutionChoice string

const (
	ResolutionNone                 ResolutionChoice = ""
	ResolutionChangeRequestVersion ResolutionChoice = "change_request_version"
	ResolutionCurrentVersion       ResolutionChoice = "current_version"
)

// Conflict is a region of a three-way merge that could not be merged automatically.
type Conflict struct {
	Reference string   `json:"reference"`
	Index     int      `json:"index"`
	Original  []string `json:"original"`
	Current   []string `json:"current"`
	Proposed  []string `json:"proposed"`
}

// ConflictDecision binds a decision to exactly one conflict through its reference.
type ConflictDecision struct {
	Reference string       `json:"reference"`
	Type      DecisionType `json:"type"`
	Custom    []string     `json:"custom,omitempty"`
}
