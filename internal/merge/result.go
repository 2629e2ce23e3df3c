package merge

import "github.com/niczy/changerequest/internal/models"

// Result is the outcome of merging one file change.
type Result struct {
	FileChange *models.FileChange
	// Base is the document version the file change was computed against.
	Base *models.Document
	// Current is the live document the merge was computed against.
	Current   *models.Document
	Conflicts []*models.Conflict

	segments []segment
}

// IsClean reports whether the merge has no conflicts.
func (r *Result) IsClean() bool {
	return len(r.Conflicts) == 0
}

// Merged returns the merged content of a clean merge.
func (r *Result) Merged() ([]string, bool) {
	if !r.IsClean() {
		return nil, false
	}
	return r.Resolve(models.ResolutionNone, nil)
}

// Conflict looks up a conflict by reference.
func (r *Result) Conflict(ref string) (*models.Conflict, bool) {
	for _, c := range r.Conflicts {
		if c.Reference == ref {
			return c, true
		}
	}
	return nil, false
}

// Resolve builds the merged content using decisions and falling back to
// choice for conflicts that are undecided. It fails when a decision names an
// unknown conflict or a conflict is left without any resolution. When several
// decisions name the same conflict the last one wins.
func (r *Result) Resolve(choice models.ResolutionChoice, decisions []models.ConflictDecision) ([]string, bool) {
	byRef := make(map[string]models.ConflictDecision, len(decisions))
	for _, d := range decisions {
		if _, ok := r.Conflict(d.Reference); !ok {
			return nil, false
		}
		byRef[d.Reference] = d
	}

	out := []string{}
	for _, seg := range r.segments {
		if seg.conflict == nil {
			out = append(out, seg.lines...)
			continue
		}
		lines, ok := decide(seg.conflict, byRef[seg.conflict.Reference], choice)
		if !ok {
			return nil, false
		}
		out = append(out, lines...)
	}
	return out, true
}

func decide(c *models.Conflict, d models.ConflictDecision, choice models.ResolutionChoice) ([]string, bool) {
	switch d.Type {
	case models.DecisionOriginal:
		return c.Original, true
	case models.DecisionCurrent:
		return c.Current, true
	case models.DecisionProposed:
		return c.Proposed, true
	case models.DecisionCustom:
		return d.Custom, true
	}

	switch choice {
	case models.ResolutionChangeRequestVersion:
		return c.Proposed, true
	case models.ResolutionCurrentVersion:
		return c.Current, true
	default:
		return nil, false
	}
}
