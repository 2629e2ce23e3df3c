package changerequest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niczy/changerequest/internal/approval"
	"github.com/niczy/changerequest/internal/merge"
	"github.com/niczy/changerequest/internal/models"
)

// conflicted sets up a change request whose home page edit conflicts three
// times with a live edit.
func conflicted(t *testing.T, f *fixture) *models.ChangeRequest {
	t.Helper()
	f.seedDocument(t, homePage, "l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8", "l9")
	cr := f.approved(t, "l1", "m2", "l3", "l4", "m5", "l6", "l7", "m8", "l9")
	f.seedDocument(t, homePage, "l1", "t2", "l3", "l4", "t5", "l6", "l7", "t8", "l9")
	return cr
}

func mergeResult(t *testing.T, f *fixture, cr *models.ChangeRequest) *merge.Result {
	t.Helper()
	result, ok, err := f.manager.GetMergeDocumentResult(context.Background(), cr, homePage)
	require.NoError(t, err)
	require.True(t, ok)
	return result
}

func TestConflictsBlockMerge(t *testing.T) {
	f := newFixture(t, approval.OnlyApproved)
	ctx := context.Background()
	cr := conflicted(t, f)

	result := mergeResult(t, f, cr)
	require.Len(t, result.Conflicts, 3)

	ok, err := f.manager.CanBeMerged(ctx, cr)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.manager.Merge(ctx, "mallory", cr)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.manager.GetMergeDocumentResult(ctx, cr, secondPage)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanFixConflict(t *testing.T) {
	f := newFixture(t, approval.OnlyApproved)
	ctx := context.Background()
	cr := conflicted(t, f)

	for user, want := range map[string]bool{"alice": true, "mallory": true, "root": true, "bob": false, "": false} {
		ok, err := f.manager.CanFixConflict(ctx, user, cr, homePage)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "user %q", user)
	}

	ok, err := f.manager.CanFixConflict(ctx, "alice", cr, secondPage)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.manager.IsAuthorizedToFixConflict(ctx, "alice", &models.FileChange{ChangeRequestID: "missing"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateConflictDecision(t *testing.T) {
	f := newFixture(t, approval.OnlyApproved)
	cr := conflicted(t, f)
	result := mergeResult(t, f, cr)
	ref := result.Conflicts[1].Reference

	d, ok := f.manager.CreateConflictDecision(result, ref, models.DecisionCustom, []string{"c5"})
	require.True(t, ok)
	assert.Equal(t, models.ConflictDecision{Reference: ref, Type: models.DecisionCustom, Custom: []string{"c5"}}, d)

	d, ok = f.manager.CreateConflictDecision(result, ref, models.DecisionCurrent, []string{"ignored"})
	require.True(t, ok)
	assert.Nil(t, d.Custom)

	_, ok = f.manager.CreateConflictDecision(result, "Main.WebHome@1#9:00000000", models.DecisionCurrent, nil)
	assert.False(t, ok)
	_, ok = f.manager.CreateConflictDecision(nil, ref, models.DecisionCurrent, nil)
	assert.False(t, ok)
}

func TestMergeWithConflictDecisionCustomAndFallback(t *testing.T) {
	f := newFixture(t, approval.OnlyApproved)
	ctx := context.Background()
	cr := conflicted(t, f)
	result := mergeResult(t, f, cr)

	custom, ok := f.manager.CreateConflictDecision(result, result.Conflicts[1].Reference, models.DecisionCustom, []string{"c5"})
	require.True(t, ok)
	decisions := []models.ConflictDecision{custom}

	ok, err := f.manager.MergeWithConflictDecision(ctx, "bob", cr, result, models.ResolutionCurrentVersion, decisions)
	require.NoError(t, err)
	assert.False(t, ok, "reviewers cannot fix conflicts")

	saves := f.storage.saves.Load()
	ok, err = f.manager.MergeWithConflictDecision(ctx, "alice", cr, result, models.ResolutionNone, decisions)
	require.NoError(t, err)
	assert.False(t, ok, "undecided conflicts without fallback")
	assert.Equal(t, saves, f.storage.saves.Load())

	ok, err = f.manager.MergeWithConflictDecision(ctx, "alice", cr, result, models.ResolutionCurrentVersion, decisions)
	require.NoError(t, err)
	require.True(t, ok)

	fixed, ok := cr.LatestFileChangeFor(homePage)
	require.True(t, ok)
	assert.Equal(t, 2, fixed.Revision)
	assert.Equal(t, int64(2), fixed.PreviousVersion)
	assert.Equal(t, []string{"l1", "t2", "l3", "l4", "c5", "l6", "l7", "t8", "l9"}, fixed.ModifiedDocument)
	assert.Empty(t, cr.ValidReviews(), "fixing conflicts outdates reviews")

	_, _, err = f.manager.AddReview(ctx, "carol", cr, true, "")
	require.NoError(t, err)
	ok, err = f.manager.CanBeMerged(ctx, cr)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.manager.Merge(ctx, "mallory", cr)
	require.NoError(t, err)
	require.True(t, ok)

	doc, err := f.docs.Document(ctx, homePage)
	require.NoError(t, err)
	assert.Equal(t, fixed.ModifiedDocument, doc.Lines)
}

func TestFixConflictsAfterDocumentAdvanced(t *testing.T) {
	f := newFixture(t, approval.OnlyApproved)
	ctx := context.Background()
	cr := conflicted(t, f)
	result := mergeResult(t, f, cr)
	decisions := []models.ConflictDecision{{Reference: result.Conflicts[0].Reference, Type: models.DecisionProposed}}

	f.seedDocument(t, homePage, "l1", "t2", "l3", "l4", "t5", "l6", "l7", "t8", "l9", "l10")

	ok, err := f.manager.MergeWithConflictDecision(ctx, "alice", cr, result, models.ResolutionCurrentVersion, decisions)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStaleState)

	ok, err = f.manager.FixConflicts(ctx, "alice", cr, homePage, models.ResolutionCurrentVersion, decisions)
	require.NoError(t, err)
	assert.False(t, ok, "decisions of an outdated merge do not apply")

	ok, err = f.manager.FixConflicts(ctx, "alice", cr, homePage, models.ResolutionChangeRequestVersion, nil)
	require.NoError(t, err)
	require.True(t, ok)

	fixed, _ := cr.LatestFileChangeFor(homePage)
	assert.Equal(t, int64(3), fixed.PreviousVersion)
	assert.Equal(t, []string{"l1", "m2", "l3", "l4", "m5", "l6", "l7", "m8", "l9", "l10"}, fixed.ModifiedDocument)

	ok, err = f.manager.FixConflicts(ctx, "alice", cr, homePage, models.ResolutionChangeRequestVersion, nil)
	require.NoError(t, err)
	assert.False(t, ok, "nothing left to fix")
}

func TestMergeWithConflictDecisionSupersededFileChange(t *testing.T) {
	f := newFixture(t, approval.OnlyApproved)
	ctx := context.Background()
	cr := conflicted(t, f)
	result := mergeResult(t, f, cr)

	_, ok, err := f.manager.AddFileChange(ctx, "alice", cr, homePage, 2, []string{"rewritten"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.manager.MergeWithConflictDecision(ctx, "alice", cr, result, models.ResolutionCurrentVersion, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStaleState)
}
