package merge

import (
	"context"
	"testing"

	"github.com/niczy/changerequest/internal/models"
	"github.com/niczy/changerequest/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = "Main.WebHome"

// seed writes each content as the next version of target.
func seed(t *testing.T, docs storage.DocumentStore, contents ...[]string) {
	t.Helper()
	ctx := context.Background()
	for i, lines := range contents {
		_, err := docs.SaveDocument(ctx, &models.Document{Reference: target, Lines: lines}, int64(i))
		require.NoError(t, err)
	}
}

func fileChange(previous int64, lines ...string) *models.FileChange {
	return &models.FileChange{
		TargetEntity:     target,
		PreviousVersion:  previous,
		ModifiedDocument: lines,
	}
}

func TestMergeUnchangedDocumentIsClean(t *testing.T) {
	docs := storage.NewInMemoryDocumentStore()
	seed(t, docs, []string{"a", "b"})

	result, err := NewEngine(docs).Merge(context.Background(), fileChange(1, "a", "B", "c"))
	require.NoError(t, err)

	assert.True(t, result.IsClean())
	merged, ok := result.Merged()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "B", "c"}, merged)
	assert.Equal(t, int64(1), result.Current.Version)
}

func TestMergeNonOverlappingEdits(t *testing.T) {
	docs := storage.NewInMemoryDocumentStore()
	seed(t, docs,
		[]string{"a", "b", "c", "d"},
		[]string{"a", "b", "c", "D"},
	)

	result, err := NewEngine(docs).Merge(context.Background(), fileChange(1, "a", "B", "c", "d"))
	require.NoError(t, err)

	require.True(t, result.IsClean())
	merged, ok := result.Merged()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "B", "c", "D"}, merged)
	assert.Equal(t, int64(1), result.Base.Version)
	assert.Equal(t, int64(2), result.Current.Version)
}

func TestMergeLinesContainingNewlines(t *testing.T) {
	docs := storage.NewInMemoryDocumentStore()
	seed(t, docs,
		[]string{"a", "b"},
		[]string{"a", "B"},
	)

	result, err := NewEngine(docs).Merge(context.Background(), fileChange(1, "x\ny", "b"))
	require.NoError(t, err)

	require.True(t, result.IsClean())
	merged, ok := result.Merged()
	require.True(t, ok)
	assert.Equal(t, []string{"x\ny", "B"}, merged)
}

func TestLineEditsCountElementsNotNewlines(t *testing.T) {
	edits := lineEdits([]string{"a", "b\nc", "d"}, []string{"a", "b\nc", "e\nf\ng", "d"})
	require.Len(t, edits, 1)
	assert.Equal(t, edit{start: 2, end: 2, lines: []string{"e\nf\ng"}}, edits[0])
}

func TestMergeIdenticalEditsAreClean(t *testing.T) {
	docs := storage.NewInMemoryDocumentStore()
	seed(t, docs,
		[]string{"a", "b", "c"},
		[]string{"a", "x", "c"},
	)

	result, err := NewEngine(docs).Merge(context.Background(), fileChange(1, "a", "x", "c", "tail"))
	require.NoError(t, err)

	merged, ok := result.Merged()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "x", "c", "tail"}, merged)
}

func TestMergeInsertionsAndDeletions(t *testing.T) {
	docs := storage.NewInMemoryDocumentStore()
	seed(t, docs,
		[]string{"one", "two", "three", "four", "five"},
		[]string{"zero", "one", "two", "three", "four", "five"},
	)

	result, err := NewEngine(docs).Merge(context.Background(), fileChange(1, "one", "two", "four", "five", "six"))
	require.NoError(t, err)

	merged, ok := result.Merged()
	require.True(t, ok)
	assert.Equal(t, []string{"zero", "one", "two", "four", "five", "six"}, merged)
}

func TestMergeNewDocument(t *testing.T) {
	docs := storage.NewInMemoryDocumentStore()

	result, err := NewEngine(docs).Merge(context.Background(), fileChange(0, "hello"))
	require.NoError(t, err)

	merged, ok := result.Merged()
	require.True(t, ok)
	assert.Equal(t, []string{"hello"}, merged)
	assert.Equal(t, int64(0), result.Current.Version)
}

func threeConflicts(t *testing.T) *Result {
	t.Helper()
	docs := storage.NewInMemoryDocumentStore()
	seed(t, docs,
		[]string{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8", "l9"},
		[]string{"l1", "t2", "l3", "l4", "t5", "l6", "l7", "t8", "l9"},
	)

	result, err := NewEngine(docs).Merge(context.Background(),
		fileChange(1, "l1", "m2", "l3", "l4", "m5", "l6", "l7", "m8", "l9"))
	require.NoError(t, err)
	return result
}

func TestMergeReportsConflicts(t *testing.T) {
	result := threeConflicts(t)

	require.Len(t, result.Conflicts, 3)
	assert.False(t, result.IsClean())
	_, ok := result.Merged()
	assert.False(t, ok)

	second := result.Conflicts[1]
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, []string{"l5"}, second.Original)
	assert.Equal(t, []string{"t5"}, second.Current)
	assert.Equal(t, []string{"m5"}, second.Proposed)
	assert.Contains(t, second.Reference, target+"@2#1:")

	seen := map[string]bool{}
	for _, c := range result.Conflicts {
		assert.False(t, seen[c.Reference], "duplicate reference %s", c.Reference)
		seen[c.Reference] = true
	}
}

func TestMergeReferencesAreDeterministic(t *testing.T) {
	first := threeConflicts(t)
	second := threeConflicts(t)

	for i := range first.Conflicts {
		assert.Equal(t, first.Conflicts[i].Reference, second.Conflicts[i].Reference)
	}
}

func TestResolveWithCustomDecisionAndFallback(t *testing.T) {
	result := threeConflicts(t)

	decisions := []models.ConflictDecision{{
		Reference: result.Conflicts[1].Reference,
		Type:      models.DecisionCustom,
		Custom:    []string{"c5"},
	}}

	merged, ok := result.Resolve(models.ResolutionCurrentVersion, decisions)
	require.True(t, ok)
	assert.Equal(t, []string{"l1", "t2", "l3", "l4", "c5", "l6", "l7", "t8", "l9"}, merged)

	merged, ok = result.Resolve(models.ResolutionChangeRequestVersion, decisions)
	require.True(t, ok)
	assert.Equal(t, []string{"l1", "m2", "l3", "l4", "c5", "l6", "l7", "m8", "l9"}, merged)
}

func TestResolveDecisionTypes(t *testing.T) {
	result := threeConflicts(t)

	decisions := []models.ConflictDecision{
		{Reference: result.Conflicts[0].Reference, Type: models.DecisionOriginal},
		{Reference: result.Conflicts[1].Reference, Type: models.DecisionProposed},
		{Reference: result.Conflicts[2].Reference, Type: models.DecisionCurrent},
	}

	merged, ok := result.Resolve(models.ResolutionNone, decisions)
	require.True(t, ok)
	assert.Equal(t, []string{"l1", "l2", "l3", "l4", "m5", "l6", "l7", "t8", "l9"}, merged)
}

func TestResolveFailures(t *testing.T) {
	result := threeConflicts(t)

	t.Run("no fallback for undecided conflicts", func(t *testing.T) {
		decisions := []models.ConflictDecision{
			{Reference: result.Conflicts[0].Reference, Type: models.DecisionCurrent},
			{Reference: result.Conflicts[1].Reference, Type: models.DecisionUndecided},
		}
		_, ok := result.Resolve(models.ResolutionNone, decisions)
		assert.False(t, ok)
	})

	t.Run("unknown reference", func(t *testing.T) {
		decisions := []models.ConflictDecision{
			{Reference: target + "@1#0:deadbeef", Type: models.DecisionCurrent},
		}
		_, ok := result.Resolve(models.ResolutionCurrentVersion, decisions)
		assert.False(t, ok)
	})
}

func TestResolveLastDecisionWins(t *testing.T) {
	result := threeConflicts(t)
	ref := result.Conflicts[0].Reference

	merged, ok := result.Resolve(models.ResolutionCurrentVersion, []models.ConflictDecision{
		{Reference: ref, Type: models.DecisionProposed},
		{Reference: ref, Type: models.DecisionOriginal},
	})
	require.True(t, ok)
	assert.Equal(t, "l2", merged[1])
}

func TestMergeRejectsInvalidFileChange(t *testing.T) {
	_, err := NewEngine(storage.NewInMemoryDocumentStore()).Merge(context.Background(), &models.FileChange{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
