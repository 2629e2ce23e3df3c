package merge

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/niczy/changerequest/internal/models"
	"github.com/niczy/changerequest/internal/storage"
)

// Engine merges file changes against the live documents of a DocumentStore.
type Engine struct {
	docs storage.DocumentStore
}

// NewEngine creates a merge engine reading from docs.
func NewEngine(docs storage.DocumentStore) *Engine {
	return &Engine{docs: docs}
}

// Merge computes the three-way merge of fc against the current state of its
// target document. A document that did not change since fc was computed
// merges cleanly to fc's content.
func (e *Engine) Merge(ctx context.Context, fc *models.FileChange) (*Result, error) {
	if fc == nil || fc.TargetEntity == "" {
		return nil, storage.ErrInvalidInput
	}

	current, err := e.docs.Document(ctx, fc.TargetEntity)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", fc.TargetEntity, err)
	}

	result := &Result{FileChange: fc, Current: current}
	if current.Version == fc.PreviousVersion {
		result.Base = current
		result.segments = []segment{{lines: append([]string{}, fc.ModifiedDocument...)}}
		return result, nil
	}

	base, err := e.docs.DocumentAt(ctx, fc.TargetEntity, fc.PreviousVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s at version %d: %w", fc.TargetEntity, fc.PreviousVersion, err)
	}
	result.Base = base

	result.segments = threeWay(base.Lines, fc.ModifiedDocument, current.Lines)
	for _, seg := range result.segments {
		if seg.conflict == nil {
			continue
		}
		seg.conflict.Index = len(result.Conflicts)
		seg.conflict.Reference = conflictReference(current, seg.conflict)
		result.Conflicts = append(result.Conflicts, seg.conflict)
	}
	return result, nil
}

// conflictReference names a conflict by target, live version, position and
// content so that a reference never matches a conflict of another merge.
func conflictReference(current *models.Document, c *models.Conflict) string {
	h := fnv.New32a()
	for _, side := range [][]string{c.Original, c.Current, c.Proposed} {
		for _, line := range side {
			h.Write([]byte(line))
			h.Write([]byte{'\n'})
		}
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s@%d#%d:%08x", current.Reference, current.Version, c.Index, h.Sum32())
}
