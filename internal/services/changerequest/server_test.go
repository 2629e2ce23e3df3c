package changerequestservice

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/niczy/changerequest/internal/approval"
	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/changerequest"
	"github.com/niczy/changerequest/internal/models"
	"github.com/niczy/changerequest/internal/storage"
)

const page = "Main.WebHome"

func startServer(t *testing.T) *Client {
	t.Helper()

	docs := storage.NewInMemoryDocumentStore()
	strategy, err := approval.New(approval.OnlyApproved, 1)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	manager := changerequest.NewManager(
		storage.NewInMemoryStorage(), docs, strategy,
		auth.NewPolicyAuthorizer(auth.Policy{Mergers: []string{"mallory"}}),
		changerequest.WithLogger(logger),
	)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(manager, docs, logger)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn, "alice")
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, status.Code(err), "error: %v", err)
}

func TestChangeRequestLifecycleOverGRPC(t *testing.T) {
	ctx := context.Background()
	alice := startServer(t)
	bob := alice.As("bob")
	mallory := alice.As("mallory")

	doc, err := alice.SaveDocument(ctx, page, 0, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	cr, err := alice.CreateChangeRequest(ctx, "Greet everyone", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, cr.Status)

	added, err := alice.AddFileChange(ctx, &AddFileChangeRequest{
		ChangeRequestID: cr.ID,
		Version:         cr.Version,
		Target:          page,
		PreviousVersion: doc.Version,
		Lines:           []string{"hello", "everyone"},
	})
	require.NoError(t, err)
	require.True(t, added.Allowed)
	assert.Equal(t, 1, added.FileChange.Revision)

	denied, err := bob.SetStatus(ctx, &SetStatusRequest{ChangeRequestID: cr.ID, Status: models.StatusReadyForReview})
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	ready, err := alice.SetStatus(ctx, &SetStatusRequest{ChangeRequestID: cr.ID, Status: models.StatusReadyForReview})
	require.NoError(t, err)
	require.True(t, ready.Allowed)

	reviewed, err := bob.AddReview(ctx, &AddReviewRequest{ChangeRequestID: cr.ID, Approved: true, Comment: "ship it"})
	require.NoError(t, err)
	require.True(t, reviewed.Allowed)

	check, err := mallory.CanBeMerged(ctx, cr.ID)
	require.NoError(t, err)
	assert.True(t, check.Mergeable)
	assert.True(t, check.Authorized)
	assert.Equal(t, approval.OnlyApproved, check.Strategy)

	_, err = mallory.Merge(ctx, &MergeRequest{ChangeRequestID: cr.ID, Version: cr.Version})
	requireCode(t, err, codes.Aborted)

	merged, err := mallory.Merge(ctx, &MergeRequest{ChangeRequestID: cr.ID})
	require.NoError(t, err)
	require.True(t, merged.Merged)
	assert.Equal(t, models.StatusMerged, merged.ChangeRequest.Status)

	doc, err = alice.GetDocument(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "everyone"}, doc.Lines)
}

func TestReviewValidityOverGRPC(t *testing.T) {
	ctx := context.Background()
	alice := startServer(t)
	bob := alice.As("bob")

	_, err := alice.SaveDocument(ctx, page, 0, []string{"a"})
	require.NoError(t, err)
	cr, err := alice.CreateChangeRequest(ctx, "Edit", "")
	require.NoError(t, err)
	_, err = alice.AddFileChange(ctx, &AddFileChangeRequest{ChangeRequestID: cr.ID, Target: page, PreviousVersion: 1, Lines: []string{"b"}})
	require.NoError(t, err)

	reviewed, err := bob.AddReview(ctx, &AddReviewRequest{ChangeRequestID: cr.ID, Approved: false})
	require.NoError(t, err)
	require.True(t, reviewed.Allowed)

	resp, err := alice.SetReviewValidity(ctx, &SetReviewValidityRequest{ReviewID: reviewed.Review.ID, Valid: false})
	require.NoError(t, err)
	assert.False(t, resp.Allowed)

	resp, err = bob.SetReviewValidity(ctx, &SetReviewValidityRequest{ReviewID: reviewed.Review.ID, Version: reviewed.Review.Version, Valid: false})
	require.NoError(t, err)
	require.True(t, resp.Allowed)
	assert.False(t, resp.Review.Valid)

	_, err = bob.SetReviewValidity(ctx, &SetReviewValidityRequest{ReviewID: reviewed.Review.ID, Version: reviewed.Review.Version, Valid: true})
	requireCode(t, err, codes.Aborted)

	_, err = bob.SetReviewValidity(ctx, &SetReviewValidityRequest{ReviewID: "missing"})
	requireCode(t, err, codes.NotFound)
}

func TestFixConflictsOverGRPC(t *testing.T) {
	ctx := context.Background()
	alice := startServer(t)

	_, err := alice.SaveDocument(ctx, page, 0, []string{"title", "body"})
	require.NoError(t, err)
	cr, err := alice.CreateChangeRequest(ctx, "Rename", "")
	require.NoError(t, err)
	_, err = alice.AddFileChange(ctx, &AddFileChangeRequest{ChangeRequestID: cr.ID, Target: page, PreviousVersion: 1, Lines: []string{"mine", "body"}})
	require.NoError(t, err)
	_, err = alice.As("carol").SaveDocument(ctx, page, 1, []string{"theirs", "body"})
	require.NoError(t, err)

	result, err := alice.GetMergeResult(ctx, cr.ID, page)
	require.NoError(t, err)
	assert.False(t, result.Clean)
	assert.Equal(t, int64(2), result.CurrentVersion)
	require.Len(t, result.Conflicts, 1)

	fixed, err := alice.FixConflicts(ctx, &FixConflictsRequest{
		ChangeRequestID: cr.ID,
		Target:          page,
		Decisions: []models.ConflictDecision{{
			Reference: result.Conflicts[0].Reference,
			Type:      models.DecisionCustom,
			Custom:    []string{"both"},
		}},
	})
	require.NoError(t, err)
	require.True(t, fixed.Fixed)

	result, err = alice.GetMergeResult(ctx, cr.ID, page)
	require.NoError(t, err)
	assert.True(t, result.Clean)
	assert.Equal(t, []string{"both", "body"}, result.Merged)

	_, err = alice.GetMergeResult(ctx, cr.ID, "Main.Other")
	requireCode(t, err, codes.NotFound)
}

func TestErrorCodes(t *testing.T) {
	ctx := context.Background()
	alice := startServer(t)

	_, err := alice.GetChangeRequest(ctx, "missing")
	requireCode(t, err, codes.NotFound)

	_, err = alice.As("").CreateChangeRequest(ctx, "anonymous", "")
	requireCode(t, err, codes.InvalidArgument)

	_, err = alice.As("").SaveDocument(ctx, page, 0, []string{"x"})
	requireCode(t, err, codes.Unauthenticated)

	_, err = alice.SaveDocument(ctx, page, 5, []string{"x"})
	requireCode(t, err, codes.Aborted)

	cr, err := alice.CreateChangeRequest(ctx, "Status", "")
	require.NoError(t, err)
	_, err = alice.SetStatus(ctx, &SetStatusRequest{ChangeRequestID: cr.ID, Status: models.StatusMerged})
	requireCode(t, err, codes.InvalidArgument)
}
