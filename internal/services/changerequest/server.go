package changerequestservice

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/niczy/changerequest/internal/changerequest"
	"github.com/niczy/changerequest/internal/models"
	"github.com/niczy/changerequest/internal/storage"
)

type changeRequestServiceServer struct {
	manager   *changerequest.Manager
	documents storage.DocumentStore
	logger    *zap.Logger
}

func newChangeRequestServiceServer(manager *changerequest.Manager, docs storage.DocumentStore, logger *zap.Logger) *changeRequestServiceServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &changeRequestServiceServer{
		manager:   manager,
		documents: docs,
		logger:    logger,
	}
}

// NewGRPCServer constructs a gRPC server for the change request service.
func NewGRPCServer(manager *changerequest.Manager, docs storage.DocumentStore, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	RegisterChangeRequestServiceServer(srv, newChangeRequestServiceServer(manager, docs, logger))
	return srv
}

// NewService constructs the service implementation for use without gRPC.
func NewService(manager *changerequest.Manager, docs storage.DocumentStore, logger *zap.Logger) ChangeRequestServiceServer {
	return newChangeRequestServiceServer(manager, docs, logger)
}

// userFrom returns the acting user from the request metadata.
func userFrom(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(UserHeader); len(values) > 0 {
		return values[0]
	}
	return ""
}

// toStatus maps manager errors to gRPC status codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, changerequest.ErrStaleState):
		return status.Error(codes.Aborted, fmt.Sprintf("%s: stale state, reload and retry", op))
	case errors.Is(err, changerequest.ErrNotFound),
		errors.Is(err, storage.ErrReviewNotFound),
		errors.Is(err, storage.ErrDocumentNotFound):
		return status.Error(codes.NotFound, fmt.Sprintf("%s: %v", op, err))
	case errors.Is(err, changerequest.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, fmt.Sprintf("%s: %v", op, err))
	default:
		return status.Error(codes.Internal, fmt.Sprintf("%s: %v", op, err))
	}
}

// load fetches a change request and checks the version the caller saw.
func (s *changeRequestServiceServer) load(ctx context.Context, op, id string, version int64) (*models.ChangeRequest, error) {
	cr, err := s.manager.GetChangeRequest(ctx, id)
	if err != nil {
		return nil, toStatus(op, err)
	}
	if version != 0 && version != cr.Version {
		return nil, toStatus(op, changerequest.ErrStaleState)
	}
	return cr, nil
}

func (s *changeRequestServiceServer) GetChangeRequest(ctx context.Context, req *GetChangeRequestRequest) (*ChangeRequestResponse, error) {
	s.logger.Info("GetChangeRequest called", zap.String("change_request_id", req.ID))

	cr, err := s.load(ctx, "get change request", req.ID, 0)
	if err != nil {
		return nil, err
	}
	return &ChangeRequestResponse{ChangeRequest: cr}, nil
}

func (s *changeRequestServiceServer) CreateChangeRequest(ctx context.Context, req *CreateChangeRequestRequest) (*ChangeRequestResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("CreateChangeRequest called", zap.String("user", user), zap.String("title", req.Title))

	cr, err := s.manager.Create(ctx, user, req.Title, req.Description)
	if err != nil {
		return nil, toStatus("create change request", err)
	}
	return &ChangeRequestResponse{ChangeRequest: cr}, nil
}

func (s *changeRequestServiceServer) AddFileChange(ctx context.Context, req *AddFileChangeRequest) (*AddFileChangeResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("AddFileChange called",
		zap.String("change_request_id", req.ChangeRequestID),
		zap.String("target", req.Target),
		zap.String("user", user))

	cr, err := s.load(ctx, "add file change", req.ChangeRequestID, req.Version)
	if err != nil {
		return nil, err
	}
	fc, ok, err := s.manager.AddFileChange(ctx, user, cr, req.Target, req.PreviousVersion, req.Lines)
	if err != nil {
		return nil, toStatus("add file change", err)
	}
	return &AddFileChangeResponse{Allowed: ok, FileChange: fc, ChangeRequest: cr}, nil
}

func (s *changeRequestServiceServer) SetStatus(ctx context.Context, req *SetStatusRequest) (*SetStatusResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("SetStatus called",
		zap.String("change_request_id", req.ChangeRequestID),
		zap.String("status", string(req.Status)),
		zap.String("user", user))

	transition := map[models.Status]func(context.Context, string, *models.ChangeRequest) (bool, error){
		models.StatusDraft:          s.manager.SetDraft,
		models.StatusReadyForReview: s.manager.SetReadyForReview,
		models.StatusClosed:         s.manager.Close,
	}[req.Status]
	if transition == nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("status %q cannot be set directly", req.Status))
	}

	cr, err := s.load(ctx, "set status", req.ChangeRequestID, req.Version)
	if err != nil {
		return nil, err
	}
	ok, err := transition(ctx, user, cr)
	if err != nil {
		return nil, toStatus("set status", err)
	}
	return &SetStatusResponse{Allowed: ok, ChangeRequest: cr}, nil
}

func (s *changeRequestServiceServer) AddReview(ctx context.Context, req *AddReviewRequest) (*AddReviewResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("AddReview called",
		zap.String("change_request_id", req.ChangeRequestID),
		zap.Bool("approved", req.Approved),
		zap.String("user", user))

	cr, err := s.load(ctx, "add review", req.ChangeRequestID, req.Version)
	if err != nil {
		return nil, err
	}
	review, ok, err := s.manager.AddReview(ctx, user, cr, req.Approved, req.Comment)
	if err != nil {
		return nil, toStatus("add review", err)
	}
	return &AddReviewResponse{Allowed: ok, Review: review}, nil
}

func (s *changeRequestServiceServer) SetReviewValidity(ctx context.Context, req *SetReviewValidityRequest) (*SetReviewValidityResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("SetReviewValidity called",
		zap.String("review_id", req.ReviewID),
		zap.Bool("valid", req.Valid),
		zap.String("user", user))

	review, err := s.manager.LoadReview(ctx, req.ReviewID)
	if err != nil {
		return nil, toStatus("set review validity", err)
	}
	if req.Version != 0 && req.Version != review.Version {
		return nil, toStatus("set review validity", changerequest.ErrStaleState)
	}
	ok, err := s.manager.SetReviewValidity(ctx, user, review, req.Valid)
	if err != nil {
		return nil, toStatus("set review validity", err)
	}
	return &SetReviewValidityResponse{Allowed: ok, Review: review}, nil
}

func (s *changeRequestServiceServer) CanBeMerged(ctx context.Context, req *CanBeMergedRequest) (*CanBeMergedResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("CanBeMerged called", zap.String("change_request_id", req.ChangeRequestID))

	cr, err := s.load(ctx, "can be merged", req.ChangeRequestID, 0)
	if err != nil {
		return nil, err
	}
	ok, err := s.manager.CanBeMerged(ctx, cr)
	if err != nil {
		return nil, toStatus("can be merged", err)
	}
	return &CanBeMergedResponse{
		Mergeable:  ok,
		Authorized: s.manager.IsAuthorizedToMerge(ctx, user, cr),
		Strategy:   s.manager.MergeApprovalStrategy().Name(),
	}, nil
}

func (s *changeRequestServiceServer) Merge(ctx context.Context, req *MergeRequest) (*MergeResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("Merge called", zap.String("change_request_id", req.ChangeRequestID), zap.String("user", user))

	cr, err := s.load(ctx, "merge", req.ChangeRequestID, req.Version)
	if err != nil {
		return nil, err
	}
	ok, err := s.manager.Merge(ctx, user, cr)
	if err != nil {
		return nil, toStatus("merge", err)
	}
	return &MergeResponse{Merged: ok, ChangeRequest: cr}, nil
}

func (s *changeRequestServiceServer) GetMergeResult(ctx context.Context, req *GetMergeResultRequest) (*GetMergeResultResponse, error) {
	s.logger.Info("GetMergeResult called",
		zap.String("change_request_id", req.ChangeRequestID),
		zap.String("target", req.Target))

	cr, err := s.load(ctx, "get merge result", req.ChangeRequestID, 0)
	if err != nil {
		return nil, err
	}
	result, ok, err := s.manager.GetMergeDocumentResult(ctx, cr, req.Target)
	if err != nil {
		return nil, toStatus("get merge result", err)
	}
	if !ok {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("change request %s does not modify %s", cr.ID, req.Target))
	}

	resp := &GetMergeResultResponse{
		Clean:          result.IsClean(),
		CurrentVersion: result.Current.Version,
		Conflicts:      result.Conflicts,
	}
	if merged, ok := result.Merged(); ok {
		resp.Merged = merged
	}
	return resp, nil
}

func (s *changeRequestServiceServer) FixConflicts(ctx context.Context, req *FixConflictsRequest) (*FixConflictsResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("FixConflicts called",
		zap.String("change_request_id", req.ChangeRequestID),
		zap.String("target", req.Target),
		zap.Int("decisions", len(req.Decisions)),
		zap.String("user", user))

	cr, err := s.load(ctx, "fix conflicts", req.ChangeRequestID, req.Version)
	if err != nil {
		return nil, err
	}
	ok, err := s.manager.FixConflicts(ctx, user, cr, req.Target, req.Choice, req.Decisions)
	if err != nil {
		return nil, toStatus("fix conflicts", err)
	}
	return &FixConflictsResponse{Fixed: ok, ChangeRequest: cr}, nil
}

func (s *changeRequestServiceServer) GetDocument(ctx context.Context, req *GetDocumentRequest) (*DocumentResponse, error) {
	s.logger.Info("GetDocument called", zap.String("document", req.Reference))

	doc, err := s.documents.Document(ctx, req.Reference)
	if err != nil {
		return nil, toStatus("get document", err)
	}
	return &DocumentResponse{Document: doc}, nil
}

func (s *changeRequestServiceServer) SaveDocument(ctx context.Context, req *SaveDocumentRequest) (*DocumentResponse, error) {
	user := userFrom(ctx)
	s.logger.Info("SaveDocument called",
		zap.String("document", req.Reference),
		zap.Int64("expected_version", req.ExpectedVersion),
		zap.String("user", user))

	if user == "" {
		return nil, status.Error(codes.Unauthenticated, "saving a document requires a user")
	}
	doc, err := s.documents.SaveDocument(ctx, &models.Document{Reference: req.Reference, Lines: req.Lines}, req.ExpectedVersion)
	if err != nil {
		return nil, toStatus("save document", err)
	}
	return &DocumentResponse{Document: doc}, nil
}
