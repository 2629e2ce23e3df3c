package changerequestservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/niczy/changerequest/internal/models"
)

// Client calls the change request service on behalf of one user.
type Client struct {
	conn grpc.ClientConnInterface
	user string
}

// NewClient creates a client acting as user.
func NewClient(conn grpc.ClientConnInterface, user string) *Client {
	return &Client{conn: conn, user: user}
}

// As returns a client on the same connection acting as user.
func (c *Client) As(user string) *Client {
	return &Client{conn: c.conn, user: user}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.user != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, UserHeader, c.user)
	}
	return c.conn.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(codecName))
}

func (c *Client) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	resp := &ChangeRequestResponse{}
	if err := c.invoke(ctx, "GetChangeRequest", &GetChangeRequestRequest{ID: id}, resp); err != nil {
		return nil, err
	}
	return resp.ChangeRequest, nil
}

func (c *Client) CreateChangeRequest(ctx context.Context, title, description string) (*models.ChangeRequest, error) {
	resp := &ChangeRequestResponse{}
	req := &CreateChangeRequestRequest{Title: title, Description: description}
	if err := c.invoke(ctx, "CreateChangeRequest", req, resp); err != nil {
		return nil, err
	}
	return resp.ChangeRequest, nil
}

func (c *Client) AddFileChange(ctx context.Context, req *AddFileChangeRequest) (*AddFileChangeResponse, error) {
	resp := &AddFileChangeResponse{}
	if err := c.invoke(ctx, "AddFileChange", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) SetStatus(ctx context.Context, req *SetStatusRequest) (*SetStatusResponse, error) {
	resp := &SetStatusResponse{}
	if err := c.invoke(ctx, "SetStatus", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) AddReview(ctx context.Context, req *AddReviewRequest) (*AddReviewResponse, error) {
	resp := &AddReviewResponse{}
	if err := c.invoke(ctx, "AddReview", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) SetReviewValidity(ctx context.Context, req *SetReviewValidityRequest) (*SetReviewValidityResponse, error) {
	resp := &SetReviewValidityResponse{}
	if err := c.invoke(ctx, "SetReviewValidity", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) CanBeMerged(ctx context.Context, id string) (*CanBeMergedResponse, error) {
	resp := &CanBeMergedResponse{}
	if err := c.invoke(ctx, "CanBeMerged", &CanBeMergedRequest{ChangeRequestID: id}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Merge(ctx context.Context, req *MergeRequest) (*MergeResponse, error) {
	resp := &MergeResponse{}
	if err := c.invoke(ctx, "Merge", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetMergeResult(ctx context.Context, id, target string) (*GetMergeResultResponse, error) {
	resp := &GetMergeResultResponse{}
	req := &GetMergeResultRequest{ChangeRequestID: id, Target: target}
	if err := c.invoke(ctx, "GetMergeResult", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) FixConflicts(ctx context.Context, req *FixConflictsRequest) (*FixConflictsResponse, error) {
	resp := &FixConflictsResponse{}
	if err := c.invoke(ctx, "FixConflicts", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetDocument(ctx context.Context, ref string) (*models.Document, error) {
	resp := &DocumentResponse{}
	if err := c.invoke(ctx, "GetDocument", &GetDocumentRequest{Reference: ref}, resp); err != nil {
		return nil, err
	}
	return resp.Document, nil
}

func (c *Client) SaveDocument(ctx context.Context, ref string, expectedVersion int64, lines []string) (*models.Document, error) {
	resp := &DocumentResponse{}
	req := &SaveDocumentRequest{Reference: ref, ExpectedVersion: expectedVersion, Lines: lines}
	if err := c.invoke(ctx, "SaveDocument", req, resp); err != nil {
		return nil, err
	}
	return resp.Document, nil
}
