package changerequestservice

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the full gRPC service name.
const ServiceName = "changerequest.v1.ChangeRequestService"

// UserHeader is the metadata key carrying the acting user.
const UserHeader = "x-user"

// ChangeRequestServiceServer is the server API of the change request service.
type ChangeRequestServiceServer interface {
	GetChangeRequest(context.Context, *GetChangeRequestRequest) (*ChangeRequestResponse, error)
	CreateChangeRequest(context.Context, *CreateChangeRequestRequest) (*ChangeRequestResponse, error)
	AddFileChange(context.Context, *AddFileChangeRequest) (*AddFileChangeResponse, error)
	SetStatus(context.Context, *SetStatusRequest) (*SetStatusResponse, error)
	AddReview(context.Context, *AddReviewRequest) (*AddReviewResponse, error)
	SetReviewValidity(context.Context, *SetReviewValidityRequest) (*SetReviewValidityResponse, error)
	CanBeMerged(context.Context, *CanBeMergedRequest) (*CanBeMergedResponse, error)
	Merge(context.Context, *MergeRequest) (*MergeResponse, error)
	GetMergeResult(context.Context, *GetMergeResultRequest) (*GetMergeResultResponse, error)
	FixConflicts(context.Context, *FixConflictsRequest) (*FixConflictsResponse, error)
	GetDocument(context.Context, *GetDocumentRequest) (*DocumentResponse, error)
	SaveDocument(context.Context, *SaveDocumentRequest) (*DocumentResponse, error)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary adapts a typed server method to a grpc.MethodDesc.
func unary[Req, Resp any](method string, call func(ChangeRequestServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ChangeRequestServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the change request service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChangeRequestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetChangeRequest", ChangeRequestServiceServer.GetChangeRequest),
		unary("CreateChangeRequest", ChangeRequestServiceServer.CreateChangeRequest),
		unary("AddFileChange", ChangeRequestServiceServer.AddFileChange),
		unary("SetStatus", ChangeRequestServiceServer.SetStatus),
		unary("AddReview", ChangeRequestServiceServer.AddReview),
		unary("SetReviewValidity", ChangeRequestServiceServer.SetReviewValidity),
		unary("CanBeMerged", ChangeRequestServiceServer.CanBeMerged),
		unary("Merge", ChangeRequestServiceServer.Merge),
		unary("GetMergeResult", ChangeRequestServiceServer.GetMergeResult),
		unary("FixConflicts", ChangeRequestServiceServer.FixConflicts),
		unary("GetDocument", ChangeRequestServiceServer.GetDocument),
		unary("SaveDocument", ChangeRequestServiceServer.SaveDocument),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "changerequest.v1",
}

// RegisterChangeRequestServiceServer registers srv on s.
func RegisterChangeRequestServiceServer(s grpc.ServiceRegistrar, srv ChangeRequestServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
