package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/123bigmirros/electronic-grave/models"
	"github.com/123bigmirros/electronic-grave/repository"
	service "github.com/123bigmirros/electronic-grave/services"
)

const HeritageServiceName = "grave.heritage.v1.HeritageService"

type HeritageServiceServer interface {
	Claim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// HeritageServer exposes claims to trusted internal callers, which name the
// user explicitly in the request.
type HeritageServer struct {
	canvases *service.CanvasService
}

func NewHeritageServer(canvases *service.CanvasService) *HeritageServer {
	return &HeritageServer{canvases: canvases}
}

// maxExactID is the largest integer a float64 holds exactly.
const maxExactID = 1 << 53

// int64Field accepts ids sent either as numbers or as decimal strings.
func int64Field(fields map[string]*structpb.Value, key string) (int64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != math.Trunc(n) || math.Abs(n) > maxExactID {
			return 0, fmt.Errorf("%s must be a whole number below 2^53, send larger ids as strings", key)
		}
		return int64(n), nil
	case *structpb.Value_StringValue:
		return strconv.ParseInt(k.StringValue, 10, 64)
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func itemStruct(item *models.HeritageItem) map[string]interface{} {
	return map[string]interface{}{
		"id":         strconv.FormatInt(item.ID, 10),
		"heritageId": strconv.FormatInt(item.HeritageID, 10),
		"content":    item.Content,
		"isPrivate":  item.IsPrivate,
		"userId":     strconv.FormatInt(item.OwnerID, 10),
	}
}

func (s *HeritageServer) Claim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	heritageID, err := int64Field(req.GetFields(), "heritageId")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	userID := models.AnonymousUserID
	if _, ok := req.GetFields()["userId"]; ok {
		if userID, err = int64Field(req.GetFields(), "userId"); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	pending, err := s.canvases.AttemptPrivateClaimAsync(ctx, heritageID, userID)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "user id required")
	}
	var item *models.HeritageItem
	select {
	case res := <-pending:
		item, err = res.Item, res.Err
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return nil, status.Error(codes.Unauthenticated, "user id required")
	case errors.Is(err, service.ErrClaimTimeout):
		return nil, status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return nil, status.Error(codes.NotFound, err.Error())
	case err != nil:
		return nil, status.Error(codes.Internal, "claim failed")
	}

	if item == nil {
		return structpb.NewStruct(map[string]interface{}{"claimed": false})
	}
	return structpb.NewStruct(map[string]interface{}{
		"claimed": true,
		"item":    itemStruct(item),
	})
}

var heritageServiceDesc = grpc.ServiceDesc{
	ServiceName: HeritageServiceName,
	HandlerType: (*HeritageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Claim",
			Handler: unaryStructHandler("/"+HeritageServiceName+"/Claim",
				func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
					return srv.(HeritageServiceServer).Claim(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grave/heritage/v1/heritage.proto",
}

func RegisterHeritageServer(s grpc.ServiceRegistrar, srv HeritageServiceServer) {
	s.RegisterService(&heritageServiceDesc, srv)
}
