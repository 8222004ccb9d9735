package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// RiskServiceName is the fully qualified gRPC service name.
const RiskServiceName = "riskguard.v1.RiskService"

const (
	methodAssessRisk           = "/" + RiskServiceName + "/AssessRisk"
	methodGetUserRiskProfile   = "/" + RiskServiceName + "/GetUserRiskProfile"
	methodGetAssessmentDetails = "/" + RiskServiceName + "/GetAssessmentDetails"
)

// RiskServiceServer is the server API of riskguard.v1.RiskService.
// Requests and responses are google.protobuf.Struct documents with the same field names
// as the JSON API, so clients in any language can call it without generated stubs.
// RiskServiceServer 是 riskguard.v1.RiskService 的服务端接口，消息体为 google.protobuf.Struct。
type RiskServiceServer interface {
	AssessRisk(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetUserRiskProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetAssessmentDetails(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv RiskServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RiskServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(RiskServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RiskServiceDesc describes riskguard.v1.RiskService for grpc.Server.RegisterService.
var RiskServiceDesc = grpc.ServiceDesc{
	ServiceName: RiskServiceName,
	HandlerType: (*RiskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AssessRisk",
			Handler: unaryHandler(methodAssessRisk, func(s RiskServiceServer, ctx context.Context, r *structpb.Struct) (*structpb.Struct, error) {
				return s.AssessRisk(ctx, r)
			}),
		},
		{
			MethodName: "GetUserRiskProfile",
			Handler: unaryHandler(methodGetUserRiskProfile, func(s RiskServiceServer, ctx context.Context, r *structpb.Struct) (*structpb.Struct, error) {
				return s.GetUserRiskProfile(ctx, r)
			}),
		},
		{
			MethodName: "GetAssessmentDetails",
			Handler: unaryHandler(methodGetAssessmentDetails, func(s RiskServiceServer, ctx context.Context, r *structpb.Struct) (*structpb.Struct, error) {
				return s.GetAssessmentDetails(ctx, r)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "riskguard/v1/risk.proto",
}

// RiskServiceClient is the client API of riskguard.v1.RiskService.
type RiskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRiskServiceClient(cc grpc.ClientConnInterface) *RiskServiceClient {
	return &RiskServiceClient{cc: cc}
}

func (c *RiskServiceClient) AssessRisk(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodAssessRisk, in, out, opts...)
}

func (c *RiskServiceClient) GetUserRiskProfile(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodGetUserRiskProfile, in, out, opts...)
}

func (c *RiskServiceClient) GetAssessmentDetails(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, methodGetAssessmentDetails, in, out, opts...)
}

// RiskGRPCService implements RiskServiceServer on top of the assessment service.
type RiskGRPCService struct {
	svc application.RiskAssessmentService
	log logger.Logger
}

// NewRiskGRPCServer creates a gRPC server exposing the risk service.
func NewRiskGRPCServer(svc application.RiskAssessmentService, log logger.Logger, interceptors []grpc.UnaryServerInterceptor) *grpc.Server {
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	server.RegisterService(&RiskServiceDesc, &RiskGRPCService{svc: svc, log: log.WithComponent("RiskGRPCService")})
	return server
}

// AssessRisk scores the operation described by the request document.
func (s *RiskGRPCService) AssessRisk(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var op models.OperationContext
	if err := fromStruct(req, &op); err != nil {
		return nil, err
	}
	result, err := s.svc.AssessRisk(ctx, &op)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

// GetUserRiskProfile expects {"user_id": "..."}.
func (s *RiskGRPCService) GetUserRiskProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requiredString(req, "user_id")
	if err != nil {
		return nil, err
	}
	profile, err := s.svc.GetUserRiskProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toStruct(profile)
}

// GetAssessmentDetails expects {"assessment_id": "..."}.
func (s *RiskGRPCService) GetAssessmentDetails(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(req, "assessment_id")
	if err != nil {
		return nil, err
	}
	record, err := s.svc.GetAssessmentDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(record)
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	v, ok := req.GetFields()[field]
	if !ok || v.GetStringValue() == "" {
		return "", errors.ErrMissingRequiredParameter(field)
	}
	return v.GetStringValue(), nil
}

// fromStruct decodes a Struct through its JSON form so the model's json tags apply.
func fromStruct(in *structpb.Struct, dest interface{}) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return errors.ErrInvalidRequest("malformed request").WithCause(err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.ErrInvalidRequest("malformed request").WithCause(err)
	}
	return nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.ErrServerError("failed to encode response").WithCause(err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, errors.ErrServerError("failed to encode response").WithCause(err)
	}
	return out, nil
}
