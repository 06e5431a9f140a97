package accountd

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dmitrijs2005/gophnotes/internal/account"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	pb "github.com/dmitrijs2005/gophnotes/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// methods that act on the signed-in user
var authenticated = map[string]bool{
	pb.AccountService_SignOut_FullMethodName:    true,
	pb.AccountService_UpdateUser_FullMethodName: true,
}

type GRPCServer struct {
	pb.UnimplementedAccountServiceServer

	address string
	service *Service
	logger  logging.Logger
}

var _ pb.AccountServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(address string, l logging.Logger, service *Service) *GRPCServer {
	return &GRPCServer{
		address: address,
		logger:  l.With("module", "grpc_server"),
		service: service,
	}
}

// NewServer builds the grpc.Server with the auth interceptor and registers
// the account service on it.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	pb.RegisterAccountServiceServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	return srv.Serve(lis)
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !authenticated[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
			accessToken = values[0]
		}
	}
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := s.service.Authenticate(accessToken)
	if err != nil {
		return nil, toStatus(err)
	}
	return handler(context.WithValue(ctx, claimsKey, claims), req)
}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func toStatus(err error) error {
	var pv *common.PolicyViolationError
	switch {
	case errors.As(err, &pv):
		return status.Error(codes.InvalidArgument, strings.Join(pv.Reasons, "; "))
	case errors.Is(err, common.ErrAuthentication):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func sessionResponse(session *models.Session, user *models.User) *pb.SessionResponse {
	return &pb.SessionResponse{Session: account.SessionToPB(session), User: account.UserToPB(user)}
}

func (s *GRPCServer) SignUp(ctx context.Context, req *pb.CredentialsRequest) (*pb.SessionResponse, error) {
	s.logger.Info(ctx, "Registration request")

	session, user, err := s.service.SignUp(ctx, req.GetEmail(), req.GetPassword())
	if err != nil {
		s.logger.Warn(ctx, "registration failed", "error", err)
		return nil, toStatus(err)
	}
	return sessionResponse(session, user), nil
}

func (s *GRPCServer) SignInWithPassword(ctx context.Context, req *pb.CredentialsRequest) (*pb.SessionResponse, error) {
	session, user, err := s.service.SignIn(ctx, req.GetEmail(), req.GetPassword())
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionResponse(session, user), nil
}

func (s *GRPCServer) SignInWithOAuth(ctx context.Context, req *pb.OAuthRequest) (*pb.OAuthResponse, error) {
	u, err := s.service.OAuthURL(req.GetProvider(), req.GetRedirectTo())
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.OAuthResponse{Url: u}, nil
}

func (s *GRPCServer) SignOut(ctx context.Context, _ *pb.SignOutRequest) (*pb.SignOutResponse, error) {
	if err := s.service.SignOut(ctx, claimsFrom(ctx).UserID); err != nil {
		return nil, toStatus(err)
	}
	return &pb.SignOutResponse{}, nil
}

func (s *GRPCServer) ResetPasswordForEmail(ctx context.Context, req *pb.ResetPasswordRequest) (*pb.ResetPasswordResponse, error) {
	if err := s.service.ResetPasswordForEmail(ctx, req.GetEmail()); err != nil {
		return nil, toStatus(err)
	}
	return &pb.ResetPasswordResponse{}, nil
}

func (s *GRPCServer) UpdateUser(ctx context.Context, req *pb.UpdateUserRequest) (*pb.UserResponse, error) {
	user, err := s.service.UpdateUser(ctx, claimsFrom(ctx).UserID, req.GetEmail(), req.GetPassword())
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.UserResponse{User: account.UserToPB(user)}, nil
}

func (s *GRPCServer) RefreshSession(ctx context.Context, req *pb.RefreshRequest) (*pb.SessionResponse, error) {
	session, user, err := s.service.RefreshSession(ctx, req.GetRefreshToken())
	if err != nil {
		return nil, toStatus(err)
	}
	return sessionResponse(session, user), nil
}
