package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	pb "github.com/dmitrijs2005/gophnotes/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultCallTimeout bounds calls whose context carries no deadline.
const DefaultCallTimeout = 12 * time.Second

// GRPCClient implements Service over the generated AccountService stub.
type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      pb.AccountServiceClient
	timeout     time.Duration
}

var _ Service = (*GRPCClient)(nil)

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// timeoutInterceptor applies the default call timeout when the caller did
// not set a deadline.
func (c *GRPCClient) timeoutInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCClient dials endpointURL lazily. Extra dial options are appended,
// which tests use to plug in a bufconn dialer.
func NewGRPCClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: DefaultCallTimeout}

	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.timeoutInterceptor),
	}
	conn, err := grpc.NewClient(endpointURL, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = pb.NewAccountServiceClient(conn)
	return c, nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *GRPCClient) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	resp, err := c.client.SignUp(ctx, &pb.CredentialsRequest{Email: email, Password: password})
	if err != nil {
		return nil, mapError(err)
	}
	return sessionFrom(resp)
}

func (c *GRPCClient) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	resp, err := c.client.SignInWithPassword(ctx, &pb.CredentialsRequest{Email: email, Password: password})
	if err != nil {
		return nil, mapError(err)
	}
	return sessionFrom(resp)
}

func (c *GRPCClient) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	resp, err := c.client.SignInWithOAuth(ctx, &pb.OAuthRequest{Provider: provider, RedirectTo: redirectTo})
	if err != nil {
		return "", mapError(err)
	}
	return resp.GetUrl(), nil
}

func (c *GRPCClient) SignOut(ctx context.Context, accessToken string) error {
	if _, err := c.client.SignOut(withAccessToken(ctx, accessToken), &pb.SignOutRequest{}); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *GRPCClient) ResetPasswordForEmail(ctx context.Context, email string) error {
	if _, err := c.client.ResetPasswordForEmail(ctx, &pb.ResetPasswordRequest{Email: email}); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *GRPCClient) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*models.User, error) {
	req := &pb.UpdateUserRequest{Email: attrs.Email, Password: attrs.Password}
	resp, err := c.client.UpdateUser(withAccessToken(ctx, accessToken), req)
	if err != nil {
		return nil, mapError(err)
	}
	if resp.GetUser() == nil {
		return nil, fmt.Errorf("rpc error: empty user in response")
	}
	return UserFromPB(resp.GetUser()), nil
}

func (c *GRPCClient) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	resp, err := c.client.RefreshSession(ctx, &pb.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, mapError(err)
	}
	return sessionFrom(resp)
}

// sessionFrom validates the response and fills ExpiresAt from the access
// token when the server left it out.
func sessionFrom(resp *pb.SessionResponse) (*models.Session, error) {
	if resp.GetSession().GetAccessToken() == "" {
		return nil, fmt.Errorf("rpc error: empty session in response")
	}
	s := SessionFromPB(resp.GetSession())
	user := UserFromPB(resp.GetUser())
	if s.ExpiresAt == 0 {
		exp, err := ExpiryFromToken(s.AccessToken)
		if err != nil {
			return nil, err
		}
		s.ExpiresAt = exp.Unix()
	}
	if s.UserID == "" && user != nil {
		s.UserID = user.ID
	}
	if s.Email == "" && user != nil {
		s.Email = user.Email
	}
	return s, nil
}

// Messages the service puts into Unauthenticated statuses to tell token
// problems apart from bad credentials.
var tokenErrors = []error{common.ErrTokenExpired, common.ErrRefreshTokenExpired, common.ErrInvalidToken}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		for _, te := range tokenErrors {
			if st.Message() == te.Error() {
				return te
			}
		}
		return fmt.Errorf("%w: %s", common.ErrAuthentication, st.Message())
	case codes.AlreadyExists:
		return common.ErrAlreadyExists
	case codes.NotFound:
		return common.ErrorNotFound
	case codes.InvalidArgument:
		return &common.PolicyViolationError{Reasons: []string{st.Message()}}
	case codes.Unavailable, codes.DeadlineExceeded:
		return common.ErrUnavailable
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
