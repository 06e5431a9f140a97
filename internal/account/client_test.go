package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	pb "github.com/dmitrijs2005/gophnotes/internal/proto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

/*************
 * Fake pb client
 *************/

type fakePB struct {
	lastCtx context.Context
	lastReq any

	sessionResp *pb.SessionResponse
	oauthResp   *pb.OAuthResponse
	userResp    *pb.UserResponse
	err         error
}

func (f *fakePB) capture(ctx context.Context, req any) {
	f.lastCtx = ctx
	f.lastReq = req
}

func (f *fakePB) SignUp(ctx context.Context, in *pb.CredentialsRequest, _ ...grpc.CallOption) (*pb.SessionResponse, error) {
	f.capture(ctx, in)
	return f.sessionResp, f.err
}

func (f *fakePB) SignInWithPassword(ctx context.Context, in *pb.CredentialsRequest, _ ...grpc.CallOption) (*pb.SessionResponse, error) {
	f.capture(ctx, in)
	return f.sessionResp, f.err
}

func (f *fakePB) SignInWithOAuth(ctx context.Context, in *pb.OAuthRequest, _ ...grpc.CallOption) (*pb.OAuthResponse, error) {
	f.capture(ctx, in)
	return f.oauthResp, f.err
}

func (f *fakePB) SignOut(ctx context.Context, in *pb.SignOutRequest, _ ...grpc.CallOption) (*pb.SignOutResponse, error) {
	f.capture(ctx, in)
	return &pb.SignOutResponse{}, f.err
}

func (f *fakePB) ResetPasswordForEmail(ctx context.Context, in *pb.ResetPasswordRequest, _ ...grpc.CallOption) (*pb.ResetPasswordResponse, error) {
	f.capture(ctx, in)
	return &pb.ResetPasswordResponse{}, f.err
}

func (f *fakePB) UpdateUser(ctx context.Context, in *pb.UpdateUserRequest, _ ...grpc.CallOption) (*pb.UserResponse, error) {
	f.capture(ctx, in)
	return f.userResp, f.err
}

func (f *fakePB) RefreshSession(ctx context.Context, in *pb.RefreshRequest, _ ...grpc.CallOption) (*pb.SessionResponse, error) {
	f.capture(ctx, in)
	return f.sessionResp, f.err
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return tok
}

func TestSignInWithPassword_FillsExpiryFromToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakePB{sessionResp: &pb.SessionResponse{
		Session: &pb.Session{AccessToken: signed(t, exp), RefreshToken: "R"},
		User:    &pb.User{Id: "u1", Email: "a@b.c"},
	}}
	c := &GRPCClient{client: f}

	s, err := c.SignInWithPassword(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	req, ok := f.lastReq.(*pb.CredentialsRequest)
	require.True(t, ok)
	assert.Equal(t, "a@b.c", req.GetEmail())
	assert.Equal(t, "pw", req.GetPassword())
	assert.Equal(t, exp.Unix(), s.ExpiresAt)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "a@b.c", s.Email)
}

func TestSignUp_EmptySessionIsError(t *testing.T) {
	c := &GRPCClient{client: &fakePB{sessionResp: &pb.SessionResponse{}}}

	_, err := c.SignUp(context.Background(), "a@b.c", "pw")
	require.Error(t, err)
}

func TestSignOut_SendsAccessToken(t *testing.T) {
	f := &fakePB{}
	c := &GRPCClient{client: f}

	require.NoError(t, c.SignOut(context.Background(), "A1"))
	md, ok := metadata.FromOutgoingContext(f.lastCtx)
	require.True(t, ok)
	assert.Equal(t, []string{"A1"}, md.Get(common.AccessTokenHeaderName))
}

func TestWithAccessToken_ReplacesExisting(t *testing.T) {
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs(common.AccessTokenHeaderName, "old", "x", "y"))
	ctx = withAccessToken(ctx, "new")

	md, _ := metadata.FromOutgoingContext(ctx)
	assert.Equal(t, []string{"new"}, md.Get(common.AccessTokenHeaderName))
	assert.Equal(t, []string{"y"}, md.Get("x"))
}

func TestUpdateUser(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fakePB{userResp: &pb.UserResponse{User: &pb.User{Id: "u1", Email: "n@b.c", CreatedAt: created.UnixMilli()}}}
	c := &GRPCClient{client: f}

	u, err := c.UpdateUser(context.Background(), "A1", UserAttributes{Email: "n@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "n@b.c", u.Email)
	assert.True(t, created.Equal(u.CreatedAt))
	assert.Equal(t, "n@b.c", f.lastReq.(*pb.UpdateUserRequest).GetEmail())
	assert.Empty(t, f.lastReq.(*pb.UpdateUserRequest).GetPassword())

	f.userResp = &pb.UserResponse{}
	_, err = c.UpdateUser(context.Background(), "A1", UserAttributes{Email: "n@b.c"})
	require.Error(t, err)
}

func TestSignInWithOAuth(t *testing.T) {
	f := &fakePB{oauthResp: &pb.OAuthResponse{Url: "https://auth/x"}}
	c := &GRPCClient{client: f}

	u, err := c.SignInWithOAuth(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, "https://auth/x", u)
}

func TestRefreshSession_MapsExpiredRefreshToken(t *testing.T) {
	f := &fakePB{err: status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())}
	c := &GRPCClient{client: f}

	_, err := c.RefreshSession(context.Background(), "R")
	require.ErrorIs(t, err, common.ErrRefreshTokenExpired)
}

func TestSessionConversion(t *testing.T) {
	s := &models.Session{AccessToken: "A", RefreshToken: "R", ExpiresAt: 42, UserID: "u1", Email: "a@b.c", StoredAt: 7}

	back := SessionFromPB(SessionToPB(s))
	s.StoredAt = 0
	assert.Equal(t, s, back)

	assert.Nil(t, SessionToPB(nil))
	assert.Nil(t, UserFromPB(nil))
	assert.Zero(t, UserFromPB(UserToPB(&models.User{ID: "u"})).CreatedAt)
}

func TestTimeoutInterceptor_AddsDeadline(t *testing.T) {
	c := &GRPCClient{timeout: time.Second}

	var had bool
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		_, had = ctx.Deadline()
		return nil
	}
	require.NoError(t, c.timeoutInterceptor(context.Background(), "/m", nil, nil, nil, invoker))
	assert.True(t, had)
}

func TestMapError(t *testing.T) {
	require.ErrorIs(t, mapError(status.Error(codes.Unauthenticated, "bad password")), common.ErrAuthentication)
	require.ErrorIs(t, mapError(status.Error(codes.PermissionDenied, "x")), common.ErrAuthentication)
	require.ErrorIs(t, mapError(status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())), common.ErrTokenExpired)
	require.ErrorIs(t, mapError(status.Error(codes.AlreadyExists, "x")), common.ErrAlreadyExists)
	require.ErrorIs(t, mapError(status.Error(codes.NotFound, "x")), common.ErrorNotFound)
	require.ErrorIs(t, mapError(status.Error(codes.Unavailable, "x")), common.ErrUnavailable)
	require.ErrorIs(t, mapError(status.Error(codes.DeadlineExceeded, "x")), common.ErrUnavailable)

	var pv *common.PolicyViolationError
	require.ErrorAs(t, mapError(status.Error(codes.InvalidArgument, "too short")), &pv)
	assert.Equal(t, []string{"too short"}, pv.Reasons)

	e := errors.New("plain")
	require.ErrorContains(t, mapError(e), "rpc error:")
	require.Nil(t, mapError(nil))
}

func TestExpiryFromToken(t *testing.T) {
	exp := time.Date(2031, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := ExpiryFromToken(signed(t, exp))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = ExpiryFromToken("not-a-jwt")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}
