package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"messaging-service/internal/identity"
)

type authServer interface {
	validate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

const tokenExpiry = 1_900_000_000

type fakeAuth struct {
	users map[string]float64
}

func (f *fakeAuth) validate(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := req.GetFields()["token"].GetStringValue()
	if token == "revoked" {
		return nil, status.Error(codes.Unauthenticated, "revoked")
	}
	if token == "boom" {
		return nil, status.Error(codes.Internal, "boom")
	}
	id, ok := f.users[token]
	return structpb.NewStruct(map[string]any{"valid": ok, "user_id": id, "username": "ada", "expires_at": float64(tokenExpiry)})
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: "auth.AuthService",
	HandlerType: (*authServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "ValidateToken",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			req := &structpb.Struct{}
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(authServer).validate(ctx, req)
		},
	}},
}

func newAuthClient(t *testing.T) *AuthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&authServiceDesc, &fakeAuth{users: map[string]float64{"good": 42}})
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewAuthClient(conn, time.Second)
}

func TestAuthClientAuthenticate(t *testing.T) {
	client := newAuthClient(t)

	id, err := client.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, "ada", id.DisplayName)
	assert.True(t, time.Unix(tokenExpiry, 0).Equal(id.ExpiresAt), id.ExpiresAt)
}

func TestAuthClientRejects(t *testing.T) {
	client := newAuthClient(t)

	for _, token := range []string{"", "unknown", "revoked"} {
		_, err := client.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, identity.ErrUnauthenticated, token)
	}
}

func TestAuthClientTransportFailureIsNotUnauthenticated(t *testing.T) {
	client := newAuthClient(t)

	_, err := client.Authenticate(context.Background(), "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrUnauthenticated)
	assert.Equal(t, codes.Internal, status.Code(err))
}
