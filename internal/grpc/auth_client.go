package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"messaging-service/internal/identity"
	"messaging-service/internal/observability"
)

// ValidateTokenMethod is the auth-service RPC. Request and response are
// google.protobuf.Struct so this service carries no generated stubs.
const ValidateTokenMethod = "/auth.AuthService/ValidateToken"

// Dial opens a lazily connecting client to the auth-service.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// AuthClient validates tokens against the auth-service.
type AuthClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

var _ identity.Provider = (*AuthClient)(nil)

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn grpc.ClientConnInterface, timeout time.Duration) *AuthClient {
	return &AuthClient{conn: conn, timeout: timeout}
}

// Authenticate verifies the JWT and returns the caller.
func (a *AuthClient) Authenticate(ctx context.Context, token string) (identity.Identity, error) {
	if token == "" {
		return identity.Identity{}, fmt.Errorf("%w: missing token", identity.ErrUnauthenticated)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{"token": token})
	if err != nil {
		return identity.Identity{}, err
	}
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, ValidateTokenMethod, req, resp); err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return identity.Identity{}, fmt.Errorf("%w: %v", identity.ErrUnauthenticated, err)
		}
		return identity.Identity{}, fmt.Errorf("validate token: %w", err)
	}

	fields := resp.GetFields()
	userID := int64(fields["user_id"].GetNumberValue())
	if !fields["valid"].GetBoolValue() || userID <= 0 {
		return identity.Identity{}, fmt.Errorf("%w: invalid token", identity.ErrUnauthenticated)
	}
	id := identity.Identity{
		UserID:      userID,
		DisplayName: fields["username"].GetStringValue(),
	}
	if exp := int64(fields["expires_at"].GetNumberValue()); exp > 0 {
		id.ExpiresAt = time.Unix(exp, 0)
	}
	return id, nil
}
