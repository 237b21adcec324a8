package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of an HMAC-signed access token.
type Claims struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewJWTVerifier(secret, issuer string, clk clock.Clock) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, clock: clk}
}

func (v *JWTVerifier) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID <= 0 {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	id := Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Issue signs a token for id that expires after ttl.
func (v *JWTVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
