package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	AdminRole = "admin"
	issuer    = "coverledger"
)

var ErrUnauthorized = errors.New("unauthorized")

// AdminAuth issues and checks HS256 bearer tokens for operator calls.
type AdminAuth struct {
	secret []byte
}

func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret)}
}

// Issue returns a signed admin token for sub valid for ttl.
func (a *AdminAuth) Issue(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": AdminRole,
		"iss":  issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(a.secret)
}

// Validate parses token and returns its subject. The token must be
// unexpired, HS256-signed by us and carry the admin role.
func (a *AdminAuth) Validate(token string) (string, error) {
	tok, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return "", ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthorized
	}
	if role, _ := claims["role"].(string); role != AdminRole {
		return "", ErrUnauthorized
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

// protected reports whether a full gRPC method name needs an admin token.
// Transactions carry an unauthenticated sender, so direct submission is
// operator-only; signed price attestations are verified on their own.
func protected(method string) bool {
	return strings.HasPrefix(method, "/"+AdminServiceName+"/") ||
		method == fullMethod(IngestServiceName, "SubmitTx")
}

// UnaryInterceptor rejects protected calls lacking a valid
// "authorization: Bearer <jwt>" header. A nil AdminAuth rejects them all.
func (a *AdminAuth) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !protected(info.FullMethod) {
			return handler(ctx, req)
		}
		if a == nil {
			return nil, status.Error(codes.PermissionDenied, "admin api disabled")
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var bearer string
		if vals := md.Get("authorization"); len(vals) > 0 {
			bearer = strings.TrimPrefix(vals[0], "Bearer ")
		}
		if bearer == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		if _, err := a.Validate(bearer); err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(ctx, req)
	}
}
