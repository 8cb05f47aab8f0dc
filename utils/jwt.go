package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"
)

type contextKey string

const (
	// UserAddrKey carries the authenticated wallet address.
	UserAddrKey  contextKey = "user_addr"
	UserRoleKey  contextKey = "user_role"
	RequestIDKey contextKey = "request_id"
)

const (
	tokenIssuer   = "proofpay"
	tokenAudience = "proofpay-api"
)

// RedisClient is an optional shared Redis client used for token revocation
// and reconciler dedup. It is nil when REDIS_ADDR is not configured.
var RedisClient *redis.Client

// InitRedis connects the shared client from REDIS_ADDR. Called once at
// startup, after the environment is loaded. A no-op when unset or unreachable.
func InitRedis() {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return
	}
	opts := &redis.Options{Addr: addr}
	if p := os.Getenv("REDIS_PASS"); p != "" {
		opts.Password = p
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		var dbn int
		_, _ = fmt.Sscanf(dbStr, "%d", &dbn)
		opts.DB = dbn
	}
	rc := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		// Run without Redis rather than refusing to start.
		return
	}
	RedisClient = rc
}

func jwtSecret() ([]byte, error) {
	s := os.Getenv("JWT_SECRET")
	if s == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return []byte(s), nil
}

// GenerateAccessToken mints a short-lived bearer token for addr. Sign-in
// itself (wallet challenge) lives in the external auth collaborator; this is
// used by that service's callback and by tests.
func GenerateAccessToken(addr, role string, expiry time.Duration) (string, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  addr,
		"role": role,
		"iss":  tokenIssuer,
		"aud":  tokenAudience,
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(expiry).Unix(),
		"jti":  NewCommandRef(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateAccessToken checks signature, registered claims and revocation.
func ValidateAccessToken(tokenStr string) (jwt.MapClaims, error) {
	secret, err := jwtSecret()
	if err != nil {
		return nil, err
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(tokenAudience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if jti, _ := claims["jti"].(string); jti != "" && isRevoked(jti) {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

func isRevoked(jti string) bool {
	if RedisClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := RedisClient.Exists(ctx, "ppay:revoked:"+jti).Result()
	return err == nil && n > 0
}

// RevokeJTI blacklists a token id until its natural expiry.
func RevokeJTI(jti string, ttl time.Duration) error {
	if RedisClient == nil {
		return errors.New("revocation store not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return RedisClient.Set(ctx, "ppay:revoked:"+jti, "1", ttl).Err()
}

// GetUserAddr returns the authenticated wallet address placed in the request
// context by the auth middleware.
func GetUserAddr(r *http.Request) (string, bool) {
	v := r.Context().Value(UserAddrKey)
	s, ok := v.(string)
	return s, ok && s != ""
}
