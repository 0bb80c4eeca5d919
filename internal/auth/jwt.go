// Package auth 校验 Bearer 令牌并把办理人身份放入请求上下文
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// TokenTypeAccess 访问令牌
const TokenTypeAccess = "access"

// ErrTokenRevoked 令牌已被注销
var ErrTokenRevoked = errors.New("令牌已失效")

// JWTService JWT 令牌服务
type JWTService struct {
	secretKey    []byte
	issuer       string
	accessExpiry time.Duration
	redisClient  redis.UniversalClient // 黑名单，可为空
}

// NewJWTService 创建 JWT 服务，expiry 非正时取两小时
func NewJWTService(secretKey, issuer string, expiry time.Duration, redisClient redis.UniversalClient) *JWTService {
	if expiry <= 0 {
		expiry = 2 * time.Hour
	}
	return &JWTService{
		secretKey:    []byte(secretKey),
		issuer:       issuer,
		accessExpiry: expiry,
		redisClient:  redisClient,
	}
}

// TokenClaims JWT 声明
type TokenClaims struct {
	ActorID   string `json:"uid"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// GenerateToken 签发访问令牌
func (s *JWTService) GenerateToken(actorID, role string) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		ActorID:   actorID,
		Role:      role,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证并解析令牌
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	if s.IsTokenBlacklisted(ctx, tokenString) {
		return nil, ErrTokenRevoked
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(*jwt.Token) (any, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("解析令牌失败: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.ActorID == "" {
		return nil, errors.New("无效的令牌")
	}
	return claims, nil
}

// InvalidateToken 令牌加入黑名单，保留到原过期时间
func (s *JWTService) InvalidateToken(ctx context.Context, tokenString string) error {
	if s.redisClient == nil {
		return nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return fmt.Errorf("解析令牌失败: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || claims.ExpiresAt == nil {
		return errors.New("无效的令牌声明")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.redisClient.Set(ctx, blacklistKey(tokenString), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("加入黑名单失败: %w", err)
	}
	return nil
}

// IsTokenBlacklisted 是否已注销；Redis 故障时放行
func (s *JWTService) IsTokenBlacklisted(ctx context.Context, tokenString string) bool {
	if s.redisClient == nil {
		return false
	}
	n, err := s.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func blacklistKey(token string) string {
	return "efiling:blacklist:token:" + token
}

// ExtractTokenFromBearer 去掉 Bearer 前缀
func ExtractTokenFromBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
