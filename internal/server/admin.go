package server

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 管理令牌配置
const (
	// AdminTokenTTL 管理令牌有效期
	AdminTokenTTL = 24 * time.Hour

	// Token 签名者
	tokenIssuer = "jackalopes-relay"
)

// AdminClaims 管理令牌的 JWT Claims
type AdminClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// adminSigningKey 获取签名密钥
// 优先用配置值，其次环境变量 JACKALOPES_ADMIN_SECRET，最后是开发默认值
func adminSigningKey(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	if secret := os.Getenv("JACKALOPES_ADMIN_SECRET"); secret != "" {
		return []byte(secret)
	}
	// 开发环境默认密钥，生产环境应显式配置
	return []byte("jackalopes-dev-secret-change-in-production")
}

// GenerateAdminToken 签发管理令牌
func GenerateAdminToken(secret string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(now.Add(AdminTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(adminSigningKey(secret))
}

// VerifyAdminToken 验证管理令牌
// 签名算法、签名者与 admin 声明任一不符都判失败
func VerifyAdminToken(tokenString, secret string) error {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return adminSigningKey(secret), nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		return fmt.Errorf("token parsing failed: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || !claims.Admin {
		return fmt.Errorf("invalid admin token")
	}

	return nil
}
