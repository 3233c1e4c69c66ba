package service

import "github.com/golang-jwt/jwt/v5"

// 支付服务自身不签发令牌，令牌由主站以共享密钥签发，这里只做校验与取值。

// JWTClaims 管理端令牌载荷
type JWTClaims struct {
	AdminID  uint   `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserJWTClaims 用户端令牌载荷
type UserJWTClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
