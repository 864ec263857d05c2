package jwt

import "github.com/golang-jwt/jwt/v5"

// CustomClaims описывает данные пользователя, хранящиеся в JWT.
type CustomClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
