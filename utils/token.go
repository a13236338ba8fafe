package utils

import (
	"errors"
	"fmt"
	"time"

	"chat-service/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Tokens struct to describe tokens object.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenMetadata is the principal carried by a JWT. Otp is true while a
// second factor is still pending.
type TokenMetadata struct {
	Id  string
	Otp bool
	Exp int64
}

// GenerateTokens issues a new access and refresh token pair for id.
func GenerateTokens(id string, otp bool) (*Tokens, error) {
	accessToken, err := generateToken(id, otp, "JWT_ACCESS_EXPIRE", "JWT_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateToken(id, otp, "JWT_REFRESH_EXPIRE", "JWT_REFRESH_KEY")
	if err != nil {
		return nil, err
	}

	return &Tokens{
		Access:  accessToken,
		Refresh: refreshToken,
	}, nil
}

func generateToken(id string, otp bool, expire string, key string) (string, error) {
	minutes := config.Int(expire, 15)

	claims := jwt.MapClaims{
		"id":  id,
		"otp": otp,
		"exp": time.Now().Add(time.Minute * time.Duration(minutes)).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString([]byte(config.Config(key)))
}

// CheckAndExtractTokenMetadata validates token against the secret in the
// key env variable and returns its principal.
func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS512 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(config.Config(key)), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}

	id, _ := claims["id"].(string)
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)
	if id == "" {
		return nil, ErrInvalidToken
	}

	return &TokenMetadata{
		Id:  id,
		Otp: otp,
		Exp: int64(exp),
	}, nil
}
