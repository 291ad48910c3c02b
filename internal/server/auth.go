package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sheikh-saqib/rebase-ledger-system/internal/logger"
)

const (
	callerKey    = "caller"
	bearerPrefix = "Bearer "
)

type JWTConfig struct {
	Secret string
	Issuer string
}

var errInvalidToken = errors.New("invalid token")

// IssueToken signs an HS256 token whose subject is the caller identity.
func IssueToken(cfg JWTConfig, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

func parseToken(cfg JWTConfig, tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// JWTAuth rejects requests without a valid bearer token and stores the token
// subject as the caller identity.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		caller, err := parseToken(cfg, strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			abortUnauthorized(c, msg)
			return
		}

		ctx, _ := logger.WithCaller(c.Request.Context(), logger.FromContext(c.Request.Context()), caller)
		c.Request = c.Request.WithContext(ctx)
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) string {
	return c.GetString(callerKey)
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
		Success: false,
		Error:   errorBody{Code: "UNAUTHENTICATED", Message: message},
	})
}
