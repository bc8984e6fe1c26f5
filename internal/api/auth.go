package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"expertgate/internal/apperr"
	"expertgate/internal/models"
)

const actorKey = "actor"

// UserStore resolves a token subject to the account behind it.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// IssueToken signs an HS256 token for subject. Tokens carry no role; the role is
// looked up server-side on every request.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.StandardClaims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Issuer:    "expertgate",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthMiddleware handles JWT authentication and stores the resolved actor on the context
func AuthMiddleware(secret string, users UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			respondError(c, apperr.Unauthenticated("authorization header required"))
			c.Abort()
			return
		}

		claims := &jwt.StandardClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			respondError(c, apperr.Unauthenticated("invalid token"))
			c.Abort()
			return
		}

		user, err := users.GetUser(c.Request.Context(), claims.Subject)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				err = apperr.Unauthenticated("unknown user %s", claims.Subject)
			}
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(actorKey, user.Actor())
		c.Next()
	}
}

// bearerToken reads the Authorization header, or the access_token query parameter
// browsers use for websocket upgrades.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("access_token")
}

func actorFrom(c *gin.Context) models.Actor {
	actor, _ := c.MustGet(actorKey).(models.Actor)
	return actor
}
