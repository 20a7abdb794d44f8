package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"policypal/internal/auth"
)

// AuthMiddleware is a Gin middleware for JWT authentication of API requests.
// It validates the bearer token and sets the caller's user id in the request
// context; handlers scope every operation to that id, never to an id from the
// request body or path.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := auth.ExtractBearerToken(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			c.Abort()
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		userID, err := auth.ExtractUserID(claims)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token missing user identity"})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userID", userID)

		c.Next()
	}
}

// UserID returns the authenticated caller's id set by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString("userID")
}
