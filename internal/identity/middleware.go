package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxOperatorClaims = "clinledger_operator_claims"

// RequireRole returns a Gin middleware that enforces a valid Bearer operator
// token whose role grants at least min.
func RequireRole(tokens *TokenIssuer, min Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer operator token required",
				"code":  "UNAUTHENTICATED",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid operator token: " + err.Error(),
				"code":  "UNAUTHENTICATED",
			})
			return
		}
		if !claims.Role.Allows(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "role " + string(claims.Role) + " may not perform this action",
				"code":  "FORBIDDEN",
			})
			return
		}

		c.Set(ctxOperatorClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the operator claims injected by RequireRole.
// Returns nil if no token was verified for this request.
func ClaimsFromCtx(c *gin.Context) *OperatorClaims {
	v, _ := c.Get(ctxOperatorClaims)
	claims, _ := v.(*OperatorClaims)
	return claims
}
