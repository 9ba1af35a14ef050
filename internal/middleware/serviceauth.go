package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/services"
)

type ServiceAuthMiddleware struct {
	log      *logger.Logger
	verifier services.ServiceTokenVerifier
}

func NewServiceAuthMiddleware(log *logger.Logger, verifier services.ServiceTokenVerifier) *ServiceAuthMiddleware {
	return &ServiceAuthMiddleware{
		log:      log.With("middleware", "ServiceAuthMiddleware"),
		verifier: verifier,
	}
}

// RequireServiceIdentity guards the push endpoints: only requests carrying the
// queue's (or event delivery's) OIDC identity token get through.
func (sm *ServiceAuthMiddleware) RequireServiceIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity token"})
			return
		}
		if err := sm.verifier.VerifyServiceToken(c.Request.Context(), token); err != nil {
			sm.log.Warn("Rejected push request", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}
