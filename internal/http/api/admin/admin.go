package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/config"
	handlers "github.com/syntaxvpn/vpnpool/internal/http/api/admin/handlers"
	"github.com/syntaxvpn/vpnpool/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers the health check and the operator API.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, reports handlers.Reports, loads handlers.Loads) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	if reports == nil {
		return
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(jwtCfg))

	reportHandler := handlers.NewReportHandler(reports, loads)
	authed.GET("/stats", reportHandler.Stats)
	authed.GET("/users", reportHandler.Users)
	authed.GET("/pool", reportHandler.Pool)
	authed.GET("/connections", reportHandler.Connections)
	authed.GET("/servers", reportHandler.Servers)
}

// adminAuthMiddleware validates the bearer token of operator requests.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(jwtCfg.Secret) == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin api disabled"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminName", claims.Name)
		c.Next()
	}
}
