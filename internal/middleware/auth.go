package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/webdav-provider/internal/auth"
)

// AuthMiddleware 认证中间件
// DAV客户端普遍只会Basic，API客户端用Bearer令牌；两者都接受
func AuthMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			challenge(c)
			return
		}

		switch {
		case strings.HasPrefix(authHeader, "Bearer "):
			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := authService.ValidateToken(token)
			if err != nil {
				challenge(c)
				return
			}
			c.Set("userID", claims.UserID)
			c.Set("username", claims.Username)

		case strings.HasPrefix(authHeader, "Basic "):
			username, password, ok := c.Request.BasicAuth()
			if !ok {
				challenge(c)
				return
			}
			user, err := authService.ValidateUser(username, password)
			if err != nil {
				challenge(c)
				return
			}
			c.Set("userID", user.ID)
			c.Set("username", user.Username)

		default:
			challenge(c)
			return
		}

		c.Next()
	}
}

func challenge(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="WebDAV"`)
	c.AbortWithStatus(http.StatusUnauthorized)
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PROPFIND, PROPPATCH, MKCOL, COPY, MOVE, LOCK, UNLOCK")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Depth, Destination, Overwrite, If, Timeout, Lock-Token")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, Last-Modified, ETag, Lock-Token")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
