package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"checkout_system/metrics"
	"checkout_system/service"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID   = "X-User-Id"   // 用户ID
	HeaderSellerID = "X-Seller-Id" // 卖家身份
	HeaderUserRole = "X-User-Role" // 用户角色
	RoleAdmin      = "admin"       // 管理员角色

	actorKey = "actor"
)

// IdentityMiddleware 用户身份中间件
// 身份由上游网关认证后写入请求头，这里只解析用户ID、卖家身份与角色并存入上下文
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderUserID)
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			slog.Warn("Missing or invalid user identity",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"user_id", raw,
			)
			// 身份缺失，返回401未授权错误
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    -1,
				"error":   "missing or invalid " + HeaderUserID + " header",
				"message": "Authentication required",
			})
			return
		}

		actor := service.Actor{
			UserID: userID,
			Admin:  c.GetHeader(HeaderUserRole) == RoleAdmin,
		}
		if rawSeller := c.GetHeader(HeaderSellerID); rawSeller != "" {
			sellerID, err := strconv.ParseInt(rawSeller, 10, 64)
			if err != nil || sellerID <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"code":    -1,
					"error":   "invalid " + HeaderSellerID + " header",
					"message": "Invalid seller identity",
				})
				return
			}
			actor.SellerID = &sellerID
		}

		// 将身份存入上下文供后续处理使用
		c.Set(actorKey, actor)
		c.Next()
	}
}

// AdminMiddleware 管理员权限验证中间件，需在 IdentityMiddleware 之后使用
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ActorFrom(c).Admin {
			slog.Warn("Admin permission required but not provided",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"client_ip", c.ClientIP(),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    -1,
				"error":   "admin permission required",
				"message": "Set " + HeaderUserRole + ": " + RoleAdmin + " for admin operations",
			})
			return
		}
		c.Next()
	}
}

// MetricsMiddleware 记录请求数与延迟，路由未匹配时按 unmatched 统计
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// ActorFrom 取出 IdentityMiddleware 写入的身份
func ActorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{}
}
