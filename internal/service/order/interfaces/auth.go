package interfaces

import (
	"net/http"
	"strconv"
	"strings"

	"fooddelivery/internal/pkg/logger"
	"fooddelivery/internal/service/order/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Actor 是通过 JWT 识别出的调用者
type Actor struct {
	UserID *int64
	Role   domain.Role
}

// ActorClaims 是管理接口接受的 token 载荷，sub 为用户 id
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth 校验 HS256 签名的 Bearer token，把 Actor 写入上下文
func JWTAuth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims := &ActorClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			logger.Ctx(c.Request.Context()).Warn().Err(err).Msg("Rejected admin API token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		role := domain.Role(claims.Role)
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown_role"})
			return
		}
		// system 只属于超时清理任务，不对外签发
		if role == domain.RoleSystem {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role_not_allowed"})
			return
		}

		actor := Actor{Role: role}
		if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
			actor.UserID = &id
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(Actor)
	return actor
}

// ownsOrder 顾客只能操作和查看自己的订单，员工不受限制
func (a Actor) ownsOrder(order *domain.Order) bool {
	if a.Role != domain.RoleUser {
		return true
	}
	return a.UserID != nil && order.UserID != nil && *a.UserID == *order.UserID
}
