package auth

import (
	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/logger"

	"github.com/gin-gonic/gin"
)

// ActorContextKey 办理人上下文键
const ActorContextKey = "actor"

// ActorContext 已认证的办理人
type ActorContext struct {
	ActorID string
	Role    filing.Role
	Token   string
}

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "缺少认证令牌")
			return
		}
		token := ExtractTokenFromBearer(header)
		if token == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "无效的令牌格式")
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			common.AbortWithError(c, common.CodeUnauthorized, "令牌验证失败: "+err.Error())
			return
		}
		if claims.TokenType != TokenTypeAccess {
			common.AbortWithError(c, common.CodeUnauthorized, "令牌类型错误")
			return
		}

		// 角色不参与流转判定，未知角色按普通办理人处理
		role, _ := filing.ParseRole(claims.Role)
		c.Set(ActorContextKey, &ActorContext{ActorID: claims.ActorID, Role: role, Token: token})
		c.Request = c.Request.WithContext(logger.WithActorID(c.Request.Context(), claims.ActorID))

		c.Next()
	}
}

// RequireSuperuser 仅允许系统管理员
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActorContext(c)
		if !ok {
			common.AbortWithError(c, common.CodeUnauthorized, "")
			return
		}
		if !filing.IsSuperuser(actor.Role) {
			common.AbortWithError(c, common.CodeForbidden, "需要管理员权限")
			return
		}
		c.Next()
	}
}

// GetActorContext 从 Gin Context 获取办理人
func GetActorContext(c *gin.Context) (*ActorContext, bool) {
	v, exists := c.Get(ActorContextKey)
	if !exists {
		return nil, false
	}
	actor, ok := v.(*ActorContext)
	return actor, ok
}
