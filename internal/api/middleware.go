package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-physics/internal/auth"
)

const claimsKey = "operator_claims"

// jwtMiddleware проверяет Bearer токен оператора
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{Message: "Требуется токен авторизации"})
			return
		}

		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{Message: "Неверный формат токена"})
			return
		}

		claims, err := rs.authority.Validate(tokenString)
		if err != nil {
			rs.logger.Debug("Отклонён токен с %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{Message: "Недействительный токен"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()

		// Журнал изменений мира: кто, что и с каким результатом
		rs.logger.Info("👤 %s: %s %s -> %d", claims.Username, c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	}
}

// operatorFrom достаёт проверенные claims из контекста запроса
func operatorFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}

// adminMiddleware пропускает только администраторов; ставится после jwtMiddleware
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		op, ok := operatorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{Message: "Требуется авторизация"})
			return
		}
		if !op.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, GenericResponse{Message: "Требуются права администратора"})
			return
		}
		c.Next()
	}
}
