package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// jwtMiddleware проверяет JWT токен в заголовке Authorization.
// Для WebSocket токен можно передать параметром access_token.
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && c.Query("access_token") != "" {
			authHeader = "Bearer " + c.Query("access_token")
		}
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Отсутствует токен авторизации",
			})
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Неверный формат токена",
			})
			return
		}

		claims, err := rs.auth.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Недействительный токен",
			})
			return
		}

		c.Set("operator", claims.Operator)
		c.Set("read_only", claims.ReadOnly)
		c.Next()
	}
}

// writeMiddleware запрещает изменяющие запросы токенам только для чтения
func (rs *RestServer) writeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		if readOnly, _ := c.Get("read_only"); readOnly == true {
			c.AbortWithStatusJSON(http.StatusForbidden, GenericResponse{
				Success: false,
				Message: "Недостаточно прав доступа",
			})
			return
		}
		c.Next()
	}
}
