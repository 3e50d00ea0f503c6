package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pai-context-go/pkg/log"
	"pai-context-go/pkg/token"
)

// AuthHandler 负责签发项目 token。
type AuthHandler struct {
	jwtManager *token.JWTManager
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(jwtManager *token.JWTManager) *AuthHandler {
	return &AuthHandler{jwtManager: jwtManager}
}

// IssueTokenRequest 定义了签发 token API 的请求体结构。
type IssueTokenRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
}

// IssueToken 为指定项目签发 access token，必须挂在 AdminKeyMiddleware 之后。
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：projectId 不能为空"})
		return
	}

	accessToken, err := h.jwtManager.GenerateToken(req.ProjectID)
	if err != nil {
		log.Errorf("[AuthHandler] 签发 token 失败, project: %s, error: %v", req.ProjectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
		return
	}

	log.Infof("[AuthHandler] 已签发 token, project: %s", req.ProjectID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"token": accessToken},
	})
}

// Healthz 存活探针。
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
