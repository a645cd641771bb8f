package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/gene9831/one-app-api/internal/server/response"
	"github.com/gene9831/one-app-api/pkg/auth"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// AuthController handles admin login and logout.
type AuthController struct {
	jwt *auth.JWTManager
	log *logger.Logger
}

// NewAuthController creates an auth controller.
func NewAuthController(jwt *auth.JWTManager, log *logger.Logger) *AuthController {
	return &AuthController{jwt: jwt, log: log}
}

// RegisterRoutes registers the auth routes.
func (ac *AuthController) RegisterRoutes(api, admin *gin.RouterGroup) {
	api.POST("/admin/login", ac.login)
	admin.POST("/logout", ac.logout)
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (ac *AuthController) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "password is required")
		return
	}

	token, err := ac.jwt.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			response.Unauthorized(c, "bad credentials")
			return
		}
		response.InternalError(c, "login failed")
		return
	}

	response.Success(c, gin.H{"token": token}, nil)
}

func (ac *AuthController) logout(c *gin.Context) {
	if tokenID := c.GetString("token_id"); tokenID != "" {
		ac.jwt.RevokeToken(tokenID)
	}
	response.Success(c, gin.H{"logged_out": true}, nil)
}
